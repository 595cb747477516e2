// Package cli implements the poolbet command line: the server entry point and
// a handful of operator tools.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/poolbet/internal/config"
)

const defaultConfigPath = "config.toml"

var rootCmd = &cobra.Command{
	Use:   "poolbet",
	Short: "Pari-mutuel pool engine",
	Long: `poolbet runs a pari-mutuel pool: bettors stake on the options of an
event, and when the organizer settles the event the losing pool, less the
house cut, is shared among the winners in proportion to their stakes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the TOML configuration file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// loadConfig reads the --config file. A missing default file is not an error:
// defaults and POOLBET_* variables still apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// newLogger builds the structured JSON logger at the configured level.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
