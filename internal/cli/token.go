package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/poolbet/internal/auth"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("subject", "", "Account ID the token acts for (required)")
	tokenCmd.Flags().String("role", auth.RoleBettor, "Token role: bettor or admin")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("subject")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with auth.jwt_secret",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set")
	}

	subject, _ := cmd.Flags().GetString("subject")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if role != auth.RoleBettor && role != auth.RoleAdmin {
		return fmt.Errorf("unknown role %q (valid: %s, %s)", role, auth.RoleBettor, auth.RoleAdmin)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL.Duration
	}

	signer := auth.JWT{
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: ttl,
		Issuer:   cfg.Auth.Issuer,
	}
	token, expiresAt, err := signer.Sign(auth.Claims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token)
	fmt.Fprintf(out, "# subject=%s role=%s expires=%s\n", subject, role, expiresAt.Format(time.RFC3339))
	return nil
}
