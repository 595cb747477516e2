package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/poolbet/internal/app"
	s3blob "github.com/alanyoungcy/poolbet/internal/blob/s3"
	"github.com/alanyoungcy/poolbet/internal/config"
	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/pool"
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("archived", "", "Read the report from S3: an archive object (.jsonl) or a month (YYYY-MM) to search")
	reportCmd.Flags().Bool("json", false, "Print the report as JSON")
}

var reportCmd = &cobra.Command{
	Use:   "report EVENT_ID",
	Short: "Print the settlement report of an event",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	eventID := args[0]
	archived, _ := cmd.Flags().GetString("archived")

	var report domain.SettlementReport
	if archived != "" {
		report, err = archivedReport(cmd.Context(), cfg, archived, eventID)
	} else {
		report, err = storedReport(cmd.Context(), cfg, eventID)
	}
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func storedReport(ctx context.Context, cfg *config.Config, eventID string) (domain.SettlementReport, error) {
	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	defer st.Close()

	report, err := st.Store.GetSettlement(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return report, fmt.Errorf("event %s has no settlement", eventID)
	}
	return report, err
}

func archivedReport(ctx context.Context, cfg *config.Config, location, eventID string) (domain.SettlementReport, error) {
	client, err := app.NewS3Client(ctx, cfg)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	rec, err := s3blob.FindSettlement(ctx, s3blob.NewReader(client), location, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SettlementReport{}, fmt.Errorf("event %s not found in archive %s", eventID, location)
	}
	if err != nil {
		return domain.SettlementReport{}, err
	}
	return rec.Report, nil
}

func printReport(out io.Writer, r domain.SettlementReport) {
	fmt.Fprintf(out, "Event %s settled %s\n", r.EventID, r.SettledAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(out, "Winning option: %s\n\n", r.WinningOptionID)

	summary := tablewriter.NewWriter(out)
	summary.Header("Total pool", "Winning pool", "Losing pool", "House cut", "Distributable", "Paid", "Residual")
	summary.Append(
		r.TotalPool.StringFixed(pool.CurrencyPlaces),
		r.WinningPool.StringFixed(pool.CurrencyPlaces),
		r.LosingPool.StringFixed(pool.CurrencyPlaces),
		r.HouseCut.StringFixed(pool.CurrencyPlaces),
		r.Distributable.StringFixed(pool.CurrencyPlaces),
		r.TotalPaid.StringFixed(pool.CurrencyPlaces),
		r.Residual.StringFixed(pool.CurrencyPlaces),
	)
	summary.Render()

	fmt.Fprintf(out, "\n%d winning, %d losing stakes\n", r.WinnerCount, r.LoserCount)
	if len(r.Payouts) == 0 {
		return
	}

	payouts := tablewriter.NewWriter(out)
	payouts.Header("Stake", "Account", "Option", "Amount", "Status", "Payout")
	for _, p := range r.Payouts {
		payout := "-"
		if p.Payout != nil {
			payout = p.Payout.StringFixed(pool.CurrencyPlaces)
		}
		payouts.Append(
			p.StakeID,
			p.AccountID,
			p.OptionID,
			p.Amount.StringFixed(pool.CurrencyPlaces),
			string(p.Status),
			payout,
		)
	}
	payouts.Render()
}
