package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolbet/internal/auth"
	"github.com/alanyoungcy/poolbet/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poolbet.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	cfgPath := writeConfig(t, "[auth]\njwt_secret = \"cli-secret\"\n")

	out, err := execute(t, "token", "-c", cfgPath, "--subject", "alice", "--role", "admin", "--ttl", "1h")
	require.NoError(t, err)

	token := strings.SplitN(out, "\n", 2)[0]
	claims, err := auth.JWT{Secret: []byte("cli-secret")}.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.True(t, claims.IsAdmin())
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	cfgPath := writeConfig(t, "[auth]\njwt_secret = \"cli-secret\"\n")

	_, err := execute(t, "token", "-c", cfgPath, "--subject", "alice", "--role", "root", "--ttl", "1h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestReportCommandUnsettledEvent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "poolbet.db")
	cfgPath := writeConfig(t, "[store]\ndriver = \"sqlite\"\nsqlite_path = \""+filepath.ToSlash(dbPath)+"\"\n")

	_, err := execute(t, "report", "-c", cfgPath, "--archived", "", "missing-event")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no settlement")
}

func TestPrintReport(t *testing.T) {
	payout := decimal.RequireFromString("135")
	report := domain.SettlementReport{
		EventID:         "ev-1",
		WinningOptionID: "opt-no",
		TotalPool:       decimal.RequireFromString("200"),
		WinningPool:     decimal.RequireFromString("100"),
		LosingPool:      decimal.RequireFromString("100"),
		HouseCut:        decimal.RequireFromString("15"),
		Distributable:   decimal.RequireFromString("85"),
		TotalPaid:       decimal.RequireFromString("135"),
		Residual:        decimal.Zero,
		WinnerCount:     1,
		LoserCount:      1,
		Payouts: []domain.StakePayout{
			{StakeID: "s-1", AccountID: "bob", OptionID: "opt-no", Amount: decimal.RequireFromString("100"), Status: domain.StakeStatusWon, Payout: &payout},
			{StakeID: "s-2", AccountID: "alice", OptionID: "opt-yes", Amount: decimal.RequireFromString("100"), Status: domain.StakeStatusLost},
		},
		SettledAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	var out bytes.Buffer
	printReport(&out, report)

	text := out.String()
	assert.Contains(t, text, "Event ev-1 settled 2026-03-01 12:00:00Z")
	assert.Contains(t, text, "Winning option: opt-no")
	assert.Contains(t, text, "135.00")
	assert.Contains(t, text, "15.00")
	assert.Contains(t, text, "1 winning, 1 losing stakes")
	assert.Contains(t, text, "bob")
	assert.Contains(t, text, "alice")
}
