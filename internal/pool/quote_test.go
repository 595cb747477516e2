package pool

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

// snapshot builds an active event whose options hold the given totals.
func snapshot(totals map[string]string) domain.Event {
	ev := domain.Event{
		ID:        "ev-1",
		Status:    domain.EventStatusActive,
		ExpiresAt: time.Now().Add(time.Hour),
		TotalPool: decimal.Zero,
	}
	for _, id := range []string{"a", "b", "c"} {
		amt, ok := totals[id]
		if !ok {
			continue
		}
		ev.Options = append(ev.Options, domain.Option{ID: id, EventID: ev.ID, Label: id, TotalStaked: d(amt)})
		ev.TotalPool = ev.TotalPool.Add(d(amt))
	}
	return ev
}

func TestMaxStake(t *testing.T) {
	assertDec(t, "100", MaxStake(decimal.Zero))
	assertDec(t, "100", MaxStake(d("400")))
	assertDec(t, "200", MaxStake(d("1000")))
	assertDec(t, "2000.5", MaxStake(d("10002.5")))
}

func TestQuote_FirstStakeIsRefundOnly(t *testing.T) {
	ev := snapshot(map[string]string{"a": "0", "b": "0"})

	q, err := Quote(ev, "a", d("50"), false)
	require.NoError(t, err)

	assertDec(t, "50", q.Return)
	assertDec(t, "0", q.Profit)
	assertDec(t, "1", q.EffectiveOdds)
	assertDec(t, "100", q.ImpliedProbability)
	assertDec(t, "100", q.MaxStake)
	assertDec(t, "100", q.PoolShare)
}

func TestQuote_ZeroOppositionOddsExactlyOne(t *testing.T) {
	ev := snapshot(map[string]string{"a": "500", "b": "0"})

	q, err := Quote(ev, "a", d("100"), false)
	require.NoError(t, err)
	assert.True(t, q.EffectiveOdds.Equal(decimal.NewFromInt(1)))
	assertDec(t, "100", q.Return)
}

func TestQuote_ProportionalShare(t *testing.T) {
	ev := snapshot(map[string]string{"a": "700", "b": "300"})

	// newOption = 400, other = 700: 100 + 100/400 * 700 * 0.85 = 248.75
	q, err := Quote(ev, "b", d("100"), false)
	require.NoError(t, err)

	assertDec(t, "248.75", q.Return)
	assertDec(t, "148.75", q.Profit)
	assertDec(t, "2.49", q.EffectiveOdds)
	assertDec(t, "40.2", q.ImpliedProbability)
	assertDec(t, "25", q.PoolShare)
	assertDec(t, "200", q.MaxStake)
}

func TestQuote_MatchesSettlementWhenPoolStops(t *testing.T) {
	ev := snapshot(map[string]string{"a": "700", "b": "300"})
	q, err := Quote(ev, "b", d("100"), false)
	require.NoError(t, err)

	// The same stake settled on the final pool pays what was quoted.
	paid := Return(d("100"), d("400"), d("700")).Truncate(CurrencyPlaces)
	assert.True(t, q.Return.Equal(paid))
}

func TestQuote_Errors(t *testing.T) {
	ev := snapshot(map[string]string{"a": "700", "b": "300"})

	tests := []struct {
		name      string
		option    string
		amount    string
		unlimited bool
		wantErr   error
	}{
		{"unknown option", "z", "10", false, domain.ErrInvalidOption},
		{"zero amount", "a", "0", false, domain.ErrInvalidAmount},
		{"negative amount", "a", "-5", false, domain.ErrInvalidAmount},
		{"sub-cent amount", "a", "10.001", false, domain.ErrInvalidAmount},
		{"above cap", "a", "200.01", false, domain.ErrStakeTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Quote(ev, tt.option, d(tt.amount), tt.unlimited)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQuote_UnlimitedSkipsCap(t *testing.T) {
	ev := snapshot(map[string]string{"a": "0", "b": "0"})

	_, err := Quote(ev, "a", d("5000"), false)
	assert.ErrorIs(t, err, domain.ErrStakeTooLarge)

	q, err := Quote(ev, "a", d("5000"), true)
	require.NoError(t, err)
	assertDec(t, "5000", q.Return)
}

func TestQuote_OddsNeverBelowOne(t *testing.T) {
	ev := snapshot(map[string]string{"a": "100000", "b": "1"})
	q, err := Quote(ev, "a", d("0.01"), false)
	require.NoError(t, err)
	assert.True(t, q.EffectiveOdds.GreaterThanOrEqual(decimal.NewFromInt(1)))
	assert.True(t, q.Return.GreaterThanOrEqual(q.Stake))
}
