package pool

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

type placed struct {
	option  string
	account string
	amount  string
}

// resolvable builds an active event and the matching active stakes.
func resolvable(stakes ...placed) (domain.Event, []domain.Stake) {
	totals := map[string]decimal.Decimal{"a": decimal.Zero, "b": decimal.Zero, "c": decimal.Zero}
	var out []domain.Stake
	for i, p := range stakes {
		amt := d(p.amount)
		totals[p.option] = totals[p.option].Add(amt)
		out = append(out, domain.Stake{
			ID:        fmt.Sprintf("st-%d", i+1),
			EventID:   "ev-1",
			OptionID:  p.option,
			AccountID: p.account,
			Amount:    amt,
			Status:    domain.StakeStatusActive,
		})
	}
	ev := domain.Event{ID: "ev-1", Status: domain.EventStatusActive, TotalPool: decimal.Zero, Version: 7}
	for _, id := range []string{"a", "b", "c"} {
		ev.Options = append(ev.Options, domain.Option{ID: id, EventID: "ev-1", TotalStaked: totals[id]})
		ev.TotalPool = ev.TotalPool.Add(totals[id])
	}
	return ev, out
}

func testSettler() Settler {
	n := 0
	return Settler{
		HouseAccountID: "house",
		NewID: func() string {
			n++
			return fmt.Sprintf("led-%d", n)
		},
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func creditsTo(plan domain.SettlementPlan, account string) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range plan.Credits {
		if c.AccountID == account {
			sum = sum.Add(c.Amount)
		}
	}
	return sum
}

func TestPlan_WorkedExample(t *testing.T) {
	// A = 700 from a single bettor, B = 300. A wins.
	ev, stakes := resolvable(
		placed{"a", "alice", "700"},
		placed{"b", "bob", "300"},
	)

	plan, err := testSettler().Plan(ev, stakes, "a")
	require.NoError(t, err)
	r := plan.Report

	assertDec(t, "1000", r.TotalPool)
	assertDec(t, "700", r.WinningPool)
	assertDec(t, "300", r.LosingPool)
	assertDec(t, "45", r.HouseCut)
	assertDec(t, "955", r.TotalPaid)
	assertDec(t, "0", r.Residual)
	assertDec(t, "955", *r.Payouts[0].Payout)
	assert.Nil(t, r.Payouts[1].Payout)
	assert.Equal(t, 1, r.WinnerCount)
	assert.Equal(t, 1, r.LoserCount)

	assert.True(t, r.HouseCut.Add(r.TotalPaid).LessThanOrEqual(r.TotalPool))
	assertDec(t, "955", creditsTo(plan, "alice"))
	assertDec(t, "45", creditsTo(plan, "house"))
	assertDec(t, "0", creditsTo(plan, "bob"))
	assert.Equal(t, int64(7), plan.ExpectedVersion)
}

func TestPlan_ProportionalAcrossWinners(t *testing.T) {
	ev, stakes := resolvable(
		placed{"a", "alice", "300"},
		placed{"a", "carol", "100"},
		placed{"b", "bob", "200"},
		placed{"c", "dave", "100"},
	)

	plan, err := testSettler().Plan(ev, stakes, "a")
	require.NoError(t, err)

	assertDec(t, "45", plan.Report.HouseCut)
	assertDec(t, "491.25", creditsTo(plan, "alice"))
	assertDec(t, "163.75", creditsTo(plan, "carol"))
	assertDec(t, "655", plan.Report.TotalPaid)
	assertDec(t, "0", plan.Report.Residual)
	assert.Equal(t, 2, plan.Report.LoserCount)
}

func TestPlan_RoundingDustGoesToHouse(t *testing.T) {
	ev, stakes := resolvable(
		placed{"a", "u1", "100"},
		placed{"a", "u2", "100"},
		placed{"a", "u3", "100"},
		placed{"b", "u4", "100"},
	)

	plan, err := testSettler().Plan(ev, stakes, "a")
	require.NoError(t, err)

	// 100 + 100/300 * 100 * 0.85 = 128.333.. truncated to 128.33
	assertDec(t, "128.33", creditsTo(plan, "u1"))
	assertDec(t, "384.99", plan.Report.TotalPaid)
	assertDec(t, "15", plan.Report.HouseCut)
	assertDec(t, "0.01", plan.Report.Residual)
	assertDec(t, "15.01", creditsTo(plan, "house"))
}

func TestPlan_NoWinningStakes(t *testing.T) {
	ev, stakes := resolvable(
		placed{"b", "bob", "200"},
		placed{"c", "dave", "300"},
	)

	plan, err := testSettler().Plan(ev, stakes, "a")
	require.NoError(t, err)

	// The whole pool is losing, so the cut is exactly 15% of it.
	assertDec(t, "75", plan.Report.HouseCut)
	assert.True(t, plan.Report.HouseCut.Equal(ev.TotalPool.Mul(HouseEdge).Round(CurrencyPlaces)))
	assertDec(t, "425", plan.Report.Residual)
	assertDec(t, "500", creditsTo(plan, "house"))
	assert.Equal(t, 0, plan.Report.WinnerCount)

	var kinds []domain.LedgerKind
	for _, le := range plan.Ledger {
		kinds = append(kinds, le.Kind)
	}
	assert.Contains(t, kinds, domain.LedgerHouseCut)
	assert.Contains(t, kinds, domain.LedgerUnclaimedPool)
}

func TestPlan_EveryoneOnWinnerIsRefunded(t *testing.T) {
	ev, stakes := resolvable(
		placed{"a", "alice", "200"},
		placed{"a", "carol", "300"},
	)

	plan, err := testSettler().Plan(ev, stakes, "a")
	require.NoError(t, err)

	assertDec(t, "0", plan.Report.HouseCut)
	assertDec(t, "200", creditsTo(plan, "alice"))
	assertDec(t, "300", creditsTo(plan, "carol"))
	assertDec(t, "0", creditsTo(plan, "house"))
}

func TestPlan_Errors(t *testing.T) {
	ev, stakes := resolvable(placed{"a", "alice", "100"}, placed{"b", "bob", "100"})

	_, err := testSettler().Plan(ev, stakes, "z")
	assert.ErrorIs(t, err, domain.ErrInvalidOption)

	resolved := ev
	resolved.Status = domain.EventStatusResolved
	_, err = testSettler().Plan(resolved, stakes, "a")
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	closed := ev
	closed.Status = domain.EventStatusClosed
	_, err = testSettler().Plan(closed, stakes, "a")
	assert.ErrorIs(t, err, domain.ErrNotActive)

	_, err = Settler{}.Plan(ev, stakes, "a")
	assert.Error(t, err)
}

func TestPlan_CorruptPoolIsInvariantViolation(t *testing.T) {
	ev, stakes := resolvable(placed{"a", "alice", "100"}, placed{"b", "bob", "100"})

	drifted := ev
	drifted.TotalPool = d("250")
	_, err := testSettler().Plan(drifted, stakes, "a")
	assert.ErrorIs(t, err, domain.ErrSettlementInvariantViolation)

	_, err = testSettler().Plan(ev, stakes[:1], "a")
	assert.ErrorIs(t, err, domain.ErrSettlementInvariantViolation)
}

func TestCheckBounded(t *testing.T) {
	ok := domain.SettlementReport{TotalPool: d("100"), HouseCut: d("10"), TotalPaid: d("90"), Residual: d("0")}
	assert.NoError(t, CheckBounded(ok))

	over := domain.SettlementReport{TotalPool: d("100"), HouseCut: d("15"), TotalPaid: d("95"), Residual: d("-10")}
	assert.ErrorIs(t, CheckBounded(over), domain.ErrSettlementInvariantViolation)

	unbalanced := domain.SettlementReport{TotalPool: d("100"), HouseCut: d("10"), TotalPaid: d("80"), Residual: d("5")}
	assert.ErrorIs(t, CheckBounded(unbalanced), domain.ErrSettlementInvariantViolation)
}

func TestPlan_RandomPoolsStayBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	options := []string{"a", "b", "c"}

	for round := 0; round < 200; round++ {
		var ps []placed
		n := 1 + rng.Intn(25)
		for i := 0; i < n; i++ {
			cents := 1 + rng.Int63n(50_000)
			ps = append(ps, placed{
				option:  options[rng.Intn(len(options))],
				account: fmt.Sprintf("u%d", i),
				amount:  decimal.New(cents, -2).String(),
			})
		}
		ev, stakes := resolvable(ps...)
		winner := options[rng.Intn(len(options))]

		plan, err := testSettler().Plan(ev, stakes, winner)
		require.NoError(t, err, "round %d", round)

		r := plan.Report
		assert.True(t, r.HouseCut.Add(r.TotalPaid).LessThanOrEqual(r.TotalPool), "round %d", round)
		assert.False(t, r.Residual.IsNegative(), "round %d", round)

		credited := decimal.Zero
		for _, c := range plan.Credits {
			credited = credited.Add(c.Amount)
		}
		assert.True(t, credited.Equal(r.TotalPool), "round %d: credited %s pool %s", round, credited, r.TotalPool)
		assert.Len(t, plan.Results, len(stakes))
	}
}
