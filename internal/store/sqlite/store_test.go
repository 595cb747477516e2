package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/pool"
	"github.com/alanyoungcy/poolbet/internal/store/sqlite"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateEvent(ctx, domain.Event{
		ID:        "ev-1",
		Title:     "Will it rain?",
		ExpiresAt: t0.Add(24 * time.Hour),
		Status:    domain.EventStatusActive,
		CreatedAt: t0,
		Options: []domain.Option{
			{ID: "yes", Label: "Yes", Position: 0},
			{ID: "no", Label: "No", Position: 1},
		},
	}))
	for _, a := range []domain.Account{
		{ID: "alice", Balance: d("1000"), CreatedAt: t0},
		{ID: "bob", Balance: d("1000"), CreatedAt: t0},
		{ID: "house", Unlimited: true, CreatedAt: t0},
	} {
		require.NoError(t, s.CreateAccount(ctx, a))
	}
}

func commit(s *sqlite.Store, id, account, option, amount string, version int64) error {
	amt := d(amount)
	at := t0.Add(time.Minute)
	return s.CommitStake(context.Background(), domain.StakeCommit{
		Stake: domain.Stake{
			ID: id, EventID: "ev-1", OptionID: option, AccountID: account,
			Amount: amt, PlacedAt: at, Status: domain.StakeStatusActive, ClientRef: "ref-" + id,
		},
		ExpectedVersion: version,
		Ledger: domain.LedgerEntry{
			ID: "led-" + id, AccountID: account, EventID: "ev-1", StakeID: id,
			Kind: domain.LedgerStakePlaced, Amount: amt.Neg(), CreatedAt: at,
		},
	})
}

func TestCreateAndGetEvent(t *testing.T) {
	s := openStore(t)
	seed(t, s)

	ev, err := s.GetEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", ev.Title)
	assert.Equal(t, domain.EventStatusActive, ev.Status)
	assert.True(t, ev.ExpiresAt.Equal(t0.Add(24*time.Hour)))
	require.Len(t, ev.Options, 2)
	assert.Equal(t, "yes", ev.Options[0].ID)
	assert.True(t, ev.TotalPool.IsZero())
	assert.Nil(t, ev.WinningOptionID)

	_, err = s.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.CreateEvent(context.Background(), domain.Event{ID: "ev-1", Status: domain.EventStatusActive, CreatedAt: t0, ExpiresAt: t0})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateAccount_DepositLedger(t *testing.T) {
	s := openStore(t)
	seed(t, s)

	entries, err := s.ListLedger(context.Background(), "alice", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerDeposit, entries[0].Kind)
	assert.True(t, entries[0].Amount.Equal(d("1000")))

	entries, err = s.ListLedger(context.Background(), "house", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommitStake_UpdatesAggregates(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, commit(s, "s1", "alice", "yes", "60.50", 0))
	require.NoError(t, commit(s, "s2", "bob", "no", "40", 1))

	ev, err := s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, ev.TotalPool.Equal(d("100.50")))
	assert.Equal(t, int64(2), ev.Version)
	assert.Equal(t, int64(2), ev.ParticipantCount)
	assert.True(t, ev.Conserved())

	alice, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(d("939.50")))
	assert.True(t, alice.TotalStaked.Equal(d("60.50")))

	st, err := s.GetStakeByClientRef(ctx, "alice", "ref-s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", st.ID)
	assert.Equal(t, domain.StakeStatusActive, st.Status)
	assert.Nil(t, st.Payout)

	stakes, err := s.ListStakes(ctx, "ev-1", domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, stakes, 1)
}

func TestCommitStake_Rejections(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, commit(s, "s1", "alice", "yes", "10", 0))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"stale version", commit(s, "s2", "bob", "no", "10", 0), domain.ErrConflict},
		{"unknown option", commit(s, "s3", "bob", "maybe", "10", 1), domain.ErrInvalidOption},
		{"overdraw", commit(s, "s4", "bob", "no", "1000.01", 1), domain.ErrInsufficientBalance},
		{"unknown account", commit(s, "s5", "carol", "no", "10", 1), domain.ErrNotFound},
		{"reused client ref", s.CommitStake(ctx, domain.StakeCommit{
			Stake: domain.Stake{
				ID: "s6", EventID: "ev-1", OptionID: "yes", AccountID: "alice",
				Amount: d("5"), PlacedAt: t0, ClientRef: "ref-s1",
			},
			ExpectedVersion: 1,
			Ledger:          domain.LedgerEntry{ID: "led-s6", AccountID: "alice", Kind: domain.LedgerStakePlaced, Amount: d("-5"), CreatedAt: t0},
		}), domain.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}

	// Every rejected commit rolled back.
	ev, err := s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, ev.TotalPool.Equal(d("10")))
	assert.Equal(t, int64(1), ev.Version)
	assert.True(t, ev.Conserved())
	bob, err := s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Balance.Equal(d("1000")))
}

func TestCommitStake_ClosedEvent(t *testing.T) {
	s := openStore(t)
	seed(t, s)

	late := d("10")
	err := s.CommitStake(context.Background(), domain.StakeCommit{
		Stake: domain.Stake{
			ID: "late", EventID: "ev-1", OptionID: "yes", AccountID: "alice",
			Amount: late, PlacedAt: t0.Add(24 * time.Hour),
		},
		Ledger: domain.LedgerEntry{ID: "led-late", AccountID: "alice", Kind: domain.LedgerStakePlaced, Amount: late.Neg(), CreatedAt: t0},
	})
	assert.ErrorIs(t, err, domain.ErrEventClosed)
}

func TestCommitStake_UnlimitedAccountGoesNegative(t *testing.T) {
	s := openStore(t)
	seed(t, s)

	require.NoError(t, commit(s, "s1", "house", "yes", "5000", 0))
	house, err := s.GetAccount(context.Background(), "house")
	require.NoError(t, err)
	assert.True(t, house.Balance.Equal(d("-5000")))
}

func settler() pool.Settler {
	n := 0
	return pool.Settler{
		HouseAccountID: "house",
		NewID: func() string {
			n++
			return fmt.Sprintf("settle-%d", n)
		},
		Now: func() time.Time { return t0.Add(48 * time.Hour) },
	}
}

func TestSettleEvent(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, commit(s, "s1", "alice", "yes", "700", 0))
	require.NoError(t, commit(s, "s2", "bob", "no", "300", 1))

	plan, err := s.SettleEvent(ctx, "ev-1", settler().Planner("yes"))
	require.NoError(t, err)
	assert.True(t, plan.Report.HouseCut.Equal(d("45")))
	assert.True(t, plan.Report.TotalPaid.Equal(d("955")))

	ev, err := s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusResolved, ev.Status)
	require.NotNil(t, ev.WinningOptionID)
	assert.Equal(t, "yes", *ev.WinningOptionID)
	require.NotNil(t, ev.ResolvedAt)

	won, err := s.GetStake(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StakeStatusWon, won.Status)
	require.NotNil(t, won.Payout)
	assert.True(t, won.Payout.Equal(d("955")))
	lost, err := s.GetStake(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, domain.StakeStatusLost, lost.Status)

	alice, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(d("1255")))
	assert.True(t, alice.TotalWinnings.Equal(d("955")))
	house, err := s.GetAccount(ctx, "house")
	require.NoError(t, err)
	assert.True(t, house.Balance.Equal(d("45")))

	// Ledger for the event balances to zero: stakes out, payouts and cut back in.
	entries, err := s.ListEventLedger(ctx, "ev-1")
	require.NoError(t, err)
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	assert.True(t, sum.IsZero(), "ledger sum %s", sum)

	report, err := s.GetSettlement(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "yes", report.WinningOptionID)
	assert.Len(t, report.Payouts, 2)

	since := t0
	reports, err := s.ListSettlements(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestSettleEvent_Twice(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, commit(s, "s1", "alice", "yes", "50", 0))

	_, err := s.SettleEvent(ctx, "ev-1", settler().Planner("yes"))
	require.NoError(t, err)
	_, err = s.SettleEvent(ctx, "ev-1", settler().Planner("yes"))
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	alice, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(d("1000")), "refund is paid exactly once")
}

func TestSettleEvent_PlannerErrorRollsBack(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, commit(s, "s1", "alice", "yes", "50", 0))

	boom := errors.New("boom")
	_, err := s.SettleEvent(ctx, "ev-1", func(domain.Event, []domain.Stake) (domain.SettlementPlan, error) {
		return domain.SettlementPlan{}, boom
	})
	assert.ErrorIs(t, err, boom)

	ev, err := s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusActive, ev.Status)
	_, err = s.GetSettlement(ctx, "ev-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListEvents_Filters(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateEvent(ctx, domain.Event{
		ID: "ev-2", Title: "Later", ExpiresAt: t0.Add(72 * time.Hour),
		Status: domain.EventStatusActive, CreatedAt: t0.Add(time.Hour),
		Options: []domain.Option{{ID: "ev2-a", Label: "A"}, {ID: "ev2-b", Label: "B", Position: 1}},
	}))

	all, err := s.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ev-2", all[0].ID, "newest first")
	assert.Len(t, all[1].Options, 2)

	cutoff := t0.Add(48 * time.Hour)
	expired, err := s.ListEvents(ctx, domain.EventFilter{Status: domain.EventStatusActive, ExpiredAt: &cutoff})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "ev-1", expired[0].ID)
}

func TestAuditLog(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Log(ctx, "event_settled", map[string]any{"event_id": "ev-1"}))
	require.NoError(t, s.Log(ctx, "settlements_archived", map[string]any{"count": 3}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "settlements_archived", entries[0].Event)
	assert.Equal(t, float64(3), entries[0].Detail["count"])
	assert.Equal(t, "ev-1", entries[1].Detail["event_id"])
}
