package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// Settler builds settlement plans. HouseAccountID receives the house cut and
// any residual; NewID and Now default to uuid.NewString and time.Now.
type Settler struct {
	HouseAccountID string
	NewID          func() string
	Now            func() time.Time
}

// Planner returns a domain.SettlementPlanner bound to winningOptionID, ready
// to hand to PoolStore.SettleEvent.
func (s Settler) Planner(winningOptionID string) domain.SettlementPlanner {
	return func(ev domain.Event, stakes []domain.Stake) (domain.SettlementPlan, error) {
		return s.Plan(ev, stakes, winningOptionID)
	}
}

// Plan resolves ev in favour of winningOptionID.
//
// The edge is taken from the losing pool L: houseCut = round(L*h) and every
// winning stake a on a winning pool W is paid a + a/W*L*(1-h), truncated to
// cents. Before rounding houseCut + sum(payouts) == W + L == totalPool, so the
// distribution can never exceed the pool. Whatever rounding leaves behind,
// or the whole distributable share when nobody backed the winner, goes to the
// house account as residual.
func (s Settler) Plan(ev domain.Event, stakes []domain.Stake, winningOptionID string) (domain.SettlementPlan, error) {
	if err := ev.Status.Transition(domain.EventStatusResolved); err != nil {
		return domain.SettlementPlan{}, err
	}
	if _, ok := ev.Option(winningOptionID); !ok {
		return domain.SettlementPlan{}, fmt.Errorf("option %s: %w", winningOptionID, domain.ErrInvalidOption)
	}
	if s.HouseAccountID == "" {
		return domain.SettlementPlan{}, errors.New("pool: settler has no house account")
	}
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}

	total := ev.TotalPool
	if !ev.Conserved() {
		return domain.SettlementPlan{}, fmt.Errorf("%w: event %s pool %s != options %s",
			domain.ErrSettlementInvariantViolation, ev.ID, total, ev.OptionsTotal())
	}

	winningPool := decimal.Zero
	staked := decimal.Zero
	for _, st := range stakes {
		if st.Status != domain.StakeStatusActive {
			return domain.SettlementPlan{}, fmt.Errorf("stake %s: %w", st.ID, st.Status.Transition(domain.StakeStatusWon))
		}
		staked = staked.Add(st.Amount)
		if st.OptionID == winningOptionID {
			winningPool = winningPool.Add(st.Amount)
		}
	}
	if !staked.Equal(total) {
		return domain.SettlementPlan{}, fmt.Errorf("%w: event %s stakes sum %s != pool %s",
			domain.ErrSettlementInvariantViolation, ev.ID, staked, total)
	}
	losingPool := total.Sub(winningPool)
	houseCut := losingPool.Mul(HouseEdge).Round(CurrencyPlaces)

	plan := domain.SettlementPlan{
		EventID:         ev.ID,
		WinningOptionID: winningOptionID,
		ExpectedVersion: ev.Version,
		ResolvedAt:      now,
	}
	report := domain.SettlementReport{
		EventID:         ev.ID,
		WinningOptionID: winningOptionID,
		TotalPool:       total,
		WinningPool:     winningPool,
		LosingPool:      losingPool,
		HouseCut:        houseCut,
		Distributable:   total.Sub(houseCut),
		TotalPaid:       decimal.Zero,
		SettledAt:       now,
	}

	for _, st := range stakes {
		line := domain.StakePayout{
			StakeID:   st.ID,
			AccountID: st.AccountID,
			OptionID:  st.OptionID,
			Amount:    st.Amount,
		}
		if st.OptionID != winningOptionID {
			line.Status = domain.StakeStatusLost
			report.LoserCount++
			plan.Results = append(plan.Results, domain.StakeResult{
				StakeID: st.ID, AccountID: st.AccountID, Status: domain.StakeStatusLost,
			})
			plan.Ledger = append(plan.Ledger, domain.LedgerEntry{
				ID: newID(), AccountID: st.AccountID, EventID: ev.ID, StakeID: st.ID,
				Kind: domain.LedgerStakeLost, Amount: decimal.Zero, CreatedAt: now,
			})
			report.Payouts = append(report.Payouts, line)
			continue
		}

		payout := Return(st.Amount, winningPool, losingPool).Truncate(CurrencyPlaces)
		line.Status = domain.StakeStatusWon
		line.Payout = &payout
		report.WinnerCount++
		report.TotalPaid = report.TotalPaid.Add(payout)
		plan.Results = append(plan.Results, domain.StakeResult{
			StakeID: st.ID, AccountID: st.AccountID, Status: domain.StakeStatusWon, Payout: &payout,
		})
		plan.Credits = append(plan.Credits, domain.Credit{AccountID: st.AccountID, Amount: payout, Winnings: true})
		plan.Ledger = append(plan.Ledger, domain.LedgerEntry{
			ID: newID(), AccountID: st.AccountID, EventID: ev.ID, StakeID: st.ID,
			Kind: domain.LedgerStakeWon, Amount: payout, CreatedAt: now,
		})
		report.Payouts = append(report.Payouts, line)
	}

	report.Residual = total.Sub(houseCut).Sub(report.TotalPaid)
	if err := CheckBounded(report); err != nil {
		return domain.SettlementPlan{}, err
	}

	if houseCut.IsPositive() {
		plan.Credits = append(plan.Credits, domain.Credit{AccountID: s.HouseAccountID, Amount: houseCut})
		plan.Ledger = append(plan.Ledger, domain.LedgerEntry{
			ID: newID(), AccountID: s.HouseAccountID, EventID: ev.ID,
			Kind: domain.LedgerHouseCut, Amount: houseCut, CreatedAt: now,
		})
	}
	if report.Residual.IsPositive() {
		plan.Credits = append(plan.Credits, domain.Credit{AccountID: s.HouseAccountID, Amount: report.Residual})
		plan.Ledger = append(plan.Ledger, domain.LedgerEntry{
			ID: newID(), AccountID: s.HouseAccountID, EventID: ev.ID,
			Kind: domain.LedgerUnclaimedPool, Amount: report.Residual, CreatedAt: now,
		})
	}

	plan.Report = report
	return plan, nil
}

// CheckBounded verifies houseCut + paid <= totalPool and that the residual
// closes the books exactly.
func CheckBounded(r domain.SettlementReport) error {
	distributed := r.HouseCut.Add(r.TotalPaid)
	if distributed.GreaterThan(r.TotalPool) {
		return fmt.Errorf("%w: event %s house cut %s + payouts %s > pool %s",
			domain.ErrSettlementInvariantViolation, r.EventID, r.HouseCut, r.TotalPaid, r.TotalPool)
	}
	if r.Residual.IsNegative() || !distributed.Add(r.Residual).Equal(r.TotalPool) {
		return fmt.Errorf("%w: event %s residual %s does not balance pool %s",
			domain.ErrSettlementInvariantViolation, r.EventID, r.Residual, r.TotalPool)
	}
	return nil
}
