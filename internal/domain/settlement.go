package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the speculative outcome of a hypothetical stake. Money fields are
// rounded to 2 decimals; ImpliedProbability and PoolShare are percentages.
type Quote struct {
	EventID            string          `json:"event_id"`
	OptionID           string          `json:"option_id"`
	Stake              decimal.Decimal `json:"stake"`
	Return             decimal.Decimal `json:"return"`
	Profit             decimal.Decimal `json:"profit"`
	EffectiveOdds      decimal.Decimal `json:"effective_odds"`
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
	PoolShare          decimal.Decimal `json:"pool_share"`
	MaxStake           decimal.Decimal `json:"max_stake"`
}

// StakePayout is one line of a settlement report.
type StakePayout struct {
	StakeID   string           `json:"stake_id"`
	AccountID string           `json:"account_id"`
	OptionID  string           `json:"option_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Status    StakeStatus      `json:"status"`
	Payout    *decimal.Decimal `json:"payout,omitempty"`
}

// SettlementReport summarises a resolved event.
type SettlementReport struct {
	EventID         string          `json:"event_id"`
	WinningOptionID string          `json:"winning_option_id"`
	TotalPool       decimal.Decimal `json:"total_pool"`
	WinningPool     decimal.Decimal `json:"winning_pool"`
	LosingPool      decimal.Decimal `json:"losing_pool"`
	HouseCut        decimal.Decimal `json:"house_cut"`
	Distributable   decimal.Decimal `json:"distributable"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	Residual        decimal.Decimal `json:"residual"`
	WinnerCount     int             `json:"winner_count"`
	LoserCount      int             `json:"loser_count"`
	Payouts         []StakePayout   `json:"payouts"`
	SettledAt       time.Time       `json:"settled_at"`
}

// SettlementPlan is the full set of writes that resolve one event. It is
// computed from a locked snapshot and applied by the store in the same
// transaction.
type SettlementPlan struct {
	EventID         string
	WinningOptionID string
	ExpectedVersion int64
	Results         []StakeResult
	Credits         []Credit
	Ledger          []LedgerEntry
	Report          SettlementReport
	ResolvedAt      time.Time
}

// SettlementPlanner computes a plan from the locked event and its active
// stakes. Returning an error aborts the settlement transaction.
type SettlementPlanner func(event Event, stakes []Stake) (SettlementPlan, error)
