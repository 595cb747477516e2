package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StakeStatus tracks a single bet.
type StakeStatus string

const (
	StakeStatusActive StakeStatus = "active"
	StakeStatusWon    StakeStatus = "won"
	StakeStatusLost   StakeStatus = "lost"
)

// CanTransitionTo reports whether the stake may move from s to next.
func (s StakeStatus) CanTransitionTo(next StakeStatus) bool {
	return s == StakeStatusActive && (next == StakeStatusWon || next == StakeStatusLost)
}

// Transition validates s -> next.
func (s StakeStatus) Transition(next StakeStatus) error {
	if s.CanTransitionTo(next) {
		return nil
	}
	return fmt.Errorf("stake %s -> %s: %w", s, next, ErrInvalidTransition)
}

// Stake is one account's bet on one option.
type Stake struct {
	ID        string           `json:"id"`
	EventID   string           `json:"event_id"`
	OptionID  string           `json:"option_id"`
	AccountID string           `json:"account_id"`
	Amount    decimal.Decimal  `json:"amount"`
	PlacedAt  time.Time        `json:"placed_at"`
	Status    StakeStatus      `json:"status"`
	Payout    *decimal.Decimal `json:"payout,omitempty"`
	ClientRef string           `json:"client_ref,omitempty"`
}

// StakeCommit is everything the store writes for one admitted stake.
// The store applies it as a single transaction, guarded by ExpectedVersion.
// The debit honours the account's own Unlimited flag.
type StakeCommit struct {
	Stake           Stake
	ExpectedVersion int64
	Ledger          LedgerEntry
}

// StakeResult is the outcome of one stake in a settlement plan.
type StakeResult struct {
	StakeID   string
	AccountID string
	Status    StakeStatus
	Payout    *decimal.Decimal
}
