package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a bettor's balance. The house operator account is Unlimited:
// its balance may go negative and it is exempt from stake caps.
type Account struct {
	ID            string          `json:"id"`
	DisplayName   string          `json:"display_name"`
	Balance       decimal.Decimal `json:"balance"`
	Unlimited     bool            `json:"unlimited"`
	TotalStaked   decimal.Decimal `json:"total_staked"`
	TotalWinnings decimal.Decimal `json:"total_winnings"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CanAfford reports whether a debit of amount keeps the balance non-negative.
func (a Account) CanAfford(amount decimal.Decimal) bool {
	return a.Unlimited || a.Balance.GreaterThanOrEqual(amount)
}

// LedgerKind classifies a balance-affecting record.
type LedgerKind string

const (
	LedgerStakePlaced   LedgerKind = "stake_placed"
	LedgerStakeWon      LedgerKind = "stake_won"
	LedgerStakeLost     LedgerKind = "stake_lost"
	LedgerHouseCut      LedgerKind = "house_cut"
	LedgerUnclaimedPool LedgerKind = "unclaimed_pool"
	LedgerDeposit       LedgerKind = "deposit"
)

// LedgerEntry is an immutable audit record. Amount is signed: debits are
// negative, credits positive, and stake_lost entries carry zero.
type LedgerEntry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	EventID   string          `json:"event_id,omitempty"`
	StakeID   string          `json:"stake_id,omitempty"`
	Kind      LedgerKind      `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Credit is a balance increase applied during settlement.
type Credit struct {
	AccountID string
	Amount    decimal.Decimal
	Winnings  bool // counts toward Account.TotalWinnings
}
