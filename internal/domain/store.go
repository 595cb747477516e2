package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore is the durable home of events, options, stakes, accounts and the
// ledger. CommitStake and SettleEvent are each one transaction: either every
// write lands or none does.
type PoolStore interface {
	CreateEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// CreateAccount inserts the account and, for a positive opening balance,
	// a deposit ledger entry.
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id string) (Account, error)

	// CommitStake applies an admission. It returns ErrConflict when the
	// event version moved since the caller's read, ErrEventClosed when the
	// event stopped accepting stakes, ErrInsufficientBalance when the debit
	// would overdraw a limited account, and ErrAlreadyExists when the
	// (account, client ref) pair was already used.
	CommitStake(ctx context.Context, commit StakeCommit) error
	GetStake(ctx context.Context, id string) (Stake, error)
	GetStakeByClientRef(ctx context.Context, accountID, clientRef string) (Stake, error)
	ListStakes(ctx context.Context, eventID string, opts ListOpts) ([]Stake, error)

	// SettleEvent locks the event, loads its active stakes, asks planner for
	// the settlement and applies it, all inside one transaction. Any planner
	// or write error rolls everything back.
	SettleEvent(ctx context.Context, eventID string, planner SettlementPlanner) (SettlementPlan, error)
	GetSettlement(ctx context.Context, eventID string) (SettlementReport, error)
	ListSettlements(ctx context.Context, opts ListOpts) ([]SettlementReport, error)

	ListLedger(ctx context.Context, accountID string, opts ListOpts) ([]LedgerEntry, error)
	ListEventLedger(ctx context.Context, eventID string) ([]LedgerEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditArchiveSettlements is logged after each settlement archive upload;
// its detail carries path, count, since and until (RFC 3339).
const AuditArchiveSettlements = "archive.settlements"

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
