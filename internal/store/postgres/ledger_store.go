package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const insertLedgerSQL = `
	INSERT INTO ledger_entries (id, account_id, event_id, stake_id, kind, amount, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func ledgerArgs(le domain.LedgerEntry) []any {
	return []any{
		le.ID, le.AccountID, nullText(le.EventID), nullText(le.StakeID),
		string(le.Kind), numeric(le.Amount), le.CreatedAt,
	}
}

func insertLedger(ctx context.Context, q querier, le domain.LedgerEntry) error {
	if _, err := q.Exec(ctx, insertLedgerSQL, ledgerArgs(le)...); err != nil {
		return fmt.Errorf("insert ledger %s: %w", le.ID, err)
	}
	return nil
}

func scanLedgerRows(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			le               domain.LedgerEntry
			eventID, stakeID *string
			kind             string
			amount           pgtype.Numeric
		)
		if err := rows.Scan(&le.ID, &le.AccountID, &eventID, &stakeID, &kind, &amount, &le.CreatedAt); err != nil {
			return nil, err
		}
		le.EventID = derefText(eventID)
		le.StakeID = derefText(stakeID)
		le.Kind = domain.LedgerKind(kind)
		le.Amount = toDecimal(amount)
		entries = append(entries, le)
	}
	return entries, rows.Err()
}

// ListLedger returns an account's ledger, newest first.
func (s *PoolStore) ListLedger(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT id, account_id, event_id, stake_id, kind, amount, created_at
		FROM ledger_entries WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger %s: %w", accountID, err)
	}
	defer rows.Close()

	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ledger %s: %w", accountID, err)
	}
	return entries, nil
}

// ListEventLedger returns every ledger entry tied to an event, oldest first.
func (s *PoolStore) ListEventLedger(ctx context.Context, eventID string) ([]domain.LedgerEntry, error) {
	const query = `SELECT id, account_id, event_id, stake_id, kind, amount, created_at
		FROM ledger_entries WHERE event_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list event ledger %s: %w", eventID, err)
	}
	defer rows.Close()

	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan event ledger %s: %w", eventID, err)
	}
	return entries, nil
}
