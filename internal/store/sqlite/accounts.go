package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const accountSelectCols = `id, display_name, balance, unlimited, total_staked, total_winnings, created_at`

func scanAccount(row scanner) (domain.Account, error) {
	var (
		a       domain.Account
		created string
	)
	if err := row.Scan(&a.ID, &a.DisplayName, &a.Balance, &a.Unlimited, &a.TotalStaked, &a.TotalWinnings, &created); err != nil {
		return domain.Account{}, err
	}
	t, err := parseTS(created)
	if err != nil {
		return domain.Account{}, err
	}
	a.CreatedAt = t
	return a, nil
}

// CreateAccount inserts the account and, for a positive opening balance, a
// deposit ledger entry.
func (s *Store) CreateAccount(ctx context.Context, a domain.Account) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, display_name, balance, unlimited, total_staked, total_winnings, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.DisplayName, a.Balance.String(), a.Unlimited,
			a.TotalStaked.String(), a.TotalWinnings.String(), ts(a.CreatedAt),
		); err != nil {
			return err
		}
		if !a.Balance.IsPositive() {
			return nil
		}
		return insertLedger(ctx, tx, domain.LedgerEntry{
			ID:        uuid.NewString(),
			AccountID: a.ID,
			Kind:      domain.LedgerDeposit,
			Amount:    a.Balance,
			CreatedAt: a.CreatedAt,
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: create account %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount returns the account with the given id.
func (s *Store) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("sqlite: get account %s: %w", id, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("sqlite: get account %s: %w", id, err)
	}
	return a, nil
}

func insertLedger(ctx context.Context, q queryer, le domain.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, event_id, stake_id, kind, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		le.ID, le.AccountID, nullString(le.EventID), nullString(le.StakeID),
		string(le.Kind), le.Amount.String(), ts(le.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert ledger %s: %w", le.ID, err)
	}
	return nil
}

func scanLedgerRows(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			le               domain.LedgerEntry
			eventID, stakeID sql.NullString
			kind, created    string
		)
		if err := rows.Scan(&le.ID, &le.AccountID, &eventID, &stakeID, &kind, &le.Amount, &created); err != nil {
			return nil, err
		}
		t, err := parseTS(created)
		if err != nil {
			return nil, err
		}
		le.EventID = eventID.String
		le.StakeID = stakeID.String
		le.Kind = domain.LedgerKind(kind)
		le.CreatedAt = t
		entries = append(entries, le)
	}
	return entries, rows.Err()
}

// ListLedger returns an account's ledger, newest first.
func (s *Store) ListLedger(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT id, account_id, event_id, stake_id, kind, amount, created_at
		FROM ledger_entries WHERE account_id = ?`
	args := []any{accountID}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, ts(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, ts(*opts.Until))
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	query, args = appendPage(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list ledger %s: %w", accountID, err)
	}
	defer rows.Close()
	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan ledger %s: %w", accountID, err)
	}
	return entries, nil
}

// ListEventLedger returns every ledger entry tied to an event, oldest first.
func (s *Store) ListEventLedger(ctx context.Context, eventID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, event_id, stake_id, kind, amount, created_at
		FROM ledger_entries WHERE event_id = ? ORDER BY created_at, rowid`, eventID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list event ledger %s: %w", eventID, err)
	}
	defer rows.Close()
	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan event ledger %s: %w", eventID, err)
	}
	return entries, nil
}
