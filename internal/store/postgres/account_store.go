package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const accountSelectCols = `id, display_name, balance, unlimited, total_staked, total_winnings, created_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a                        domain.Account
		balance, staked, winning pgtype.Numeric
	)
	if err := row.Scan(&a.ID, &a.DisplayName, &balance, &a.Unlimited, &staked, &winning, &a.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	a.Balance = toDecimal(balance)
	a.TotalStaked = toDecimal(staked)
	a.TotalWinnings = toDecimal(winning)
	return a, nil
}

// CreateAccount inserts the account and, for a positive opening balance, a
// deposit ledger entry.
func (s *PoolStore) CreateAccount(ctx context.Context, a domain.Account) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO accounts (id, display_name, balance, unlimited, total_staked, total_winnings, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.Exec(ctx, query,
			a.ID, a.DisplayName, numeric(a.Balance), a.Unlimited,
			numeric(a.TotalStaked), numeric(a.TotalWinnings), a.CreatedAt,
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
			return fmt.Errorf("postgres: create account %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount returns the account with the given id.
func (s *PoolStore) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}
