package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const stakeSelectCols = `id, event_id, option_id, account_id, amount, placed_at, status, payout, client_ref`

func scanStake(row pgx.Row) (domain.Stake, error) {
	var (
		st             domain.Stake
		amount, payout pgtype.Numeric
		status         string
		clientRef      *string
	)
	if err := row.Scan(&st.ID, &st.EventID, &st.OptionID, &st.AccountID, &amount, &st.PlacedAt, &status, &payout, &clientRef); err != nil {
		return domain.Stake{}, err
	}
	st.Amount = toDecimal(amount)
	st.Status = domain.StakeStatus(status)
	st.Payout = toDecimalPtr(payout)
	st.ClientRef = derefText(clientRef)
	return st, nil
}

func scanStakeRows(rows pgx.Rows) ([]domain.Stake, error) {
	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, st)
	}
	return stakes, rows.Err()
}

// CommitStake applies one admission in a single transaction. The event row
// is updated first with a version compare-and-swap, so a concurrent admission
// or settlement on the same event turns into ErrConflict or ErrEventClosed
// instead of a lost update. Aggregates are incremented in SQL.
func (s *PoolStore) CommitStake(ctx context.Context, c domain.StakeCommit) error {
	st := c.Stake
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		const bumpEvent = `
			UPDATE events SET
				total_pool        = total_pool + $1,
				participant_count = participant_count + 1,
				version           = version + 1
			WHERE id = $2 AND version = $3 AND status = 'active' AND expires_at > $4`
		tag, err := tx.Exec(ctx, bumpEvent, numeric(st.Amount), st.EventID, c.ExpectedVersion, st.PlacedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return classifyEventMiss(ctx, tx, st.EventID, st.PlacedAt)
		}

		const bumpOption = `
			UPDATE event_options SET
				total_staked = total_staked + $1,
				backer_count = backer_count + 1
			WHERE id = $2 AND event_id = $3`
		tag, err = tx.Exec(ctx, bumpOption, numeric(st.Amount), st.OptionID, st.EventID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInvalidOption
		}

		const debit = `
			UPDATE accounts SET
				balance      = balance - $1,
				total_staked = total_staked + $1
			WHERE id = $2 AND (unlimited OR balance >= $1)`
		tag, err = tx.Exec(ctx, debit, numeric(st.Amount), st.AccountID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, st.AccountID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrInsufficientBalance
		}

		const insertStake = `
			INSERT INTO stakes (id, event_id, option_id, account_id, amount, placed_at, status, client_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		if _, err := tx.Exec(ctx, insertStake,
			st.ID, st.EventID, st.OptionID, st.AccountID, numeric(st.Amount),
			st.PlacedAt, string(domain.StakeStatusActive), nullText(st.ClientRef),
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return err
		}

		return insertLedger(ctx, tx, c.Ledger)
	})
	if err != nil {
		return fmt.Errorf("postgres: commit stake %s on event %s: %w", st.ID, st.EventID, err)
	}
	return nil
}

// classifyEventMiss explains why the version CAS matched no row.
func classifyEventMiss(ctx context.Context, tx pgx.Tx, eventID string, at time.Time) error {
	var (
		status    string
		expiresAt time.Time
	)
	err := tx.QueryRow(ctx, `SELECT status, expires_at FROM events WHERE id = $1`, eventID).Scan(&status, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if domain.EventStatus(status) != domain.EventStatusActive || !at.Before(expiresAt) {
		return domain.ErrEventClosed
	}
	return domain.ErrConflict
}

// GetStake returns the stake with the given id.
func (s *PoolStore) GetStake(ctx context.Context, id string) (domain.Stake, error) {
	query := `SELECT ` + stakeSelectCols + ` FROM stakes WHERE id = $1`
	st, err := scanStake(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stake{}, fmt.Errorf("postgres: get stake %s: %w", id, domain.ErrNotFound)
		}
		return domain.Stake{}, fmt.Errorf("postgres: get stake %s: %w", id, err)
	}
	return st, nil
}

// GetStakeByClientRef finds a stake by the caller-supplied idempotency key.
func (s *PoolStore) GetStakeByClientRef(ctx context.Context, accountID, clientRef string) (domain.Stake, error) {
	query := `SELECT ` + stakeSelectCols + ` FROM stakes WHERE account_id = $1 AND client_ref = $2`
	st, err := scanStake(s.pool.QueryRow(ctx, query, accountID, clientRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stake{}, fmt.Errorf("postgres: get stake by ref %s/%s: %w", accountID, clientRef, domain.ErrNotFound)
		}
		return domain.Stake{}, fmt.Errorf("postgres: get stake by ref %s/%s: %w", accountID, clientRef, err)
	}
	return st, nil
}

// ListStakes returns the stakes on an event, oldest first.
func (s *PoolStore) ListStakes(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.Stake, error) {
	query := `SELECT ` + stakeSelectCols + ` FROM stakes WHERE event_id = $1 ORDER BY placed_at, id`
	args := []any{eventID}
	argIdx := 2
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
		return nil, fmt.Errorf("postgres: list stakes %s: %w", eventID, err)
	}
	defer rows.Close()

	stakes, err := scanStakeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan stakes %s: %w", eventID, err)
	}
	return stakes, nil
}
