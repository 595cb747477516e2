package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const stakeSelectCols = `id, event_id, option_id, account_id, amount, placed_at, status, payout, client_ref`

func scanStake(row scanner) (domain.Stake, error) {
	var (
		st             domain.Stake
		placed, status string
		payout         decimal.NullDecimal
		clientRef      sql.NullString
	)
	if err := row.Scan(&st.ID, &st.EventID, &st.OptionID, &st.AccountID, &st.Amount, &placed, &status, &payout, &clientRef); err != nil {
		return domain.Stake{}, err
	}
	t, err := parseTS(placed)
	if err != nil {
		return domain.Stake{}, err
	}
	st.PlacedAt = t
	st.Status = domain.StakeStatus(status)
	if payout.Valid {
		p := payout.Decimal
		st.Payout = &p
	}
	st.ClientRef = clientRef.String
	return st, nil
}

func scanStakeRows(rows *sql.Rows) ([]domain.Stake, error) {
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

// CommitStake applies one admission in a single transaction. New aggregate
// values are computed from the rows read inside the transaction and written
// back behind a version compare-and-swap on the event.
func (s *Store) CommitStake(ctx context.Context, c domain.StakeCommit) error {
	st := c.Stake
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			version         int64
			status, expires string
			total           decimal.Decimal
		)
		err := tx.QueryRowContext(ctx,
			`SELECT version, status, expires_at, total_pool FROM events WHERE id = ?`, st.EventID,
		).Scan(&version, &status, &expires, &total)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if domain.EventStatus(status) != domain.EventStatusActive || ts(st.PlacedAt) >= expires {
			return domain.ErrEventClosed
		}
		if version != c.ExpectedVersion {
			return domain.ErrConflict
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE events SET
				total_pool        = ?,
				participant_count = participant_count + 1,
				version           = version + 1
			WHERE id = ? AND version = ?`,
			total.Add(st.Amount).String(), st.EventID, c.ExpectedVersion,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrConflict
		}

		var optionTotal decimal.Decimal
		err = tx.QueryRowContext(ctx,
			`SELECT total_staked FROM event_options WHERE id = ? AND event_id = ?`, st.OptionID, st.EventID,
		).Scan(&optionTotal)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrInvalidOption
			}
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE event_options SET total_staked = ?, backer_count = backer_count + 1 WHERE id = ?`,
			optionTotal.Add(st.Amount).String(), st.OptionID,
		); err != nil {
			return err
		}

		acct, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE id = ?`, st.AccountID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if !acct.CanAfford(st.Amount) {
			return domain.ErrInsufficientBalance
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = ?, total_staked = ?, version = version + 1 WHERE id = ?`,
			acct.Balance.Sub(st.Amount).String(), acct.TotalStaked.Add(st.Amount).String(), st.AccountID,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stakes (id, event_id, option_id, account_id, amount, placed_at, status, client_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.EventID, st.OptionID, st.AccountID, st.Amount.String(),
			ts(st.PlacedAt), string(domain.StakeStatusActive), nullString(st.ClientRef),
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return err
		}

		return insertLedger(ctx, tx, c.Ledger)
	})
	if err != nil {
		return fmt.Errorf("sqlite: commit stake %s on event %s: %w", st.ID, st.EventID, err)
	}
	return nil
}

// GetStake returns the stake with the given id.
func (s *Store) GetStake(ctx context.Context, id string) (domain.Stake, error) {
	st, err := scanStake(s.db.QueryRowContext(ctx, `SELECT `+stakeSelectCols+` FROM stakes WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stake{}, fmt.Errorf("sqlite: get stake %s: %w", id, domain.ErrNotFound)
		}
		return domain.Stake{}, fmt.Errorf("sqlite: get stake %s: %w", id, err)
	}
	return st, nil
}

// GetStakeByClientRef finds a stake by the caller-supplied idempotency key.
func (s *Store) GetStakeByClientRef(ctx context.Context, accountID, clientRef string) (domain.Stake, error) {
	st, err := scanStake(s.db.QueryRowContext(ctx,
		`SELECT `+stakeSelectCols+` FROM stakes WHERE account_id = ? AND client_ref = ?`, accountID, clientRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stake{}, fmt.Errorf("sqlite: get stake by ref %s/%s: %w", accountID, clientRef, domain.ErrNotFound)
		}
		return domain.Stake{}, fmt.Errorf("sqlite: get stake by ref %s/%s: %w", accountID, clientRef, err)
	}
	return st, nil
}

// ListStakes returns the stakes on an event, oldest first.
func (s *Store) ListStakes(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.Stake, error) {
	query, args := appendPage(
		`SELECT `+stakeSelectCols+` FROM stakes WHERE event_id = ? ORDER BY placed_at, id`,
		[]any{eventID}, opts,
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list stakes %s: %w", eventID, err)
	}
	defer rows.Close()
	stakes, err := scanStakeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan stakes %s: %w", eventID, err)
	}
	return stakes, nil
}
