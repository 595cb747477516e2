package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// SettleEvent locks the event row, hands the locked snapshot and its active
// stakes to planner, and applies the resulting plan before committing.
// Admissions on the same event block on the row lock and then fail their
// version check.
func (s *PoolStore) SettleEvent(ctx context.Context, eventID string, planner domain.SettlementPlanner) (domain.SettlementPlan, error) {
	var plan domain.SettlementPlan
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		ev, err := getEvent(ctx, tx, eventID, true)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT `+stakeSelectCols+` FROM stakes WHERE event_id = $1 AND status = 'active' ORDER BY placed_at, id`,
			eventID,
		)
		if err != nil {
			return fmt.Errorf("load stakes: %w", err)
		}
		stakes, err := scanStakeRows(rows)
		rows.Close()
		if err != nil {
			return fmt.Errorf("scan stakes: %w", err)
		}

		plan, err = planner(ev, stakes)
		if err != nil {
			return err
		}
		return applyPlan(ctx, tx, plan)
	})
	if err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("postgres: settle event %s: %w", eventID, err)
	}
	return plan, nil
}

func applyPlan(ctx context.Context, tx pgx.Tx, plan domain.SettlementPlan) error {
	const transition = `
		UPDATE stakes SET status = $2, payout = $3, settled_at = $4
		WHERE id = $1 AND status = 'active'`
	for _, r := range plan.Results {
		tag, err := tx.Exec(ctx, transition, r.StakeID, string(r.Status), nullNumeric(r.Payout), plan.ResolvedAt)
		if err != nil {
			return fmt.Errorf("transition stake %s: %w", r.StakeID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("stake %s: %w", r.StakeID, domain.ErrInvalidTransition)
		}
	}

	const credit = `
		UPDATE accounts SET
			balance        = balance + $2,
			total_winnings = total_winnings + CASE WHEN $3 THEN $2 ELSE 0 END
		WHERE id = $1`
	for _, c := range plan.Credits {
		tag, err := tx.Exec(ctx, credit, c.AccountID, numeric(c.Amount), c.Winnings)
		if err != nil {
			return fmt.Errorf("credit account %s: %w", c.AccountID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("credit account %s: %w", c.AccountID, domain.ErrNotFound)
		}
	}

	batch := &pgx.Batch{}
	for _, le := range plan.Ledger {
		batch.Queue(insertLedgerSQL, ledgerArgs(le)...)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert ledger: %w", err)
		}
	}

	const resolve = `
		UPDATE events SET
			status            = 'resolved',
			winning_option_id = $2,
			resolved_at       = $3,
			version           = version + 1
		WHERE id = $1 AND status = 'active' AND version = $4`
	tag, err := tx.Exec(ctx, resolve, plan.EventID, plan.WinningOptionID, plan.ResolvedAt, plan.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("resolve event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	report, err := json.Marshal(plan.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO settlements (event_id, report, settled_at) VALUES ($1, $2, $3)`,
		plan.EventID, report, plan.ResolvedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadySettled
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// GetSettlement returns the stored report of a resolved event.
func (s *PoolStore) GetSettlement(ctx context.Context, eventID string) (domain.SettlementReport, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM settlements WHERE event_id = $1`, eventID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementReport{}, fmt.Errorf("postgres: get settlement %s: %w", eventID, domain.ErrNotFound)
		}
		return domain.SettlementReport{}, fmt.Errorf("postgres: get settlement %s: %w", eventID, err)
	}
	var r domain.SettlementReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("postgres: unmarshal settlement %s: %w", eventID, err)
	}
	return r, nil
}

// ListSettlements returns reports settled within opts.Since/Until, oldest first.
func (s *PoolStore) ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementReport, error) {
	query := `SELECT report FROM settlements WHERE 1=1`
	args := []any{}
	argIdx := 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND settled_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND settled_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY settled_at, event_id"
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
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var reports []domain.SettlementReport
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		var r domain.SettlementReport
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal settlement: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return reports, nil
}
