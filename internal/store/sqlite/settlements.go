package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// SettleEvent reads the event and its active stakes inside the write
// transaction, hands them to planner and applies the plan.
func (s *Store) SettleEvent(ctx context.Context, eventID string, planner domain.SettlementPlanner) (domain.SettlementPlan, error) {
	var plan domain.SettlementPlan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := getEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT `+stakeSelectCols+` FROM stakes WHERE event_id = ? AND status = 'active' ORDER BY placed_at, id`,
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
		return domain.SettlementPlan{}, fmt.Errorf("sqlite: settle event %s: %w", eventID, err)
	}
	return plan, nil
}

func applyPlan(ctx context.Context, tx *sql.Tx, plan domain.SettlementPlan) error {
	resolvedAt := ts(plan.ResolvedAt)
	for _, r := range plan.Results {
		var payout sql.NullString
		if r.Payout != nil {
			payout = sql.NullString{String: r.Payout.String(), Valid: true}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE stakes SET status = ?, payout = ?, settled_at = ? WHERE id = ? AND status = 'active'`,
			string(r.Status), payout, resolvedAt, r.StakeID,
		)
		if err != nil {
			return fmt.Errorf("transition stake %s: %w", r.StakeID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("stake %s: %w", r.StakeID, domain.ErrInvalidTransition)
		}
	}

	for _, c := range plan.Credits {
		var balance, winnings decimal.Decimal
		err := tx.QueryRowContext(ctx,
			`SELECT balance, total_winnings FROM accounts WHERE id = ?`, c.AccountID,
		).Scan(&balance, &winnings)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("credit account %s: %w", c.AccountID, domain.ErrNotFound)
			}
			return fmt.Errorf("credit account %s: %w", c.AccountID, err)
		}
		if c.Winnings {
			winnings = winnings.Add(c.Amount)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = ?, total_winnings = ?, version = version + 1 WHERE id = ?`,
			balance.Add(c.Amount).String(), winnings.String(), c.AccountID,
		); err != nil {
			return fmt.Errorf("credit account %s: %w", c.AccountID, err)
		}
	}

	for _, le := range plan.Ledger {
		if err := insertLedger(ctx, tx, le); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE events SET
			status            = 'resolved',
			winning_option_id = ?,
			resolved_at       = ?,
			version           = version + 1
		WHERE id = ? AND status = 'active' AND version = ?`,
		plan.WinningOptionID, resolvedAt, plan.EventID, plan.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("resolve event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}

	report, err := json.Marshal(plan.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO settlements (event_id, report, settled_at) VALUES (?, ?, ?)`,
		plan.EventID, string(report), resolvedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadySettled
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// GetSettlement returns the stored report of a resolved event.
func (s *Store) GetSettlement(ctx context.Context, eventID string) (domain.SettlementReport, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM settlements WHERE event_id = ?`, eventID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SettlementReport{}, fmt.Errorf("sqlite: get settlement %s: %w", eventID, domain.ErrNotFound)
		}
		return domain.SettlementReport{}, fmt.Errorf("sqlite: get settlement %s: %w", eventID, err)
	}
	var r domain.SettlementReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("sqlite: unmarshal settlement %s: %w", eventID, err)
	}
	return r, nil
}

// ListSettlements returns reports settled within [Since, Until), oldest first.
func (s *Store) ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementReport, error) {
	query := `SELECT report FROM settlements WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += " AND settled_at >= ?"
		args = append(args, ts(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND settled_at < ?"
		args = append(args, ts(*opts.Until))
	}
	query += " ORDER BY settled_at, event_id"
	query, args = appendPage(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list settlements: %w", err)
	}
	defer rows.Close()

	var reports []domain.SettlementReport
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan settlement: %w", err)
		}
		var r domain.SettlementReport
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal settlement: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list settlements rows: %w", err)
	}
	return reports, nil
}
