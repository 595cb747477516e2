package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const eventSelectCols = `id, title, description, category, expires_at, status,
	total_pool, participant_count, winning_option_id, version, created_at, resolved_at`

func scanEvent(row scanner) (domain.Event, error) {
	var (
		e                        domain.Event
		status, expires, created string
		winning, resolved        sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Category, &expires, &status,
		&e.TotalPool, &e.ParticipantCount, &winning, &e.Version, &created, &resolved,
	)
	if err != nil {
		return domain.Event{}, err
	}
	e.Status = domain.EventStatus(status)
	if winning.Valid {
		id := winning.String
		e.WinningOptionID = &id
	}
	if e.ExpiresAt, err = parseTS(expires); err != nil {
		return domain.Event{}, err
	}
	if e.CreatedAt, err = parseTS(created); err != nil {
		return domain.Event{}, err
	}
	if e.ResolvedAt, err = parseNullTS(resolved); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

// CreateEvent inserts an event and its options in one transaction.
func (s *Store) CreateEvent(ctx context.Context, e domain.Event) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (
				id, title, description, category, expires_at, status,
				total_pool, participant_count, version, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Title, e.Description, e.Category, ts(e.ExpiresAt), string(e.Status),
			e.TotalPool.String(), e.ParticipantCount, e.Version, ts(e.CreatedAt),
		); err != nil {
			return err
		}
		for _, o := range e.Options {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO event_options (id, event_id, label, position, total_staked, backer_count)
				VALUES (?, ?, ?, ?, ?, ?)`,
				o.ID, e.ID, o.Label, o.Position, o.TotalStaked.String(), o.BackerCount,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: create event %s: %w", e.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create event %s: %w", e.ID, err)
	}
	return nil
}

// GetEvent returns the event with its options.
func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	e, err := getEvent(ctx, s.db, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("sqlite: get event %s: %w", id, err)
	}
	return e, nil
}

func getEvent(ctx context.Context, q queryer, id string) (domain.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventSelectCols+` FROM events WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, err
	}
	opts, err := loadOptions(ctx, q, []string{id})
	if err != nil {
		return domain.Event{}, err
	}
	e.Options = opts[id]
	return e, nil
}

func loadOptions(ctx context.Context, q queryer, eventIDs []string) (map[string][]domain.Option, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, event_id, label, position, total_staked, backer_count
		FROM event_options
		WHERE event_id IN (`+placeholders+`)
		ORDER BY event_id, position, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Option, len(eventIDs))
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.EventID, &o.Label, &o.Position, &o.TotalStaked, &o.BackerCount); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[o.EventID] = append(out[o.EventID], o)
	}
	return out, rows.Err()
}

// ListEvents returns events matching the filter, newest first, with options.
func (s *Store) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.ExpiredAt != nil {
		query += " AND expires_at <= ?"
		args = append(args, ts(*f.ExpiredAt))
	}
	if f.ResolvedFrom != nil {
		query += " AND resolved_at >= ?"
		args = append(args, ts(*f.ResolvedFrom))
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, ts(*f.Since))
	}
	if f.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, ts(*f.Until))
	}
	query += " ORDER BY created_at DESC, id"
	query, args = appendPage(query, args, f.ListOpts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	var (
		events []domain.Event
		ids    []string
	)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		events = append(events, e)
		ids = append(ids, e.ID)
	}
	err = rows.Err()
	// Release the only connection before loading options.
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events rows: %w", err)
	}
	if len(ids) == 0 {
		return events, nil
	}

	opts, err := loadOptions(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	for i := range events {
		events[i].Options = opts[events[i].ID]
	}
	return events, nil
}
