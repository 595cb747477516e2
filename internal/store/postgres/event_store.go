package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

var _ domain.PoolStore = (*PoolStore)(nil)

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const eventSelectCols = `id, title, description, category, expires_at, status,
	total_pool, participant_count, winning_option_id, version, created_at, resolved_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		e      domain.Event
		status string
		pool   pgtype.Numeric
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Category, &e.ExpiresAt, &status,
		&pool, &e.ParticipantCount, &e.WinningOptionID, &e.Version, &e.CreatedAt, &e.ResolvedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	e.Status = domain.EventStatus(status)
	e.TotalPool = toDecimal(pool)
	return e, nil
}

// CreateEvent inserts an event and its options in one transaction.
func (s *PoolStore) CreateEvent(ctx context.Context, e domain.Event) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		const insertEvent = `
			INSERT INTO events (
				id, title, description, category, expires_at, status,
				total_pool, participant_count, version, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		if _, err := tx.Exec(ctx, insertEvent,
			e.ID, e.Title, e.Description, e.Category, e.ExpiresAt, string(e.Status),
			numeric(e.TotalPool), e.ParticipantCount, e.Version, e.CreatedAt,
		); err != nil {
			return err
		}

		const insertOption = `
			INSERT INTO event_options (id, event_id, label, position, total_staked, backer_count)
			VALUES ($1, $2, $3, $4, $5, $6)`
		batch := &pgx.Batch{}
		for _, o := range e.Options {
			batch.Queue(insertOption, o.ID, e.ID, o.Label, o.Position, numeric(o.TotalStaked), o.BackerCount)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create event %s: %w", e.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create event %s: %w", e.ID, err)
	}
	return nil
}

// GetEvent returns the event with its options.
func (s *PoolStore) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	e, err := getEvent(ctx, s.pool, id, false)
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}
	return e, nil
}

// getEvent loads one event and its options through q. With forUpdate the
// event row stays locked until q's transaction ends.
func getEvent(ctx context.Context, q querier, id string, forUpdate bool) (domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEvent(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func loadOptions(ctx context.Context, q querier, eventIDs []string) (map[string][]domain.Option, error) {
	const query = `
		SELECT id, event_id, label, position, total_staked, backer_count
		FROM event_options
		WHERE event_id = ANY($1)
		ORDER BY event_id, position, id`
	rows, err := q.Query(ctx, query, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Option, len(eventIDs))
	for rows.Next() {
		var (
			o      domain.Option
			staked pgtype.Numeric
		)
		if err := rows.Scan(&o.ID, &o.EventID, &o.Label, &o.Position, &staked, &o.BackerCount); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		o.TotalStaked = toDecimal(staked)
		out[o.EventID] = append(out[o.EventID], o)
	}
	return out, rows.Err()
}

// ListEvents returns events matching the filter, newest first, with options.
func (s *PoolStore) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.ExpiredAt != nil {
		query += fmt.Sprintf(" AND expires_at <= $%d", argIdx)
		args = append(args, *f.ExpiredAt)
		argIdx++
	}
	if f.ResolvedFrom != nil {
		query += fmt.Sprintf(" AND resolved_at >= $%d", argIdx)
		args = append(args, *f.ResolvedFrom)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var (
		events []domain.Event
		ids    []string
	)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	if len(ids) == 0 {
		return events, nil
	}

	opts, err := loadOptions(ctx, s.pool, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	for i := range events {
		events[i].Options = opts[events[i].ID]
	}
	return events, nil
}
