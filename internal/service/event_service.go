package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// CreateEventRequest describes a new event and its options, in display order.
type CreateEventRequest struct {
	Title       string
	Description string
	Category    string
	ExpiresAt   time.Time
	Options     []string
}

// EventService manages the event catalogue.
type EventService struct {
	store  domain.PoolStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEventService creates an EventService.
func NewEventService(store domain.PoolStore, logger *slog.Logger) *EventService {
	return &EventService{
		store:  store,
		logger: logger.With(slog.String("component", "event_service")),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// CreateEvent validates req and stores an active event with an empty pool.
func (s *EventService) CreateEvent(ctx context.Context, req CreateEventRequest) (domain.Event, error) {
	now := s.now()
	if err := validateEvent(req, now); err != nil {
		return domain.Event{}, err
	}

	ev := domain.Event{
		ID:          s.newID(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    req.Category,
		ExpiresAt:   req.ExpiresAt.UTC(),
		Status:      domain.EventStatusActive,
		TotalPool:   decimal.Zero,
		CreatedAt:   now,
	}
	for i, label := range req.Options {
		ev.Options = append(ev.Options, domain.Option{
			ID:          s.newID(),
			EventID:     ev.ID,
			Label:       strings.TrimSpace(label),
			Position:    i,
			TotalStaked: decimal.Zero,
		})
	}

	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return domain.Event{}, fmt.Errorf("event_service: create: %w", err)
	}
	s.logger.InfoContext(ctx, "event created",
		slog.String("event_id", ev.ID),
		slog.Int("options", len(ev.Options)),
		slog.Time("expires_at", ev.ExpiresAt),
	)
	return ev, nil
}

func validateEvent(req CreateEventRequest, now time.Time) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", domain.ErrInvalidEvent)
	}
	if len(req.Options) < 2 {
		return fmt.Errorf("%w: at least two options are required", domain.ErrInvalidEvent)
	}
	seen := make(map[string]bool, len(req.Options))
	for _, label := range req.Options {
		key := strings.ToLower(strings.TrimSpace(label))
		if key == "" {
			return fmt.Errorf("%w: option label is empty", domain.ErrInvalidEvent)
		}
		if seen[key] {
			return fmt.Errorf("%w: duplicate option %q", domain.ErrInvalidEvent, label)
		}
		seen[key] = true
	}
	if !req.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at must be in the future", domain.ErrInvalidEvent)
	}
	return nil
}

// GetEvent returns the event with its current pool snapshot.
func (s *EventService) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_service: get %s: %w", id, err)
	}
	return ev, nil
}

// ListEvents returns events matching filter.
func (s *EventService) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("event_service: list: %w", err)
	}
	return events, nil
}

// ExpiredUnsettled lists active events whose expiry is at or before now.
func (s *EventService) ExpiredUnsettled(ctx context.Context, now time.Time) ([]domain.Event, error) {
	return s.ListEvents(ctx, domain.EventFilter{
		Status:    domain.EventStatusActive,
		ExpiredAt: &now,
	})
}
