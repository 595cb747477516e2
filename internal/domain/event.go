package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus tracks the event lifecycle.
type EventStatus string

const (
	EventStatusActive   EventStatus = "active"
	EventStatusResolved EventStatus = "resolved"
	// EventStatusClosed is accepted from storage but never produced.
	EventStatusClosed EventStatus = "closed"
)

// CanTransitionTo reports whether the event may move from s to next.
// The only legal move is active -> resolved.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	return s == EventStatusActive && next == EventStatusResolved
}

// Transition validates s -> next and returns a wrapped ErrInvalidTransition
// when the move is not allowed. Resolving an already resolved event reports
// ErrAlreadySettled, and any other non-active source reports ErrNotActive.
func (s EventStatus) Transition(next EventStatus) error {
	if s.CanTransitionTo(next) {
		return nil
	}
	switch {
	case s == EventStatusResolved && next == EventStatusResolved:
		return ErrAlreadySettled
	case s != EventStatusActive:
		return fmt.Errorf("event %s -> %s: %w", s, next, ErrNotActive)
	default:
		return fmt.Errorf("event %s -> %s: %w", s, next, ErrInvalidTransition)
	}
}

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusActive, EventStatusResolved, EventStatusClosed:
		return true
	}
	return false
}

// Option is one mutually exclusive outcome of an Event.
type Option struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id"`
	Label       string          `json:"label"`
	Position    int             `json:"position"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	BackerCount int64           `json:"backer_count"`
}

// Event is a real-world question with a shared stake pool.
type Event struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Category         string          `json:"category,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at"`
	Status           EventStatus     `json:"status"`
	TotalPool        decimal.Decimal `json:"total_pool"`
	ParticipantCount int64           `json:"participant_count"`
	WinningOptionID  *string         `json:"winning_option_id,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	Options          []Option        `json:"options"`
}

// Option returns the option with the given id.
func (e Event) Option(id string) (Option, bool) {
	for _, o := range e.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// OpenAt reports whether stakes can be admitted at time now.
func (e Event) OpenAt(now time.Time) bool {
	return e.Status == EventStatusActive && now.Before(e.ExpiresAt)
}

// OptionsTotal sums TotalStaked over every option.
func (e Event) OptionsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range e.Options {
		sum = sum.Add(o.TotalStaked)
	}
	return sum
}

// Conserved reports whether TotalPool equals the sum of option totals.
func (e Event) Conserved() bool {
	return e.TotalPool.Equal(e.OptionsTotal())
}

// EventFilter narrows event listings.
type EventFilter struct {
	Status       EventStatus
	ExpiredAt    *time.Time // only events with expires_at <= this
	ResolvedFrom *time.Time // only events resolved at or after this
	ListOpts
}
