package domain

import (
	"context"
	"time"
)

// ReportCache keeps settlement reports, which never change once written.
type ReportCache interface {
	Set(ctx context.Context, report SettlementReport) error
	Get(ctx context.Context, eventID string) (SettlementReport, error)
}

// RateLimiter provides per-key rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PoolChannel is the SignalBus channel carrying updates for one event.
func PoolChannel(eventID string) string {
	return "pool:" + eventID
}

// SettlementStream is the durable stream of settled events.
const SettlementStream = "stream:settlements"

// PoolUpdate types.
const (
	UpdatePoolChanged  = "pool_updated"
	UpdateEventSettled = "event_settled"
)

// PoolUpdate is published on PoolChannel after each admitted stake and once
// more when the event settles. Money is rendered as fixed 2-decimal strings.
type PoolUpdate struct {
	Type            string            `json:"type"`
	EventID         string            `json:"event_id"`
	TotalPool       string            `json:"total_pool"`
	Options         map[string]string `json:"options"`
	Version         int64             `json:"version"`
	WinningOptionID string            `json:"winning_option_id,omitempty"`
	At              time.Time         `json:"at"`
}
