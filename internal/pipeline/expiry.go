package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/notify"
)

// ExpiredLister finds active events past their expiry.
type ExpiredLister interface {
	ExpiredUnsettled(ctx context.Context, now time.Time) ([]domain.Event, error)
}

// ExpiryWatcher alerts operators about events that stopped accepting stakes
// but were never settled. Each event is reported at most once per dedup TTL.
type ExpiryWatcher struct {
	events   ExpiredLister
	notifier *notify.Notifier
	dedup    *Dedup
	logger   *slog.Logger
	now      func() time.Time
}

// NewExpiryWatcher creates an ExpiryWatcher.
func NewExpiryWatcher(events ExpiredLister, notifier *notify.Notifier, dedupTTL time.Duration, logger *slog.Logger) *ExpiryWatcher {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &ExpiryWatcher{
		events:   events,
		notifier: notifier,
		dedup:    NewDedup(dedupTTL),
		logger:   logger.With(slog.String("component", "expiry_watcher")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *ExpiryWatcher) Name() string { return "expiry_watch" }

// Run checks once.
func (w *ExpiryWatcher) Run(ctx context.Context) error {
	w.dedup.Cleanup()

	now := w.now()
	expired, err := w.events.ExpiredUnsettled(ctx, now)
	if err != nil {
		return fmt.Errorf("pipeline: list expired events: %w", err)
	}

	reported := 0
	for _, ev := range expired {
		if w.dedup.Seen(ev.ID) {
			continue
		}
		reported++
		w.logger.WarnContext(ctx, "event expired but not settled",
			slog.String("event_id", ev.ID),
			slog.String("title", ev.Title),
			slog.Time("expires_at", ev.ExpiresAt),
			slog.String("total_pool", ev.TotalPool.String()),
		)
		msg := fmt.Sprintf("Event %q (%s) expired at %s with %s staked and is awaiting settlement.",
			ev.Title, ev.ID, ev.ExpiresAt.Format(time.RFC3339), ev.TotalPool.StringFixed(2))
		if err := w.notifier.Notify(ctx, notify.EventExpiredUnsettled, "Event awaiting settlement", msg); err != nil {
			w.logger.WarnContext(ctx, "expiry notify failed", slog.String("error", err.Error()))
		}
	}
	if reported > 0 {
		w.logger.InfoContext(ctx, "expiry check complete",
			slog.Int("expired", len(expired)),
			slog.Int("reported", reported),
		)
	}
	return nil
}
