package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/metrics"
	"github.com/alanyoungcy/poolbet/internal/notify"
)

// auditPageSize bounds each audit log read while looking for the last
// archive entry.
const auditPageSize = 100

// ArchiveJob copies settled events to cold storage. Each run covers the
// window from the previous run's end up to now minus archiveAfter, truncated
// to the minute. The first run after a start resumes from the until of the
// newest archive entry in the audit log, or reaches back lookback when there
// is none.
type ArchiveJob struct {
	archiver     domain.Archiver
	audit        domain.AuditStore
	notifier     *notify.Notifier
	archiveAfter time.Duration
	lookback     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	watermark time.Time
	resumed   bool
}

// NewArchiveJob creates an ArchiveJob. audit may be nil, in which case the
// job always starts lookback back.
func NewArchiveJob(archiver domain.Archiver, audit domain.AuditStore, notifier *notify.Notifier, archiveAfter, lookback time.Duration, logger *slog.Logger) *ArchiveJob {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &ArchiveJob{
		archiver:     archiver,
		audit:        audit,
		notifier:     notifier,
		archiveAfter: archiveAfter,
		lookback:     lookback,
		logger:       logger.With(slog.String("component", "archiver")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (a *ArchiveJob) Name() string { return "archive_settlements" }

// Run archives one window.
func (a *ArchiveJob) Run(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.resumed {
		if err := a.resume(ctx); err != nil {
			return err
		}
	}

	until := a.now().Add(-a.archiveAfter).Truncate(time.Minute)
	since := a.watermark
	if since.IsZero() {
		since = until.Add(-a.lookback)
	}
	if !since.Before(until) {
		return nil
	}

	n, err := a.archiver.ArchiveSettlements(ctx, since, until)
	if err != nil {
		msg := fmt.Sprintf("Archiving settlements %s to %s failed: %v",
			since.Format(time.RFC3339), until.Format(time.RFC3339), err)
		if nerr := a.notifier.Notify(ctx, notify.EventArchiveFailed, "Archive failed", msg); nerr != nil {
			a.logger.WarnContext(ctx, "archive failure notify failed", slog.String("error", nerr.Error()))
		}
		return fmt.Errorf("pipeline: archive settlements: %w", err)
	}

	a.watermark = until
	metrics.SettlementsArchived.Add(float64(n))
	a.logger.InfoContext(ctx, "settlements archived",
		slog.Time("since", since),
		slog.Time("until", until),
		slog.Int64("count", n),
	)
	return nil
}

// resume loads the watermark from the newest archive audit entry.
func (a *ArchiveJob) resume(ctx context.Context) error {
	if a.audit != nil {
		until, err := lastArchivedUntil(ctx, a.audit)
		if err != nil {
			return fmt.Errorf("pipeline: resume archive watermark: %w", err)
		}
		if !until.IsZero() {
			a.watermark = until
			a.logger.InfoContext(ctx, "archive watermark resumed", slog.Time("until", until))
		}
	}
	a.resumed = true
	return nil
}

// lastArchivedUntil walks the audit log newest first and returns the until
// of the first archive entry, or the zero time when there is none.
func lastArchivedUntil(ctx context.Context, audit domain.AuditStore) (time.Time, error) {
	for offset := 0; ; offset += auditPageSize {
		entries, err := audit.List(ctx, domain.ListOpts{Limit: auditPageSize, Offset: offset})
		if err != nil {
			return time.Time{}, err
		}
		for _, e := range entries {
			if e.Event != domain.AuditArchiveSettlements {
				continue
			}
			raw, _ := e.Detail["until"].(string)
			until, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return time.Time{}, fmt.Errorf("audit entry %d: bad until %q: %w", e.ID, raw, err)
			}
			return until.UTC(), nil
		}
		if len(entries) < auditPageSize {
			return time.Time{}, nil
		}
	}
}
