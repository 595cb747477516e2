package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/metrics"
	"github.com/alanyoungcy/poolbet/internal/notify"
	"github.com/alanyoungcy/poolbet/internal/pool"
)

// SettlementConfig configures SettlementService.
type SettlementConfig struct {
	HouseAccountID string
	// LockTTL bounds how long one settlement may hold the per-event lock.
	LockTTL time.Duration
}

// SettlementService resolves events and serves their reports.
type SettlementService struct {
	store    domain.PoolStore
	audit    domain.AuditStore
	locks    domain.LockManager
	reports  domain.ReportCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	settler  pool.Settler
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService. locks, reports, bus and
// notifier are optional.
func NewSettlementService(
	store domain.PoolStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	reports domain.ReportCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	cfg SettlementConfig,
	logger *slog.Logger,
) *SettlementService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &SettlementService{
		store:    store,
		audit:    audit,
		locks:    locks,
		reports:  reports,
		bus:      bus,
		notifier: notifier,
		settler:  pool.Settler{HouseAccountID: cfg.HouseAccountID},
		lockTTL:  cfg.LockTTL,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// Settle resolves eventID in favour of winningOptionID and returns the
// committed report. A second call for the same event returns
// ErrAlreadySettled and changes nothing.
func (s *SettlementService) Settle(ctx context.Context, eventID, winningOptionID string) (*domain.SettlementReport, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "settle:"+eventID, s.lockTTL)
		if err != nil {
			metrics.Settlements.WithLabelValues("locked").Inc()
			return nil, fmt.Errorf("settlement_service: settle %s: %w", eventID, err)
		}
		defer unlock()
	}

	start := time.Now()
	plan, err := s.store.SettleEvent(ctx, eventID, s.settler.Planner(winningOptionID))
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrSettlementInvariantViolation) {
			s.reportViolation(ctx, eventID, winningOptionID, err)
			metrics.Settlements.WithLabelValues("invariant_violation").Inc()
		} else {
			metrics.Settlements.WithLabelValues(settleOutcome(err)).Inc()
		}
		return nil, fmt.Errorf("settlement_service: settle %s: %w", eventID, err)
	}
	metrics.Settlements.WithLabelValues("settled").Inc()

	report := plan.Report
	s.logger.InfoContext(ctx, "event settled",
		slog.String("event_id", eventID),
		slog.String("winning_option_id", winningOptionID),
		slog.String("total_pool", report.TotalPool.String()),
		slog.String("house_cut", report.HouseCut.String()),
		slog.String("residual", report.Residual.String()),
		slog.Int("winners", report.WinnerCount),
		slog.Int("losers", report.LoserCount),
	)
	s.afterSettle(ctx, report)
	return &report, nil
}

// Report returns the settlement report for eventID, preferring the cache.
func (s *SettlementService) Report(ctx context.Context, eventID string) (domain.SettlementReport, error) {
	if s.reports != nil {
		if r, err := s.reports.Get(ctx, eventID); err == nil {
			return r, nil
		}
	}
	r, err := s.store.GetSettlement(ctx, eventID)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement_service: report %s: %w", eventID, err)
	}
	if s.reports != nil {
		if cerr := s.reports.Set(ctx, r); cerr != nil {
			s.logger.WarnContext(ctx, "report cache set failed",
				slog.String("event_id", eventID),
				slog.String("error", cerr.Error()),
			)
		}
	}
	return r, nil
}

// ListSettlements returns settled events, most recent first.
func (s *SettlementService) ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementReport, error) {
	reports, err := s.store.ListSettlements(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list: %w", err)
	}
	return reports, nil
}

// afterSettle runs the post-commit side effects. None of them can undo the
// settlement, so failures are logged and swallowed.
func (s *SettlementService) afterSettle(ctx context.Context, report domain.SettlementReport) {
	if s.reports != nil {
		if err := s.reports.Set(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "report cache set failed",
				slog.String("event_id", report.EventID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		s.publishSettled(ctx, report)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "settlement", map[string]any{
			"event_id":          report.EventID,
			"winning_option_id": report.WinningOptionID,
			"total_pool":        report.TotalPool.String(),
			"house_cut":         report.HouseCut.String(),
			"total_paid":        report.TotalPaid.String(),
			"residual":          report.Residual.String(),
			"winners":           report.WinnerCount,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	msg := fmt.Sprintf("Event %s settled on %s. Pool %s, house cut %s, paid %s to %d winner(s).",
		report.EventID, report.WinningOptionID,
		report.TotalPool.StringFixed(pool.CurrencyPlaces),
		report.HouseCut.StringFixed(pool.CurrencyPlaces),
		report.TotalPaid.StringFixed(pool.CurrencyPlaces),
		report.WinnerCount)
	if err := s.notifier.Notify(ctx, notify.EventSettled, "Event settled", msg); err != nil {
		s.logger.WarnContext(ctx, "settlement notify failed", slog.String("error", err.Error()))
	}
}

func (s *SettlementService) publishSettled(ctx context.Context, report domain.SettlementReport) {
	opts := make(map[string]string)
	ev, err := s.store.GetEvent(ctx, report.EventID)
	if err == nil {
		for _, o := range ev.Options {
			opts[o.ID] = o.TotalStaked.StringFixed(pool.CurrencyPlaces)
		}
	}
	payload, err := json.Marshal(domain.PoolUpdate{
		Type:            domain.UpdateEventSettled,
		EventID:         report.EventID,
		TotalPool:       report.TotalPool.StringFixed(pool.CurrencyPlaces),
		Options:         opts,
		Version:         ev.Version,
		WinningOptionID: report.WinningOptionID,
		At:              report.SettledAt,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal settlement update", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.PoolChannel(report.EventID), payload); err != nil {
		s.logger.WarnContext(ctx, "publish settlement update", slog.String("error", err.Error()))
	}

	streamPayload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, domain.SettlementStream, streamPayload); err != nil {
		s.logger.WarnContext(ctx, "settlement stream append failed", slog.String("error", err.Error()))
	}
}

// reportViolation raises an invariant violation on every channel we have.
// The transaction already rolled back; this only makes it loud.
func (s *SettlementService) reportViolation(ctx context.Context, eventID, winningOptionID string, cause error) {
	metrics.InvariantViolations.Inc()

	attrs := []any{
		slog.String("event_id", eventID),
		slog.String("winning_option_id", winningOptionID),
		slog.String("error", cause.Error()),
	}
	detail := map[string]any{
		"event_id":          eventID,
		"winning_option_id": winningOptionID,
		"error":             cause.Error(),
	}
	if ev, err := s.store.GetEvent(ctx, eventID); err == nil {
		attrs = append(attrs,
			slog.String("total_pool", ev.TotalPool.String()),
			slog.String("options_total", ev.OptionsTotal().String()),
			slog.Int64("version", ev.Version),
		)
		detail["total_pool"] = ev.TotalPool.String()
		detail["options_total"] = ev.OptionsTotal().String()
	}
	s.logger.ErrorContext(ctx, "settlement invariant violated", attrs...)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "settlement.invariant_violation", detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if err := s.notifier.Notify(ctx, notify.EventInvariantViolation,
		"Settlement invariant violated",
		fmt.Sprintf("Settlement of event %s was aborted: %v", eventID, cause)); err != nil {
		s.logger.WarnContext(ctx, "violation notify failed", slog.String("error", err.Error()))
	}
}

func settleOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, domain.ErrNotActive):
		return "not_active"
	default:
		return "error"
	}
}
