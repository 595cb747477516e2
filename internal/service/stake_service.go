package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/metrics"
	"github.com/alanyoungcy/poolbet/internal/pool"
)

// StakeConfig tunes the admission retry loop.
type StakeConfig struct {
	// MaxCommitRetries is how many times a commit that lost a version race
	// is retried from a fresh read before ErrConflict is returned.
	MaxCommitRetries int
	// RetryBaseDelay is the first backoff step; each retry doubles it, with
	// full jitter, up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultStakeConfig returns the production retry settings.
func DefaultStakeConfig() StakeConfig {
	return StakeConfig{
		MaxCommitRetries: 8,
		RetryBaseDelay:   5 * time.Millisecond,
		RetryMaxDelay:    250 * time.Millisecond,
	}
}

// PlaceStakeRequest is one bettor's request to back an option.
type PlaceStakeRequest struct {
	AccountID string
	EventID   string
	OptionID  string
	Amount    decimal.Decimal
	// ClientRef makes the request idempotent per account when set.
	ClientRef string
}

// StakeService quotes and admits stakes.
type StakeService struct {
	store  domain.PoolStore
	bus    domain.SignalBus
	cfg    StakeConfig
	logger *slog.Logger

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStakeService creates a StakeService. bus may be nil.
func NewStakeService(store domain.PoolStore, bus domain.SignalBus, cfg StakeConfig, logger *slog.Logger) *StakeService {
	if cfg.MaxCommitRetries < 0 {
		cfg.MaxCommitRetries = 0
	}
	return &StakeService{
		store:  store,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "stake_service")),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		sleep:  sleepCtx,
	}
}

// Quote prices a hypothetical stake against the current pool. It reads the
// event but never writes.
func (s *StakeService) Quote(ctx context.Context, eventID, optionID string, amount decimal.Decimal, callerUnlimited bool) (domain.Quote, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("stake_service: quote %s: %w", eventID, err)
	}
	q, err := pool.Quote(ev, optionID, amount, callerUnlimited)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("stake_service: quote %s: %w", eventID, err)
	}
	metrics.QuotesServed.Inc()
	return q, nil
}

// PlaceStake validates and commits a stake, returning its ID. A commit that
// loses a race with another admission is retried from a fresh read; nothing
// is written unless every check passes against the committed snapshot.
func (s *StakeService) PlaceStake(ctx context.Context, req PlaceStakeRequest) (string, error) {
	if req.ClientRef != "" {
		st, err := s.store.GetStakeByClientRef(ctx, req.AccountID, req.ClientRef)
		switch {
		case err == nil:
			return st.ID, nil
		case !errors.Is(err, domain.ErrNotFound):
			return "", fmt.Errorf("stake_service: place stake: %w", err)
		}
	}

	stakeID := s.newID()
	for attempt := 0; ; attempt++ {
		ev, err := s.tryPlace(ctx, req, stakeID)
		if err == nil {
			metrics.StakesAdmitted.Inc()
			metrics.AmountStaked.Add(req.Amount.InexactFloat64())
			s.publish(ctx, ev, req)
			return stakeID, nil
		}

		if errors.Is(err, domain.ErrAlreadyExists) && req.ClientRef != "" {
			// Lost the race to an identical request.
			if st, lerr := s.store.GetStakeByClientRef(ctx, req.AccountID, req.ClientRef); lerr == nil {
				return st.ID, nil
			}
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= s.cfg.MaxCommitRetries {
			metrics.StakesRejected.WithLabelValues(metrics.Reason(err)).Inc()
			return "", fmt.Errorf("stake_service: place stake on %s: %w", req.EventID, err)
		}

		metrics.CommitRetries.Inc()
		s.logger.DebugContext(ctx, "commit conflict, retrying",
			slog.String("event_id", req.EventID),
			slog.Int("attempt", attempt+1),
		)
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			return "", fmt.Errorf("stake_service: place stake on %s: %w", req.EventID, err)
		}
	}
}

// ListStakes returns the stakes placed on eventID.
func (s *StakeService) ListStakes(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.Stake, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("stake_service: list stakes %s: %w", eventID, err)
	}
	stakes, err := s.store.ListStakes(ctx, eventID, opts)
	if err != nil {
		return nil, fmt.Errorf("stake_service: list stakes %s: %w", eventID, err)
	}
	return stakes, nil
}

// GetStake returns one stake.
func (s *StakeService) GetStake(ctx context.Context, id string) (domain.Stake, error) {
	st, err := s.store.GetStake(ctx, id)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("stake_service: get stake %s: %w", id, err)
	}
	return st, nil
}

// tryPlace runs one read-validate-commit round and returns the snapshot it
// validated against.
func (s *StakeService) tryPlace(ctx context.Context, req PlaceStakeRequest, stakeID string) (domain.Event, error) {
	ev, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return domain.Event{}, err
	}
	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return domain.Event{}, err
	}

	now := s.now()
	if !ev.OpenAt(now) {
		return domain.Event{}, domain.ErrEventClosed
	}
	if _, err := pool.ValidateStake(ev, req.OptionID, req.Amount, acct.Unlimited); err != nil {
		return domain.Event{}, err
	}
	if !acct.CanAfford(req.Amount) {
		return domain.Event{}, domain.ErrInsufficientBalance
	}

	commit := domain.StakeCommit{
		Stake: domain.Stake{
			ID:        stakeID,
			EventID:   ev.ID,
			OptionID:  req.OptionID,
			AccountID: acct.ID,
			Amount:    req.Amount,
			PlacedAt:  now,
			Status:    domain.StakeStatusActive,
			ClientRef: req.ClientRef,
		},
		ExpectedVersion: ev.Version,
		Ledger: domain.LedgerEntry{
			ID:        s.newID(),
			AccountID: acct.ID,
			EventID:   ev.ID,
			StakeID:   stakeID,
			Kind:      domain.LedgerStakePlaced,
			Amount:    req.Amount.Neg(),
			CreatedAt: now,
		},
	}
	if err := s.store.CommitStake(ctx, commit); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// backoff returns a full-jitter delay for the given retry attempt.
func (s *StakeService) backoff(attempt int) time.Duration {
	base := s.cfg.RetryBaseDelay
	if base <= 0 {
		return 0
	}
	d := base << min(attempt, 16)
	if s.cfg.RetryMaxDelay > 0 && d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	return time.Duration(rand.Int64N(int64(d))) + time.Millisecond
}

// publish announces the pool after the stake. ev is the pre-commit
// snapshot; the commit advanced it by exactly this stake.
func (s *StakeService) publish(ctx context.Context, ev domain.Event, req PlaceStakeRequest) {
	if s.bus == nil {
		return
	}
	opts := make(map[string]string, len(ev.Options))
	for _, o := range ev.Options {
		total := o.TotalStaked
		if o.ID == req.OptionID {
			total = total.Add(req.Amount)
		}
		opts[o.ID] = total.StringFixed(pool.CurrencyPlaces)
	}
	payload, err := json.Marshal(domain.PoolUpdate{
		Type:      domain.UpdatePoolChanged,
		EventID:   ev.ID,
		TotalPool: ev.TotalPool.Add(req.Amount).StringFixed(pool.CurrencyPlaces),
		Options:   opts,
		Version:   ev.Version + 1,
		At:        s.now(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal pool update", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.PoolChannel(ev.ID), payload); err != nil {
		s.logger.WarnContext(ctx, "publish pool update",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
