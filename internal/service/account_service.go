package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// CreateAccountRequest opens an account. An empty ID gets a fresh UUID.
type CreateAccountRequest struct {
	ID             string
	DisplayName    string
	OpeningBalance decimal.Decimal
	Unlimited      bool
}

// AccountService manages bettor accounts and their ledgers.
type AccountService struct {
	store  domain.PoolStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAccountService creates an AccountService.
func NewAccountService(store domain.PoolStore, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger.With(slog.String("component", "account_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount opens an account. A positive opening balance is recorded as
// a deposit ledger entry by the store.
func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (domain.Account, error) {
	if req.OpeningBalance.IsNegative() {
		return domain.Account{}, fmt.Errorf("account_service: create: %w", domain.ErrInvalidAmount)
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	acct := domain.Account{
		ID:            id,
		DisplayName:   strings.TrimSpace(req.DisplayName),
		Balance:       req.OpeningBalance,
		Unlimited:     req.Unlimited,
		TotalStaked:   decimal.Zero,
		TotalWinnings: decimal.Zero,
		CreatedAt:     s.now(),
	}
	if acct.DisplayName == "" {
		acct.DisplayName = id
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return domain.Account{}, fmt.Errorf("account_service: create %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "account created",
		slog.String("account_id", id),
		slog.String("opening_balance", acct.Balance.String()),
		slog.Bool("unlimited", acct.Unlimited),
	)
	return acct, nil
}

// GetAccount returns an account by ID.
func (s *AccountService) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: get %s: %w", id, err)
	}
	return acct, nil
}

// Ledger returns the account's ledger, newest first.
func (s *AccountService) Ledger(ctx context.Context, id string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	if _, err := s.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListLedger(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("account_service: ledger %s: %w", id, err)
	}
	return entries, nil
}

// EnsureHouseAccount creates the unlimited house operator account if it does
// not exist yet. Concurrent starters race benignly on ErrAlreadyExists.
func (s *AccountService) EnsureHouseAccount(ctx context.Context, id string) error {
	_, err := s.store.GetAccount(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("account_service: ensure house %s: %w", id, err)
	}
	_, err = s.CreateAccount(ctx, CreateAccountRequest{
		ID:             id,
		DisplayName:    "House",
		OpeningBalance: decimal.Zero,
		Unlimited:      true,
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	return nil
}
