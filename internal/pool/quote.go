// Package pool holds the pari-mutuel arithmetic: stake caps, quotes and
// settlement plans. Every function here is pure; callers supply the pool
// snapshot and apply the results.
package pool

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// CurrencyPlaces is the number of decimals money is rounded to at output.
const CurrencyPlaces = 2

var (
	// HouseEdge is the fraction of the opposing pool the operator keeps.
	// Quotes and settlement both use it.
	HouseEdge = decimal.RequireFromString("0.15")

	// MaxStakeFraction caps a single stake relative to the current pool.
	MaxStakeFraction = decimal.RequireFromString("0.20")

	// MinimumStake is the cap floor so empty pools stay bettable.
	MinimumStake = decimal.NewFromInt(100)

	hundred   = decimal.NewFromInt(100)
	winnerCut = decimal.NewFromInt(1).Sub(HouseEdge)
)

// MaxStake returns max(MinimumStake, totalPool * MaxStakeFraction).
func MaxStake(totalPool decimal.Decimal) decimal.Decimal {
	return decimal.Max(MinimumStake, totalPool.Mul(MaxStakeFraction))
}

// ValidateStake runs the admission checks shared by quoting and placement and
// returns the chosen option.
func ValidateStake(ev domain.Event, optionID string, amount decimal.Decimal, unlimited bool) (domain.Option, error) {
	if !amount.IsPositive() {
		return domain.Option{}, domain.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(CurrencyPlaces)) {
		return domain.Option{}, fmt.Errorf("%w: %s has more than %d decimals", domain.ErrInvalidAmount, amount, CurrencyPlaces)
	}
	opt, ok := ev.Option(optionID)
	if !ok {
		return domain.Option{}, fmt.Errorf("option %s: %w", optionID, domain.ErrInvalidOption)
	}
	if limit := MaxStake(ev.TotalPool); !unlimited && amount.GreaterThan(limit) {
		return domain.Option{}, fmt.Errorf("%w: %s > %s", domain.ErrStakeTooLarge, amount, limit.StringFixed(CurrencyPlaces))
	}
	return opt, nil
}

// Return is what stake pays if its option wins, given the option's pool and
// the opposing pool, both including the stake itself where applicable.
// With no opposition the stake is simply refunded.
func Return(stake, optionPool, otherPool decimal.Decimal) decimal.Decimal {
	if !otherPool.IsPositive() || !optionPool.IsPositive() {
		return stake
	}
	// stake + stake/optionPool * otherPool * (1-h), multiplied first to keep
	// the single division at the end.
	profit := stake.Mul(otherPool).Mul(winnerCut).Div(optionPool)
	return stake.Add(profit)
}

// Quote prices a hypothetical stake against the snapshot ev. It never
// mutates anything.
func Quote(ev domain.Event, optionID string, amount decimal.Decimal, unlimited bool) (domain.Quote, error) {
	opt, err := ValidateStake(ev, optionID, amount, unlimited)
	if err != nil {
		return domain.Quote{}, err
	}

	newTotal := ev.TotalPool.Add(amount)
	newOption := opt.TotalStaked.Add(amount)
	other := newTotal.Sub(newOption)

	ret := amount
	if !newTotal.Equal(amount) && other.IsPositive() {
		ret = Return(amount, newOption, other)
	}

	odds := ret.Div(amount)
	if odds.LessThan(decimal.NewFromInt(1)) {
		odds = decimal.NewFromInt(1)
	}

	return domain.Quote{
		EventID:            ev.ID,
		OptionID:           opt.ID,
		Stake:              amount.Round(CurrencyPlaces),
		Return:             ret.Round(CurrencyPlaces),
		Profit:             ret.Sub(amount).Round(CurrencyPlaces),
		EffectiveOdds:      odds.Round(CurrencyPlaces),
		ImpliedProbability: hundred.Div(odds).Round(CurrencyPlaces),
		PoolShare:          amount.Mul(hundred).Div(newOption).Round(CurrencyPlaces),
		MaxStake:           MaxStake(ev.TotalPool).Round(CurrencyPlaces),
	}, nil
}
