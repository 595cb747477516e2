// Package metrics declares the engine's Prometheus collectors. They register
// on the default registry and are served by promhttp on /metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

var QuotesServed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poolbet",
	Subsystem: "quote",
	Name:      "served_total",
	Help:      "Quotes computed.",
})

var StakesAdmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poolbet",
	Subsystem: "stake",
	Name:      "admitted_total",
	Help:      "Stakes committed to a pool.",
})

var StakesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poolbet",
	Subsystem: "stake",
	Name:      "rejected_total",
	Help:      "Stake placements refused, by reason.",
}, []string{"reason"})

var AmountStaked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poolbet",
	Subsystem: "stake",
	Name:      "amount_total",
	Help:      "Currency units staked.",
})

var CommitRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poolbet",
	Subsystem: "stake",
	Name:      "commit_retries_total",
	Help:      "Admissions retried after a concurrent pool update.",
})

var Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poolbet",
	Subsystem: "settlement",
	Name:      "total",
	Help:      "Settlement attempts, by outcome.",
}, []string{"outcome"})

var InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poolbet",
	Name:      "settlement_invariant_violations_total",
	Help:      "Settlements aborted because payouts would exceed the pool.",
})

var SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "poolbet",
	Subsystem: "settlement",
	Name:      "duration_seconds",
	Help:      "Time to plan and commit one settlement.",
	Buckets:   prometheus.DefBuckets,
})

var SettlementsArchived = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poolbet",
	Subsystem: "archive",
	Name:      "settlements_total",
	Help:      "Settlement reports written to object storage.",
})

var WSClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "poolbet",
	Subsystem: "ws",
	Name:      "clients",
	Help:      "Connected websocket clients.",
})

// Reason maps an admission error onto a low-cardinality label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, domain.ErrStakeTooLarge):
		return "too_large"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrEventClosed):
		return "event_closed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
