// Package risk holds the two circuit-breaker policies: wager admission before
// money moves and payout admission before the hot wallet is debited. Both are
// pure functions of an explicitly passed daily aggregate.
package risk

import (
	"fmt"
	"time"

	"github.com/aklo360/cc-sub001/internal/domain"
)

const bpsDenominator = 10_000

// Limits configures the engine. Zero ceilings disable that check.
type Limits struct {
	HouseEdgeBps       int64
	DailyLossLimit     int64
	PerPayoutCeiling   int64
	DailyPayoutCeiling int64
}

// Engine evaluates risk policy. It is safe for concurrent use.
type Engine struct {
	limits Limits
}

// NewEngine returns an engine enforcing limits.
func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits}
}

// Limits returns the configured limits.
func (e *Engine) Limits() Limits { return e.limits }

// MultiplierBps is the win multiplier in basis points: 2x minus twice the edge.
func (e *Engine) MultiplierBps() int64 {
	return 2*bpsDenominator - 2*e.limits.HouseEdgeBps
}

// Payout returns the amount a winning stake pays, rounded down.
func (e *Engine) Payout(stake int64) int64 {
	return stake * e.MultiplierBps() / bpsDenominator
}

// MaxPossibleLoss is what the house loses if stake wins.
func (e *Engine) MaxPossibleLoss(stake int64) int64 {
	return e.Payout(stake) - stake
}

// Decision is the result of a policy check.
type Decision struct {
	Admit    bool
	Reason   string
	ResetsAt time.Time
}

// AdmitWager applies the daily loss circuit breaker. A wager landing exactly
// on the limit is admitted.
func (e *Engine) AdmitWager(now time.Time, agg domain.DailyRiskAggregate, maxPossibleLoss int64) Decision {
	agg = current(now, agg)
	loss := agg.HouseLoss()
	if e.limits.DailyLossLimit > 0 && loss+maxPossibleLoss > e.limits.DailyLossLimit {
		return Decision{
			Reason: fmt.Sprintf("daily loss %d plus potential loss %d exceeds limit %d",
				loss, maxPossibleLoss, e.limits.DailyLossLimit),
			ResetsAt: NextReset(now),
		}
	}
	return Decision{Admit: true}
}

// Deny converts a rejected wager decision into the typed denial error.
func Deny(d Decision, agg domain.DailyRiskAggregate) error {
	if d.Admit {
		return nil
	}
	return &domain.RiskDenial{Reason: d.Reason, Aggregate: agg, ResetsAt: d.ResetsAt}
}

// AdmitPayout decides whether a win is paid now or deferred. It never
// denies: the wager already happened.
func (e *Engine) AdmitPayout(now time.Time, agg domain.DailyRiskAggregate, payout, hotBalance int64) Decision {
	agg = current(now, agg)
	switch {
	case e.limits.PerPayoutCeiling > 0 && payout > e.limits.PerPayoutCeiling:
		return Decision{Reason: fmt.Sprintf("payout %d exceeds per-payout ceiling %d", payout, e.limits.PerPayoutCeiling)}
	case e.limits.DailyPayoutCeiling > 0 && agg.Paid+payout > e.limits.DailyPayoutCeiling:
		return Decision{
			Reason:   fmt.Sprintf("daily payouts %d plus %d exceed ceiling %d", agg.Paid, payout, e.limits.DailyPayoutCeiling),
			ResetsAt: NextReset(now),
		}
	case payout > hotBalance:
		return Decision{Reason: fmt.Sprintf("payout %d exceeds hot wallet balance %d", payout, hotBalance)}
	}
	return Decision{Admit: true}
}

// Stats summarizes the current day for operators.
type Stats struct {
	Day                  time.Time `json:"day"`
	Wagered              int64     `json:"wagered"`
	Payouts              int64     `json:"payouts"`
	Paid                 int64     `json:"paid"`
	Deferred             int64     `json:"deferred"`
	Count                int64     `json:"count"`
	HouseLoss            int64     `json:"house_loss"`
	DailyLossLimit       int64     `json:"daily_loss_limit"`
	CircuitBreakerActive bool      `json:"circuit_breaker_active"`
	ResetsAt             time.Time `json:"resets_at"`
}

// Stats reports the aggregate against the limits. The breaker is active when
// even a minimum stake would be refused.
func (e *Engine) Stats(now time.Time, agg domain.DailyRiskAggregate, minStake int64) Stats {
	agg = current(now, agg)
	return Stats{
		Day:                  domain.UTCDay(now),
		Wagered:              agg.Wagered,
		Payouts:              agg.Payouts,
		Paid:                 agg.Paid,
		Deferred:             agg.Deferred,
		Count:                agg.Count,
		HouseLoss:            agg.HouseLoss(),
		DailyLossLimit:       e.limits.DailyLossLimit,
		CircuitBreakerActive: !e.AdmitWager(now, agg, e.MaxPossibleLoss(minStake)).Admit,
		ResetsAt:             NextReset(now),
	}
}

// NextReset returns the next UTC midnight after now.
func NextReset(now time.Time) time.Time {
	return domain.UTCDay(now).AddDate(0, 0, 1)
}

// current drops a snapshot taken on a different UTC date.
func current(now time.Time, agg domain.DailyRiskAggregate) domain.DailyRiskAggregate {
	today := domain.UTCDay(now)
	if !agg.Day.IsZero() && !domain.UTCDay(agg.Day).Equal(today) {
		return domain.DailyRiskAggregate{Day: today}
	}
	return agg
}
