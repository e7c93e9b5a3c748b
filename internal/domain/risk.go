package domain

import (
	"fmt"
	"time"
)

// DailyRiskAggregate is a snapshot of one UTC day's resolved wagers. It is
// computed by the commitment store on demand and never cached.
type DailyRiskAggregate struct {
	Day      time.Time `json:"day"`      // UTC midnight the window starts at
	Wagered  int64     `json:"wagered"`  // sum of stakes
	Payouts  int64     `json:"payouts"`  // sum of winning payouts, owed or paid
	Paid     int64     `json:"paid"`     // payouts authorized for transfer
	Deferred int64     `json:"deferred"` // payouts held back or failed
	Count    int64     `json:"count"`
}

// HouseLoss is the net amount the house lost today. Negative means profit.
func (a DailyRiskAggregate) HouseLoss() int64 {
	return a.Payouts - a.Wagered
}

// UTCDay truncates t to midnight UTC.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RiskDenial is returned when the wager circuit breaker rejects a commit.
// It matches ErrRiskDenied under errors.Is.
type RiskDenial struct {
	Reason    string
	Aggregate DailyRiskAggregate
	ResetsAt  time.Time
}

func (d *RiskDenial) Error() string {
	return fmt.Sprintf("%s: %s (resets at %s)", ErrRiskDenied, d.Reason, d.ResetsAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrRiskDenied) match.
func (d *RiskDenial) Is(target error) bool {
	return target == ErrRiskDenied
}
