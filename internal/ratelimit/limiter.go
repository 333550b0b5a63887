// Package ratelimit enforces per-user velocity ceilings over the user's
// rolling ledger history.
package ratelimit

import (
	"fmt"

	"github.com/richxcame/points-ledger/pkg/config"
)

// Ceiling identifies which limit a submission hit
type Ceiling string

const (
	CeilingHourlyEvents Ceiling = "hourly_events"
	CeilingDailyEvents  Ceiling = "daily_events"
	CeilingHourlyPoints Ceiling = "hourly_points"
	CeilingDailyPoints  Ceiling = "daily_points"
)

// Usage is the user's activity in the trailing hour and day. Rejected events are
// excluded; points count only the positive deltas of accepted or held events.
type Usage struct {
	EventsLastHour int
	EventsLastDay  int
	PointsLastHour int
	PointsLastDay  int
}

// Violation describes a breached ceiling
type Violation struct {
	Ceiling  Ceiling
	Limit    int
	Observed int
	Reason   string
}

func (v *Violation) Error() string {
	return v.Reason
}

// Limiter evaluates usage against the configured ceilings. It holds no state:
// callers read Usage under the user's balance-row lock so concurrent submissions
// from one user are checked one at a time.
type Limiter struct {
	cfg config.RateLimitConfig
}

// NewLimiter creates a limiter with the given ceilings
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{cfg: cfg}
}

// Check reports the first ceiling the candidate event would breach, or nil
func (l *Limiter) Check(u Usage, candidatePoints int) *Violation {
	gain := candidatePoints
	if gain < 0 {
		gain = 0
	}

	if u.EventsLastHour+1 > l.cfg.EventsPerHour {
		return &Violation{
			Ceiling:  CeilingHourlyEvents,
			Limit:    l.cfg.EventsPerHour,
			Observed: u.EventsLastHour + 1,
			Reason:   fmt.Sprintf("Hourly event limit of %d reached", l.cfg.EventsPerHour),
		}
	}
	if u.EventsLastDay+1 > l.cfg.EventsPerDay {
		return &Violation{
			Ceiling:  CeilingDailyEvents,
			Limit:    l.cfg.EventsPerDay,
			Observed: u.EventsLastDay + 1,
			Reason:   fmt.Sprintf("Daily event limit of %d reached", l.cfg.EventsPerDay),
		}
	}
	if u.PointsLastHour+gain > l.cfg.PointsPerHour {
		return &Violation{
			Ceiling:  CeilingHourlyPoints,
			Limit:    l.cfg.PointsPerHour,
			Observed: u.PointsLastHour + gain,
			Reason:   fmt.Sprintf("Hourly points limit of %d exceeded", l.cfg.PointsPerHour),
		}
	}
	if u.PointsLastDay+gain > l.cfg.PointsPerDay {
		return &Violation{
			Ceiling:  CeilingDailyPoints,
			Limit:    l.cfg.PointsPerDay,
			Observed: u.PointsLastDay + gain,
			Reason:   fmt.Sprintf("Daily points limit of %d exceeded", l.cfg.PointsPerDay),
		}
	}
	return nil
}

// Config returns the ceilings in force
func (l *Limiter) Config() config.RateLimitConfig {
	return l.cfg
}
