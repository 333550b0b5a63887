package ratelimit

import (
	"testing"

	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() *Limiter {
	return NewLimiter(config.DefaultRateLimitConfig())
}

func TestCheck_UnderAllCeilings(t *testing.T) {
	v := newTestLimiter().Check(Usage{EventsLastHour: 10, EventsLastDay: 50, PointsLastHour: 100, PointsLastDay: 400}, 25)
	assert.Nil(t, v)
}

func TestCheck_HundredAndFirstEventInHour(t *testing.T) {
	l := newTestLimiter()

	assert.Nil(t, l.Check(Usage{EventsLastHour: 99, EventsLastDay: 99}, 0), "the 100th event is allowed")

	v := l.Check(Usage{EventsLastHour: 100, EventsLastDay: 100}, 0)
	require.NotNil(t, v)
	assert.Equal(t, CeilingHourlyEvents, v.Ceiling)
	assert.Contains(t, v.Reason, "Hourly event limit")
	assert.Equal(t, 101, v.Observed)
}

func TestCheck_DailyEventCeiling(t *testing.T) {
	v := newTestLimiter().Check(Usage{EventsLastHour: 3, EventsLastDay: 500}, 0)

	require.NotNil(t, v)
	assert.Equal(t, CeilingDailyEvents, v.Ceiling)
	assert.Contains(t, v.Reason, "Daily event limit")
}

func TestCheck_SingleLargeEventHitsHourlyPoints(t *testing.T) {
	v := newTestLimiter().Check(Usage{}, 1001)

	require.NotNil(t, v)
	assert.Equal(t, CeilingHourlyPoints, v.Ceiling)
	assert.Contains(t, v.Reason, "Hourly points limit")
}

func TestCheck_HourlyPointsBoundary(t *testing.T) {
	l := newTestLimiter()

	assert.Nil(t, l.Check(Usage{PointsLastHour: 990}, 10))
	assert.NotNil(t, l.Check(Usage{PointsLastHour: 990}, 11))
}

func TestCheck_DailyPointsCeiling(t *testing.T) {
	v := newTestLimiter().Check(Usage{PointsLastHour: 0, PointsLastDay: 4990}, 20)

	require.NotNil(t, v)
	assert.Equal(t, CeilingDailyPoints, v.Ceiling)
	assert.Contains(t, v.Reason, "Daily points limit")
}

func TestCheck_NegativeDeltaDoesNotCountAsGain(t *testing.T) {
	v := newTestLimiter().Check(Usage{PointsLastHour: 1000, PointsLastDay: 1000}, -50)
	assert.Nil(t, v)
}

func TestCheck_CustomCeilings(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{EventsPerHour: 2, EventsPerDay: 10, PointsPerHour: 50, PointsPerDay: 100})

	assert.Nil(t, l.Check(Usage{EventsLastHour: 1, EventsLastDay: 1}, 10))
	v := l.Check(Usage{EventsLastHour: 2, EventsLastDay: 2}, 10)
	require.NotNil(t, v)
	assert.Equal(t, 2, v.Limit)
	assert.EqualError(t, v, v.Reason)
}
