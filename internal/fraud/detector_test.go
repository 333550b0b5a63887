package fraud

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVelocityDetector(t *testing.T) {
	d := NewVelocityDetector(100, 0.5)

	tests := []struct {
		name     string
		events   int
		span     time.Duration
		severity Severity
		score    float64
		flagged  bool
	}{
		{name: "quiet user", events: 10, span: time.Hour},
		{name: "just under threshold", events: 49, span: time.Hour},
		{name: "at threshold", events: 50, span: time.Hour, flagged: true, severity: SeverityLow, score: 50},
		{name: "medium", events: 70, span: time.Hour, flagged: true, severity: SeverityMedium, score: 70},
		{name: "high", events: 85, span: time.Hour, flagged: true, severity: SeverityHigh, score: 85},
		{name: "at ceiling", events: 100, span: time.Hour, flagged: true, severity: SeverityCritical, score: 100},
		{name: "score capped", events: 250, span: time.Hour, flagged: true, severity: SeverityCritical, score: 100},
		{name: "half hour window scales allowance", events: 40, span: 30 * time.Minute, flagged: true, severity: SeverityHigh, score: 80},
		{name: "no events", events: 0, span: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := d.Detect(Window{UserID: uuid.New(), Span: tt.span, Events: tt.events})
			if !tt.flagged {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.severity, f.Severity)
			assert.InDelta(t, tt.score, f.Score, 0.01)
			assert.Equal(t, tt.events, f.Details["events"])
		})
	}
}

func TestVelocityDetector_ZeroCeiling(t *testing.T) {
	d := NewVelocityDetector(0, 0.5)
	assert.Nil(t, d.Detect(Window{Span: time.Hour, Events: 1000}))
	assert.Equal(t, InsightVelocity, d.Type())
}
