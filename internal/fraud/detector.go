package fraud

import (
	"math"
	"time"
)

// Detector inspects one user's recent window
type Detector interface {
	Type() InsightType
	Detect(w Window) *Finding
}

// VelocityDetector flags users whose event count approaches the rate ceiling
type VelocityDetector struct {
	hourlyCeiling int
	threshold     float64
}

// NewVelocityDetector raises an insight once a window holds threshold of the
// ceiling's allowance for that span
func NewVelocityDetector(hourlyCeiling int, threshold float64) *VelocityDetector {
	return &VelocityDetector{hourlyCeiling: hourlyCeiling, threshold: threshold}
}

func (d *VelocityDetector) Type() InsightType {
	return InsightVelocity
}

func (d *VelocityDetector) Detect(w Window) *Finding {
	allowance := float64(d.hourlyCeiling) * w.Span.Hours()
	if allowance <= 0 || w.Events == 0 {
		return nil
	}

	ratio := float64(w.Events) / allowance
	if ratio < d.threshold {
		return nil
	}

	return &Finding{
		Severity: severityFor(ratio),
		Score:    math.Min(math.Round(ratio*10000)/100, 100),
		Details: map[string]interface{}{
			"events":         w.Events,
			"points":         w.Points,
			"rejected":       w.Rejected,
			"window_seconds": int(w.Span / time.Second),
			"allowance":      allowance,
			"ratio":          math.Round(ratio*1000) / 1000,
		},
	}
}

func severityFor(ratio float64) Severity {
	switch {
	case ratio >= 1:
		return SeverityCritical
	case ratio >= 0.8:
		return SeverityHigh
	case ratio >= 0.65:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
