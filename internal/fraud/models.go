package fraud

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// InsightType names a detector
type InsightType string

const InsightVelocity InsightType = "velocity"

// Severity grades an insight
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Resolution is an admin's verdict on an insight
type Resolution string

const (
	ResolutionFalsePositive  Resolution = "false_positive"
	ResolutionConfirmedFraud Resolution = "confirmed_fraud"
)

// Insight is an advisory anomaly flag on a user
type Insight struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	InsightType     InsightType     `json:"insight_type"`
	Severity        Severity        `json:"severity"`
	Score           float64         `json:"score"`
	Details         json.RawMessage `json:"details,omitempty"`
	Resolved        bool            `json:"resolved"`
	Resolution      *Resolution     `json:"resolution,omitempty"`
	ResolvedBy      *string         `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNotes *string         `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Window is a user's recent activity as seen by the detectors
type Window struct {
	UserID   uuid.UUID
	Span     time.Duration
	Events   int
	Points   int
	Rejected int
}

// Finding is a detector's raw output before it becomes an Insight
type Finding struct {
	Severity Severity
	Score    float64
	Details  map[string]interface{}
}

// ResolveRequest closes an open insight. Either field may be sent: resolved=true
// without a resolution closes it as a false positive.
type ResolveRequest struct {
	Resolved   *bool  `json:"resolved"`
	Resolution string `json:"resolution" binding:"omitempty,oneof=false_positive confirmed_fraud"`
	Notes      string `json:"notes" binding:"max=1000"`
}

var (
	errResolveEmpty    = errors.New("resolution or resolved=true is required")
	errReopenInsight   = errors.New("resolved=false is not supported; open insights stay open until resolved")
	errResolveMismatch = errors.New("resolution cannot be set with resolved=false")
)

// outcome picks the resolution to record
func (r *ResolveRequest) outcome() (Resolution, error) {
	if r.Resolved != nil && !*r.Resolved {
		if r.Resolution != "" {
			return "", errResolveMismatch
		}
		return "", errReopenInsight
	}
	if r.Resolution != "" {
		return Resolution(r.Resolution), nil
	}
	if r.Resolved == nil {
		return "", errResolveEmpty
	}
	return ResolutionFalsePositive, nil
}
