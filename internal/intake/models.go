package intake

import (
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/ledger"
)

// SubmitRequest is a client's claim that the user performed an action
type SubmitRequest struct {
	EventType         string                 `json:"event_type" binding:"required,max=50"`
	EventTime         time.Time              `json:"event_time" binding:"required"`
	Nonce             string                 `json:"nonce" binding:"required,max=64"`
	ProofType         string                 `json:"proof_type,omitempty" binding:"omitempty,proof_type"`
	RelatedEntityType *string                `json:"related_entity_type,omitempty" binding:"omitempty,max=50"`
	RelatedEntityID   *string                `json:"related_entity_id,omitempty" binding:"omitempty,max=100"`
	DeviceID          *string                `json:"device_id,omitempty" binding:"omitempty,max=255"`
	DeviceInfo        map[string]interface{} `json:"device_info,omitempty"`
	Payload           map[string]interface{} `json:"payload,omitempty"`

	// Honored only for admin_award and correction
	PointsDelta  *int       `json:"points_delta,omitempty"`
	TargetUserID *uuid.UUID `json:"user_id,omitempty"`
	Notes        *string    `json:"notes,omitempty" binding:"omitempty,max=1000"`
}

// SubmitResult is the outcome returned to the caller
type SubmitResult struct {
	ID          uuid.UUID     `json:"id"`
	Status      ledger.Status `json:"status"`
	Duplicate   bool          `json:"duplicate"`
	PointsDelta int           `json:"points_delta"`
	TrustScore  *int          `json:"trust_score,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

func resultFrom(e *ledger.Event, duplicate bool, reason string) *SubmitResult {
	return &SubmitResult{
		ID:          e.ID,
		Status:      e.Status,
		Duplicate:   duplicate,
		PointsDelta: e.PointsDelta,
		TrustScore:  e.TrustScore,
		Reason:      reason,
	}
}
