package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subjects published on the ledger stream
const (
	SubjectEventAppended = "ledger.event.appended"
	SubjectEventReviewed = "ledger.event.reviewed"
	SubjectCouponIssued  = "ledger.coupon.issued"
)

// Event is the envelope carried on every subject
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent wraps data into an envelope with a fresh id
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Decode unmarshals the payload into v
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// EventAppendedData is published after a ledger event commits
type EventAppendedData struct {
	EventID     uuid.UUID `json:"event_id"`
	UserID      uuid.UUID `json:"user_id"`
	EventType   string    `json:"event_type"`
	Status      string    `json:"status"`
	PointsDelta int       `json:"points_delta"`
	TrustScore  *int      `json:"trust_score,omitempty"`
	EventTime   time.Time `json:"event_time"`
}

// EventReviewedData is published after an admin decision on a held event
type EventReviewedData struct {
	EventID    uuid.UUID `json:"event_id"`
	UserID     uuid.UUID `json:"user_id"`
	Status     string    `json:"status"`
	ReviewedBy string    `json:"reviewed_by"`
}

// CouponIssuedData is published after a redemption commits
type CouponIssuedData struct {
	CouponID    uuid.UUID `json:"coupon_id"`
	UserID      uuid.UUID `json:"user_id"`
	TemplateID  uuid.UUID `json:"template_id"`
	PointsSpent int       `json:"points_spent"`
	ExpiresAt   time.Time `json:"expires_at"`
}
