package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates point-affecting actions
type EventType string

const (
	EventTypeHabitCompletion   EventType = "habit_completion"
	EventTypeWorkoutCompletion EventType = "workout_completion"
	EventTypeTaskCompletion    EventType = "task_completion"
	EventTypeGoalCompletion    EventType = "goal_completion"
	EventTypeStreakBonus       EventType = "streak_bonus"
	EventTypeAdminAward        EventType = "admin_award"
	EventTypeRedeemCoupon      EventType = "redeem_coupon"
	EventTypeCorrection        EventType = "correction"
)

// IsAdminOnly reports whether the type carries an explicit delta and requires the admin role
func (t EventType) IsAdminOnly() bool {
	return t == EventTypeAdminAward || t == EventTypeCorrection
}

// Status is an event's validation status
type Status string

const (
	StatusPending       Status = "pending"
	StatusPendingReview Status = "pending_review"
	StatusValidated     Status = "validated"
	StatusRejected      Status = "rejected"
)

// IsFinal reports whether the status can no longer change
func (s Status) IsFinal() bool {
	return s == StatusValidated || s == StatusRejected
}

// IsHeld reports whether the event's points are held as pending
func (s Status) IsHeld() bool {
	return s == StatusPending || s == StatusPendingReview
}

// ProofType is how the client backs its claim
type ProofType string

const (
	ProofInternal    ProofType = "internal"
	ProofAttestation ProofType = "attestation"
	ProofThirdParty  ProofType = "third_party"
)

// Event is one row of the append-only ledger
type Event struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	EventType         EventType       `json:"event_type"`
	EventTime         time.Time       `json:"event_time"`
	PointsDelta       int             `json:"points_delta"`
	ProofType         ProofType       `json:"proof_type"`
	PayloadHash       string          `json:"-"`
	Nonce             string          `json:"-"`
	Status            Status          `json:"validation_status"`
	TrustScore        *int            `json:"trust_score,omitempty"`
	RelatedEntityType *string         `json:"related_entity_type,omitempty"`
	RelatedEntityID   *string         `json:"related_entity_id,omitempty"`
	DeviceID          *string         `json:"device_id,omitempty"`
	DeviceInfo        json.RawMessage `json:"device_info,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	ValidatedAt       *time.Time      `json:"validated_at,omitempty"`
	ValidatedBy       *string         `json:"validated_by,omitempty"`
	ValidationNotes   *string         `json:"validation_notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Balance is the materialized per-user view of the ledger
type Balance struct {
	UserID          uuid.UUID `json:"-"`
	AvailablePoints int64     `json:"available_points"`
	PendingPoints   int64     `json:"pending_points"`
	LifetimeEarned  int64     `json:"lifetime_earned"`
	LifetimeSpent   int64     `json:"lifetime_spent"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Activity is the user's recent history as seen under the balance lock
type Activity struct {
	EventsLastHour int
	EventsLastDay  int
	PointsLastHour int
	PointsLastDay  int
	// LastEventAt is the event_time of the newest non-rejected event, if any
	LastEventAt *time.Time
}

// Discrepancy is a user whose cached balance disagrees with the ledger
type Discrepancy struct {
	UserID     uuid.UUID `json:"user_id"`
	Cached     Balance   `json:"cached"`
	Recomputed Balance   `json:"recomputed"`
	Repaired   bool      `json:"repaired"`
}

// ReconcileReport summarizes a full audit
type ReconcileReport struct {
	UsersChecked  int           `json:"users_checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Repaired      int           `json:"repaired"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// HistoryFilter narrows a user's event history
type HistoryFilter struct {
	Status    *Status
	EventType *EventType
}
