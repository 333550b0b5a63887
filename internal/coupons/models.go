package coupons

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is a coupon's lifecycle state
type Status string

const (
	StatusIssued   Status = "issued"
	StatusRedeemed Status = "redeemed"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

// Template is a redeemable reward definition
type Template struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Description   *string         `json:"description,omitempty"`
	PointCost     int             `json:"point_cost"`
	ExpiresInDays *int            `json:"expires_in_days,omitempty"`
	IsActive      bool            `json:"is_active"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Coupon is an issued reward. The plaintext code is never stored, only its HMAC.
type Coupon struct {
	ID             uuid.UUID  `json:"id"`
	CodeHash       string     `json:"-"`
	TemplateID     uuid.UUID  `json:"template_id"`
	UserID         uuid.UUID  `json:"user_id"`
	EventID        uuid.UUID  `json:"event_id"`
	IdempotencyKey string     `json:"-"`
	PointsSpent    int        `json:"points_spent"`
	Status         Status     `json:"status"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	RedeemedAt     *time.Time `json:"redeemed_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// RedeemRequest exchanges points for a coupon
type RedeemRequest struct {
	TemplateID     uuid.UUID `json:"template_id" binding:"required"`
	IdempotencyKey string    `json:"idempotency_key" binding:"required,idempotency_key"`
}

// RedeemResult is returned once per redemption. CouponCode is empty on replays.
type RedeemResult struct {
	Success         bool      `json:"success"`
	CouponID        uuid.UUID `json:"coupon_id"`
	CouponCode      string    `json:"coupon_code,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	PointsRemaining int64     `json:"points_remaining"`
	Replayed        bool      `json:"replayed"`
}

// CreateTemplateRequest defines a new reward
type CreateTemplateRequest struct {
	Name          string                 `json:"name" binding:"required,max=200"`
	Description   *string                `json:"description,omitempty"`
	PointCost     int                    `json:"point_cost" binding:"required,min=1"`
	ExpiresInDays *int                   `json:"expires_in_days,omitempty" binding:"omitempty,min=1,max=3650"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// SetActiveRequest toggles a template
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// MarkRedeemedRequest consumes a coupon at its point of use
type MarkRedeemedRequest struct {
	Code string `json:"code" binding:"required"`
}
