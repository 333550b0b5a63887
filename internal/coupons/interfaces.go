package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/ledger"
)

var (
	ErrTemplateNotFound   = errors.New("coupon template not found")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponNotIssued    = errors.New("coupon is no longer issued")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// Tx is the redemption transaction: the ledger surface plus coupon writes
type Tx interface {
	ledger.Tx
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*Coupon, error)
	GetActiveTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	InsertCoupon(ctx context.Context, c *Coupon) error
}

// Repository defines coupon persistence
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ListActiveTemplates(ctx context.Context) ([]*Template, error)
	CreateTemplate(ctx context.Context, t *Template) error
	SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error

	ListUserCoupons(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Coupon, int64, error)
	GetCouponByHash(ctx context.Context, codeHash string) (*Coupon, error)
	// TransitionCoupon moves an issued coupon to status; ErrCouponNotIssued otherwise
	TransitionCoupon(ctx context.Context, id uuid.UUID, status Status, at time.Time) (*Coupon, error)
	RedeemByHash(ctx context.Context, codeHash string, at time.Time) (*Coupon, error)
	ExpireCoupons(ctx context.Context, now time.Time) (int64, error)
}

// TemplateCache holds the active template list between reads
type TemplateCache interface {
	Get(ctx context.Context) ([]*Template, bool)
	Set(ctx context.Context, templates []*Template)
	Invalidate(ctx context.Context)
}
