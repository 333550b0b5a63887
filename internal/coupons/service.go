// Package coupons exchanges available points for single-use reward codes and
// manages the templates and coupon lifecycle around that exchange.
package coupons

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/database"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/richxcame/points-ledger/pkg/logger"
	"github.com/richxcame/points-ledger/pkg/resilience"
	"go.uber.org/zap"
)

const (
	eventSource       = "ledger-coupons"
	relatedEntityType = "coupon"
	systemValidator   = "system"

	insufficientPointsMessage = "Insufficient points"
)

// Service handles redemption and coupon administration
type Service struct {
	repo          Repository
	cache         TemplateCache
	hasher        *Hasher
	publisher     eventbus.Publisher
	defaultExpiry time.Duration
	retry         resilience.RetryConfig
	now           func() time.Time
	generate      func() (string, error)
}

// NewService creates a new coupon service. cache and publisher may be nil.
func NewService(repo Repository, cache TemplateCache, publisher eventbus.Publisher, cfg config.CouponConfig) *Service {
	if cache == nil {
		cache = noCache{}
	}
	return &Service{
		repo:          repo,
		cache:         cache,
		hasher:        NewHasher(cfg.HMACSecret),
		publisher:     publisher,
		defaultExpiry: time.Duration(cfg.DefaultExpiryDays) * 24 * time.Hour,
		retry:         resilience.LockContentionRetryConfig(isRetryable),
		now:           time.Now,
		generate:      GenerateCode,
	}
}

// isRetryable covers lock contention and the rare code fingerprint collision,
// both of which succeed on a fresh attempt
func isRetryable(err error) bool {
	return database.IsConcurrencyConflict(err) || database.IsUniqueViolation(err, "coupons_code_hash_key")
}

type redemption struct {
	result   *RedeemResult
	coupon   *Coupon
	replayed bool
}

// Redeem spends the template's cost from userID's available points and returns
// the plaintext code. A repeated idempotency key replays the original outcome
// without the code.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID, req *RedeemRequest) (*RedeemResult, error) {
	res, err := resilience.Retry(ctx, s.retry, func(ctx context.Context) (interface{}, error) {
		return s.redeemOnce(ctx, userID, req)
	})
	if err != nil && database.IsUniqueViolation(err, "coupons_user_idempotency_key") {
		// a concurrent request with the same key committed first; replay it
		res, err = s.redeemOnce(ctx, userID, req)
	}
	if err != nil {
		return nil, s.redeemFailure(ctx, userID, req, err)
	}

	out := res.(*redemption)
	if out.replayed {
		redemptionsTotal.WithLabelValues("replayed").Inc()
		return out.result, nil
	}
	redemptionsTotal.WithLabelValues("issued").Inc()
	s.publishIssued(ctx, out.coupon)
	return out.result, nil
}

func (s *Service) redeemOnce(ctx context.Context, userID uuid.UUID, req *RedeemRequest) (*redemption, error) {
	var out *redemption
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		balance, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}

		existing, err := tx.FindByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			out = &redemption{replayed: true, result: &RedeemResult{
				Success:         true,
				CouponID:        existing.ID,
				ExpiresAt:       existing.ExpiresAt,
				PointsRemaining: balance.AvailablePoints,
				Replayed:        true,
			}}
			return nil
		}

		template, err := tx.GetActiveTemplate(ctx, req.TemplateID)
		if err != nil {
			return err
		}
		if balance.AvailablePoints < int64(template.PointCost) {
			return ErrInsufficientPoints
		}

		code, err := s.generate()
		if err != nil {
			return err
		}

		now := s.now()
		coupon := &Coupon{
			ID:             uuid.New(),
			CodeHash:       s.hasher.Hash(code),
			TemplateID:     template.ID,
			UserID:         userID,
			IdempotencyKey: req.IdempotencyKey,
			PointsSpent:    template.PointCost,
			Status:         StatusIssued,
			ExpiresAt:      now.Add(s.expiryFor(template)),
			CreatedAt:      now,
		}
		event := redeemEvent(coupon, now)
		coupon.EventID = event.ID

		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}
		if err := tx.InsertCoupon(ctx, coupon); err != nil {
			return err
		}
		updated, err := tx.RefreshBalance(ctx, userID)
		if err != nil {
			return err
		}

		out = &redemption{coupon: coupon, result: &RedeemResult{
			Success:         true,
			CouponID:        coupon.ID,
			CouponCode:      code,
			ExpiresAt:       coupon.ExpiresAt,
			PointsRemaining: updated.AvailablePoints,
		}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) redeemFailure(ctx context.Context, userID uuid.UUID, req *RedeemRequest, err error) error {
	switch {
	case errors.Is(err, ErrInsufficientPoints), errors.Is(err, ledger.ErrNegativeBalance):
		redemptionsTotal.WithLabelValues("insufficient").Inc()
		return common.NewUnprocessableError(insufficientPointsMessage, ErrInsufficientPoints)
	case errors.Is(err, ErrTemplateNotFound):
		redemptionsTotal.WithLabelValues("template_not_found").Inc()
		return common.NewNotFoundError("coupon template not found or inactive", err)
	case database.IsConcurrencyConflict(err):
		redemptionsTotal.WithLabelValues("conflict").Inc()
		return common.NewAppError(http.StatusConflict, "concurrent redemption in progress, retry the request", err)
	}

	redemptionsTotal.WithLabelValues("error").Inc()
	logger.WithContext(ctx).Error("failed to redeem coupon",
		zap.String("user_id", userID.String()),
		zap.String("template_id", req.TemplateID.String()),
		zap.Error(err),
	)
	return common.NewInternalError("failed to redeem coupon", err)
}

func (s *Service) expiryFor(t *Template) time.Duration {
	if t.ExpiresInDays != nil && *t.ExpiresInDays > 0 {
		return time.Duration(*t.ExpiresInDays) * 24 * time.Hour
	}
	return s.defaultExpiry
}

// redeemEvent is the validated negative entry paired with a coupon. Its hash and
// nonce derive from the coupon so they can never collide with client submissions.
func redeemEvent(c *Coupon, now time.Time) *ledger.Event {
	sum := sha256.Sum256([]byte(fmt.Sprintf("redeem_coupon:%s:%s", c.UserID, c.IdempotencyKey)))
	couponID := c.ID.String()
	entityType := relatedEntityType
	validator := systemValidator
	payload, _ := json.Marshal(map[string]interface{}{
		"coupon_id":   couponID,
		"template_id": c.TemplateID,
	})
	return &ledger.Event{
		ID:                uuid.New(),
		UserID:            c.UserID,
		EventType:         ledger.EventTypeRedeemCoupon,
		EventTime:         now.UTC(),
		PointsDelta:       -c.PointsSpent,
		ProofType:         ledger.ProofInternal,
		PayloadHash:       hex.EncodeToString(sum[:]),
		Nonce:             "coupon:" + couponID,
		Status:            ledger.StatusValidated,
		RelatedEntityType: &entityType,
		RelatedEntityID:   &couponID,
		Payload:           payload,
		ValidatedAt:       &now,
		ValidatedBy:       &validator,
		CreatedAt:         now,
	}
}

func (s *Service) publishIssued(ctx context.Context, c *Coupon) {
	if s.publisher == nil {
		return
	}
	evt, err := eventbus.NewEvent(eventbus.SubjectCouponIssued, eventSource, eventbus.CouponIssuedData{
		CouponID:    c.ID,
		UserID:      c.UserID,
		TemplateID:  c.TemplateID,
		PointsSpent: c.PointsSpent,
		ExpiresAt:   c.ExpiresAt,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, eventbus.SubjectCouponIssued, evt)
	}
	if err != nil {
		logger.WithContext(ctx).Warn("failed to publish coupon issued",
			zap.String("coupon_id", c.ID.String()), zap.Error(err))
	}
}

// ========================================
// TEMPLATES
// ========================================

// ListActiveTemplates returns redeemable templates, served from cache when warm
func (s *Service) ListActiveTemplates(ctx context.Context) ([]*Template, error) {
	if templates, ok := s.cache.Get(ctx); ok {
		return templates, nil
	}
	templates, err := s.repo.ListActiveTemplates(ctx)
	if err != nil {
		return nil, common.NewInternalError("failed to list templates", err)
	}
	s.cache.Set(ctx, templates)
	return templates, nil
}

// CreateTemplate defines a new, active reward
func (s *Service) CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (*Template, error) {
	now := s.now()
	t := &Template{
		ID:            uuid.New(),
		Name:          req.Name,
		Description:   req.Description,
		PointCost:     req.PointCost,
		ExpiresInDays: req.ExpiresInDays,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, common.NewBadRequestError("metadata is not serializable", err)
		}
		t.Metadata = raw
	}

	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, common.NewInternalError("failed to create template", err)
	}
	s.cache.Invalidate(ctx)
	return t, nil
}

// SetTemplateActive enables or retires a template. Issued coupons are unaffected.
func (s *Service) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetTemplateActive(ctx, id, active); err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return common.NewNotFoundError("coupon template not found", err)
		}
		return common.NewInternalError("failed to update template", err)
	}
	s.cache.Invalidate(ctx)
	return nil
}

// ========================================
// COUPON LIFECYCLE
// ========================================

// ListUserCoupons returns coupon metadata; codes are never retrievable
func (s *Service) ListUserCoupons(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Coupon, int64, error) {
	coupons, total, err := s.repo.ListUserCoupons(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to list coupons", err)
	}
	return coupons, total, nil
}

// RevokeCoupon cancels an issued coupon. Spent points are not refunded; an admin
// restores them with a correction event when warranted.
func (s *Service) RevokeCoupon(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	c, err := s.repo.TransitionCoupon(ctx, id, StatusRevoked, s.now())
	if err != nil {
		return nil, lifecycleError(err, "failed to revoke coupon")
	}
	return c, nil
}

// MarkRedeemed consumes the coupon behind a plaintext code at its point of use
func (s *Service) MarkRedeemed(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, common.NewBadRequestError("malformed coupon code", nil)
	}
	c, err := s.repo.RedeemByHash(ctx, s.hasher.Hash(code), s.now())
	if err != nil {
		return nil, lifecycleError(err, "failed to redeem coupon")
	}
	return c, nil
}

// ExpireCoupons moves issued coupons past their expiry to expired
func (s *Service) ExpireCoupons(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireCoupons(ctx, s.now())
	if err != nil {
		return 0, err
	}
	couponsExpired.Add(float64(n))
	return n, nil
}

func lifecycleError(err error, fallback string) error {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return common.NewNotFoundError("coupon not found", err)
	case errors.Is(err, ErrCouponNotIssued):
		return common.NewConflictError("coupon is no longer redeemable")
	}
	return common.NewInternalError(fallback, err)
}
