package coupons

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/middleware"
	"github.com/richxcame/points-ledger/pkg/pagination"
)

// Redeemer is the service surface the handler needs
type Redeemer interface {
	Redeem(ctx context.Context, userID uuid.UUID, req *RedeemRequest) (*RedeemResult, error)
	ListActiveTemplates(ctx context.Context) ([]*Template, error)
	ListUserCoupons(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Coupon, int64, error)
	CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (*Template, error)
	SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error
	RevokeCoupon(ctx context.Context, id uuid.UUID) (*Coupon, error)
	MarkRedeemed(ctx context.Context, code string) (*Coupon, error)
}

// Handler handles HTTP requests for rewards
type Handler struct {
	service Redeemer
}

// NewHandler creates a new coupons handler
func NewHandler(service Redeemer) *Handler {
	return &Handler{service: service}
}

// ListTemplates returns the active reward templates
// GET /api/v1/rewards/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.service.ListActiveTemplates(c.Request.Context())
	if err != nil {
		common.RespondError(c, err, "failed to list templates")
		return
	}
	common.SuccessResponse(c, templates)
}

// Redeem exchanges points for a coupon code
// POST /api/v1/rewards/redeem
func (h *Handler) Redeem(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RedeemRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	result, err := h.service.Redeem(c.Request.Context(), userID, &req)
	if err != nil {
		common.RespondError(c, err, "failed to redeem coupon")
		return
	}

	if result.Replayed {
		common.SuccessResponse(c, result)
		return
	}
	common.CreatedResponse(c, result)
}

// ListCoupons returns the caller's coupons
// GET /api/v1/rewards/coupons
func (h *Handler) ListCoupons(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	params := pagination.ParseParams(c)
	coupons, total, err := h.service.ListUserCoupons(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		common.RespondError(c, err, "failed to list coupons")
		return
	}
	common.SuccessResponseWithMeta(c, coupons, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// CreateTemplate defines a reward (admin)
// POST /api/v1/admin/rewards/templates
func (h *Handler) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	template, err := h.service.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		common.RespondError(c, err, "failed to create template")
		return
	}
	common.CreatedResponse(c, template)
}

// SetTemplateActive enables or retires a template (admin)
// PUT /api/v1/admin/rewards/templates/:id/active
func (h *Handler) SetTemplateActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid template ID")
		return
	}

	var req SetActiveRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	if err := h.service.SetTemplateActive(c.Request.Context(), id, *req.Active); err != nil {
		common.RespondError(c, err, "failed to update template")
		return
	}
	common.SuccessResponseWithStatus(c, http.StatusOK, gin.H{"id": id, "is_active": *req.Active}, "template updated")
}

// RevokeCoupon cancels an issued coupon (admin)
// POST /api/v1/admin/rewards/coupons/:id/revoke
func (h *Handler) RevokeCoupon(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid coupon ID")
		return
	}

	coupon, err := h.service.RevokeCoupon(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err, "failed to revoke coupon")
		return
	}
	common.SuccessResponse(c, coupon)
}

// MarkRedeemed consumes a presented code (admin)
// POST /api/v1/admin/rewards/coupons/redeem
func (h *Handler) MarkRedeemed(c *gin.Context) {
	var req MarkRedeemedRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	coupon, err := h.service.MarkRedeemed(c.Request.Context(), req.Code)
	if err != nil {
		common.RespondError(c, err, "failed to redeem coupon")
		return
	}
	common.SuccessResponse(c, coupon)
}

// RegisterRoutes registers rewards routes
func (h *Handler) RegisterRoutes(rewards, admin *gin.RouterGroup) {
	rewards.GET("/templates", h.ListTemplates)
	rewards.POST("/redeem", h.Redeem)
	rewards.GET("/coupons", h.ListCoupons)

	admin.POST("/rewards/templates", h.CreateTemplate)
	admin.PUT("/rewards/templates/:id/active", h.SetTemplateActive)
	admin.POST("/rewards/coupons/:id/revoke", h.RevokeCoupon)
	admin.POST("/rewards/coupons/redeem", h.MarkRedeemed)
}
