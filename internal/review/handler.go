package review

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/middleware"
	"github.com/richxcame/points-ledger/pkg/pagination"
)

// Reviewer is the service surface the handler needs
type Reviewer interface {
	ApproveEvent(ctx context.Context, adminID, eventID uuid.UUID, notes string) (*ledger.Event, error)
	RejectEvent(ctx context.Context, adminID, eventID uuid.UUID, notes string) (*ledger.Event, error)
	ListPendingReview(ctx context.Context, limit, offset int) ([]*ledger.Event, int64, error)
}

// DecisionRequest carries the reviewer's notes
type DecisionRequest struct {
	Notes string `json:"notes" binding:"max=1000"`
}

// Handler handles admin review requests
type Handler struct {
	service Reviewer
}

// NewHandler creates a new review handler
func NewHandler(service Reviewer) *Handler {
	return &Handler{service: service}
}

// ListPending returns events awaiting review
// GET /api/v1/admin/events/pending
func (h *Handler) ListPending(c *gin.Context) {
	params := pagination.ParseParams(c)
	events, total, err := h.service.ListPendingReview(c.Request.Context(), params.Limit, params.Offset)
	if err != nil {
		common.RespondError(c, err, "failed to list review queue")
		return
	}
	common.SuccessResponseWithMeta(c, events, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// Approve validates a held event
// POST /api/v1/admin/events/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.decide(c, h.service.ApproveEvent, "event approved")
}

// Reject rejects a held event
// POST /api/v1/admin/events/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, h.service.RejectEvent, "event rejected")
}

type decisionFunc func(ctx context.Context, adminID, eventID uuid.UUID, notes string) (*ledger.Event, error)

func (h *Handler) decide(c *gin.Context, fn decisionFunc, message string) {
	adminID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid event ID")
		return
	}

	// the body is optional
	var req DecisionRequest
	if c.Request.ContentLength > 0 && !middleware.ValidateAndBind(c, &req) {
		return
	}

	event, err := fn(c.Request.Context(), adminID, eventID, req.Notes)
	if err != nil {
		common.RespondError(c, err, "failed to review event")
		return
	}
	common.SuccessResponseWithStatus(c, http.StatusOK, event, message)
}

// RegisterRoutes registers admin review routes
func (h *Handler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/events/pending", h.ListPending)
	admin.POST("/events/:id/approve", h.Approve)
	admin.POST("/events/:id/reject", h.Reject)
}
