package fraud

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/middleware"
	"github.com/richxcame/points-ledger/pkg/pagination"
)

// InsightService is the engine surface the handler needs
type InsightService interface {
	ListOpenInsights(ctx context.Context, limit, offset int) ([]*Insight, int64, error)
	ResolveInsight(ctx context.Context, adminID string, id uuid.UUID, resolution Resolution, notes string) (*Insight, error)
}

// Handler handles admin fraud insight requests
type Handler struct {
	service InsightService
}

// NewHandler creates a new fraud handler
func NewHandler(service InsightService) *Handler {
	return &Handler{service: service}
}

// ListInsights returns open insights
// GET /api/v1/admin/fraud/insights
func (h *Handler) ListInsights(c *gin.Context) {
	params := pagination.ParseParams(c)
	insights, total, err := h.service.ListOpenInsights(c.Request.Context(), params.Limit, params.Offset)
	if err != nil {
		common.RespondError(c, err, "failed to list fraud insights")
		return
	}
	common.SuccessResponseWithMeta(c, insights, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// ResolveInsight closes an open insight
// POST /api/v1/admin/fraud/insights/:id/resolve
func (h *Handler) ResolveInsight(c *gin.Context) {
	adminID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid insight ID")
		return
	}

	var req ResolveRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	resolution, err := req.outcome()
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	insight, err := h.service.ResolveInsight(c.Request.Context(), adminID.String(), id, resolution, req.Notes)
	if err != nil {
		common.RespondError(c, err, "failed to resolve insight")
		return
	}
	common.SuccessResponseWithStatus(c, http.StatusOK, insight, "insight resolved")
}

// RegisterRoutes registers admin fraud routes
func (h *Handler) RegisterRoutes(admin *gin.RouterGroup) {
	fraud := admin.Group("/fraud")
	{
		fraud.GET("/insights", h.ListInsights)
		fraud.POST("/insights/:id/resolve", h.ResolveInsight)
	}
}
