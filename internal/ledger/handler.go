package ledger

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/middleware"
	"github.com/richxcame/points-ledger/pkg/pagination"
)

// Handler handles HTTP requests for balances and history
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetBalance returns the caller's balance
// GET /api/v1/points/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), userID)
	if err != nil {
		common.RespondError(c, err, "failed to get balance")
		return
	}

	common.SuccessResponse(c, balance)
}

// ListHistory returns the caller's events
// GET /api/v1/points/events?status=&event_type=&limit=&offset=
func (h *Handler) ListHistory(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var filter HistoryFilter
	if v := c.Query("status"); v != "" {
		status := Status(v)
		filter.Status = &status
	}
	if v := c.Query("event_type"); v != "" {
		eventType := EventType(v)
		filter.EventType = &eventType
	}
	params := pagination.ParseParams(c)

	events, total, err := h.service.ListHistory(c.Request.Context(), userID, filter, params.Limit, params.Offset)
	if err != nil {
		common.RespondError(c, err, "failed to list events")
		return
	}

	common.SuccessResponseWithMeta(c, events, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// GetEvent returns one of the caller's events
// GET /api/v1/points/events/:id
func (h *Handler) GetEvent(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid event ID")
		return
	}

	event, err := h.service.GetEvent(c.Request.Context(), userID, eventID, middleware.IsAdmin(c))
	if err != nil {
		common.RespondError(c, err, "failed to get event")
		return
	}

	common.SuccessResponse(c, event)
}

// Reconcile runs the cache audit on demand
// POST /api/v1/admin/ledger/reconcile?repair=true
func (h *Handler) Reconcile(c *gin.Context) {
	repair := c.Query("repair") == "true"

	report, err := h.service.Reconcile(c.Request.Context(), repair)
	if err != nil {
		common.RespondError(c, err, "reconciliation failed")
		return
	}

	common.SuccessResponse(c, report)
}

// RegisterRoutes registers ledger routes
func (h *Handler) RegisterRoutes(points, admin *gin.RouterGroup) {
	points.GET("/balance", h.GetBalance)
	points.GET("/events", h.ListHistory)
	points.GET("/events/:id", h.GetEvent)

	admin.POST("/ledger/reconcile", h.Reconcile)
}
