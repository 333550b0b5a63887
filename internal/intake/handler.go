package intake

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/middleware"
)

// Submitter is the service surface the handler needs
type Submitter interface {
	Submit(ctx context.Context, callerID uuid.UUID, req *SubmitRequest, isAdmin bool) (*SubmitResult, error)
}

// Handler handles event submission
type Handler struct {
	service Submitter
}

// NewHandler creates a new intake handler
func NewHandler(service Submitter) *Handler {
	return &Handler{service: service}
}

// SubmitEvent records a user action
// POST /api/v1/points/events
func (h *Handler) SubmitEvent(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SubmitRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	result, err := h.service.Submit(c.Request.Context(), userID, &req, middleware.IsAdmin(c))
	if err != nil {
		common.RespondError(c, err, "failed to submit event")
		return
	}

	// Retries and rejections are answered, not created
	if result.Duplicate || result.Status == ledger.StatusRejected {
		common.SuccessResponse(c, result)
		return
	}
	common.CreatedResponse(c, result)
}

// RegisterRoutes registers intake routes
func (h *Handler) RegisterRoutes(points *gin.RouterGroup) {
	points.POST("/events", h.SubmitEvent)
}
