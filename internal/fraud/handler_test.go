package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockInsightService struct {
	mock.Mock
}

func (m *MockInsightService) ListOpenInsights(ctx context.Context, limit, offset int) ([]*Insight, int64, error) {
	args := m.Called(ctx, limit, offset)
	insights, _ := args.Get(0).([]*Insight)
	return insights, int64(args.Int(1)), args.Error(2)
}

func (m *MockInsightService) ResolveInsight(ctx context.Context, adminID string, id uuid.UUID, resolution Resolution, notes string) (*Insight, error) {
	args := m.Called(ctx, adminID, id, resolution, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Insight), args.Error(1)
}

func setupTestContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var req *http.Request
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	c.Request = req
	return c, w
}

func TestHandler_ListInsights(t *testing.T) {
	svc := new(MockInsightService)
	insights := []*Insight{{ID: uuid.New(), InsightType: InsightVelocity, Severity: SeverityCritical, Score: 100}}
	svc.On("ListOpenInsights", mock.Anything, 20, 0).Return(insights, 1, nil)

	c, w := setupTestContext(http.MethodGet, "/api/v1/admin/fraud/insights", nil)
	NewHandler(svc).ListInsights(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(1), resp.Meta.Total)
}

func TestHandler_ResolveInsight(t *testing.T) {
	adminID, insightID := uuid.New(), uuid.New()

	tests := []struct {
		name       string
		id         string
		body       interface{}
		setupMock  func(*MockInsightService)
		wantStatus int
	}{
		{
			name: "confirmed fraud",
			id:   insightID.String(),
			body: map[string]string{"resolution": "confirmed_fraud", "notes": "device farm"},
			setupMock: func(m *MockInsightService) {
				res := ResolutionConfirmedFraud
				m.On("ResolveInsight", mock.Anything, adminID.String(), insightID, ResolutionConfirmedFraud, "device farm").
					Return(&Insight{ID: insightID, Resolved: true, Resolution: &res}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown resolution",
			id:         insightID.String(),
			body:       map[string]string{"resolution": "dunno"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing resolution",
			id:         insightID.String(),
			body:       map[string]string{"notes": "x"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "resolved flag defaults to false positive",
			id:   insightID.String(),
			body: map[string]interface{}{"resolved": true, "notes": "looked fine"},
			setupMock: func(m *MockInsightService) {
				res := ResolutionFalsePositive
				m.On("ResolveInsight", mock.Anything, adminID.String(), insightID, ResolutionFalsePositive, "looked fine").
					Return(&Insight{ID: insightID, Resolved: true, Resolution: &res}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "resolved flag with explicit resolution",
			id:   insightID.String(),
			body: map[string]interface{}{"resolved": true, "resolution": "confirmed_fraud"},
			setupMock: func(m *MockInsightService) {
				res := ResolutionConfirmedFraud
				m.On("ResolveInsight", mock.Anything, adminID.String(), insightID, ResolutionConfirmedFraud, "").
					Return(&Insight{ID: insightID, Resolved: true, Resolution: &res}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "resolved false keeps insight open",
			id:         insightID.String(),
			body:       map[string]interface{}{"resolved": false, "notes": "still watching"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid id",
			id:         "nope",
			body:       map[string]string{"resolution": "false_positive"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "already resolved",
			id:   insightID.String(),
			body: map[string]string{"resolution": "false_positive"},
			setupMock: func(m *MockInsightService) {
				m.On("ResolveInsight", mock.Anything, adminID.String(), insightID, ResolutionFalsePositive, "").
					Return(nil, common.NewConflictError("insight is already resolved"))
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockInsightService)
			if tt.setupMock != nil {
				tt.setupMock(svc)
			}

			c, w := setupTestContext(http.MethodPost, "/api/v1/admin/fraud/insights/"+tt.id+"/resolve", tt.body)
			c.Params = gin.Params{{Key: "id", Value: tt.id}}
			c.Set("user_id", adminID.String())
			c.Set("user_role", "admin")

			NewHandler(svc).ResolveInsight(c)

			assert.Equal(t, tt.wantStatus, w.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_ResolveInsight_Unauthorized(t *testing.T) {
	c, w := setupTestContext(http.MethodPost, "/api/v1/admin/fraud/insights/x/resolve", nil)
	NewHandler(new(MockInsightService)).ResolveInsight(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
