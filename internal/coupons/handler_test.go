package coupons

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedeemer struct {
	mock.Mock
}

func (m *MockRedeemer) Redeem(ctx context.Context, userID uuid.UUID, req *RedeemRequest) (*RedeemResult, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RedeemResult), args.Error(1)
}

func (m *MockRedeemer) ListActiveTemplates(ctx context.Context) ([]*Template, error) {
	args := m.Called(ctx)
	templates, _ := args.Get(0).([]*Template)
	return templates, args.Error(1)
}

func (m *MockRedeemer) ListUserCoupons(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Coupon, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	coupons, _ := args.Get(0).([]*Coupon)
	return coupons, int64(args.Int(1)), args.Error(2)
}

func (m *MockRedeemer) CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (*Template, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Template), args.Error(1)
}

func (m *MockRedeemer) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	args := m.Called(ctx, id, active)
	return args.Error(0)
}

func (m *MockRedeemer) RevokeCoupon(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Coupon), args.Error(1)
}

func (m *MockRedeemer) MarkRedeemed(ctx context.Context, code string) (*Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Coupon), args.Error(1)
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

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) common.Response {
	t.Helper()
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandler_Redeem(t *testing.T) {
	userID := uuid.New()
	templateID := uuid.New()
	body := map[string]interface{}{"template_id": templateID, "idempotency_key": "checkout-7f3a"}

	tests := []struct {
		name   string
		result *RedeemResult
		err    error
		want   int
	}{
		{"issued", &RedeemResult{Success: true, CouponCode: "ABCD-EFGH-JKMN-2345", ExpiresAt: time.Now()}, nil, http.StatusCreated},
		{"replayed", &RedeemResult{Success: true, Replayed: true}, nil, http.StatusOK},
		{"insufficient", nil, common.NewUnprocessableError("Insufficient points", ErrInsufficientPoints), http.StatusUnprocessableEntity},
		{"conflict", nil, common.NewConflictError("concurrent redemption in progress"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockRedeemer)
			svc.On("Redeem", mock.Anything, userID, mock.MatchedBy(func(r *RedeemRequest) bool {
				return r.TemplateID == templateID && r.IdempotencyKey == "checkout-7f3a"
			})).Return(tt.result, tt.err)

			c, w := setupTestContext(http.MethodPost, "/api/v1/rewards/redeem", body)
			c.Set("user_id", userID.String())

			NewHandler(svc).Redeem(c)

			assert.Equal(t, tt.want, w.Code)
			resp := parseResponse(t, w)
			assert.Equal(t, tt.err == nil, resp.Success)
			if tt.err != nil {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.want, resp.Error.Code)
			}
		})
	}
}

func TestHandler_Redeem_ValidationAndAuth(t *testing.T) {
	svc := new(MockRedeemer)

	c, w := setupTestContext(http.MethodPost, "/api/v1/rewards/redeem",
		map[string]interface{}{"template_id": uuid.New(), "idempotency_key": "short"})
	c.Set("user_id", uuid.New().String())
	NewHandler(svc).Redeem(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = setupTestContext(http.MethodPost, "/api/v1/rewards/redeem",
		map[string]interface{}{"template_id": uuid.New(), "idempotency_key": "checkout-7f3a"})
	NewHandler(svc).Redeem(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	svc.AssertNotCalled(t, "Redeem")
}

func TestHandler_ListTemplates(t *testing.T) {
	svc := new(MockRedeemer)
	svc.On("ListActiveTemplates", mock.Anything).Return([]*Template{{ID: uuid.New(), Name: "Coffee", PointCost: 150}}, nil)

	c, w := setupTestContext(http.MethodGet, "/api/v1/rewards/templates", nil)
	NewHandler(svc).ListTemplates(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	assert.Len(t, resp.Data, 1)
}

func TestHandler_ListCoupons(t *testing.T) {
	svc := new(MockRedeemer)
	userID := uuid.New()
	svc.On("ListUserCoupons", mock.Anything, userID, 20, 0).Return([]*Coupon{{ID: uuid.New()}}, 1, nil)

	c, w := setupTestContext(http.MethodGet, "/api/v1/rewards/coupons", nil)
	c.Set("user_id", userID.String())
	NewHandler(svc).ListCoupons(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(1), resp.Meta.Total)
	svc.AssertExpectations(t)
}

func TestHandler_CreateTemplate(t *testing.T) {
	svc := new(MockRedeemer)
	svc.On("CreateTemplate", mock.Anything, mock.MatchedBy(func(r *CreateTemplateRequest) bool {
		return r.Name == "Coffee" && r.PointCost == 150
	})).Return(&Template{ID: uuid.New(), Name: "Coffee", PointCost: 150, IsActive: true}, nil)

	c, w := setupTestContext(http.MethodPost, "/api/v1/admin/rewards/templates",
		map[string]interface{}{"name": "Coffee", "point_cost": 150})
	NewHandler(svc).CreateTemplate(c)
	assert.Equal(t, http.StatusCreated, w.Code)

	c, w = setupTestContext(http.MethodPost, "/api/v1/admin/rewards/templates",
		map[string]interface{}{"name": "Free", "point_cost": 0})
	NewHandler(svc).CreateTemplate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SetTemplateActive(t *testing.T) {
	svc := new(MockRedeemer)
	id := uuid.New()
	svc.On("SetTemplateActive", mock.Anything, id, false).Return(nil)

	c, w := setupTestContext(http.MethodPut, "/api/v1/admin/rewards/templates/"+id.String()+"/active",
		map[string]interface{}{"active": false})
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	NewHandler(svc).SetTemplateActive(c)
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)

	c, w = setupTestContext(http.MethodPut, "/api/v1/admin/rewards/templates/bad/active",
		map[string]interface{}{"active": true})
	c.Params = gin.Params{{Key: "id", Value: "bad"}}
	NewHandler(svc).SetTemplateActive(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RevokeAndMarkRedeemed(t *testing.T) {
	svc := new(MockRedeemer)
	id := uuid.New()
	svc.On("RevokeCoupon", mock.Anything, id).Return(&Coupon{ID: id, Status: StatusRevoked}, nil)
	svc.On("MarkRedeemed", mock.Anything, "ABCD-EFGH-JKMN-2345").
		Return(nil, common.NewConflictError("coupon is no longer redeemable"))

	c, w := setupTestContext(http.MethodPost, "/api/v1/admin/rewards/coupons/"+id.String()+"/revoke", nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	NewHandler(svc).RevokeCoupon(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = setupTestContext(http.MethodPost, "/api/v1/admin/rewards/coupons/redeem",
		map[string]interface{}{"code": "ABCD-EFGH-JKMN-2345"})
	NewHandler(svc).MarkRedeemed(c)
	assert.Equal(t, http.StatusConflict, w.Code)

	svc.AssertExpectations(t)
}
