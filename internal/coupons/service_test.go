package coupons

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/internal/ledger/ledgertest"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-at-least-32-characters"

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, event *eventbus.Event) error {
	args := m.Called(ctx, subject, event)
	return args.Error(0)
}

type countingCache struct {
	mu          sync.Mutex
	templates   []*Template
	warm        bool
	hits        int
	invalidated int
}

func (c *countingCache) Get(ctx context.Context) ([]*Template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warm {
		c.hits++
	}
	return c.templates, c.warm
}

func (c *countingCache) Set(ctx context.Context, templates []*Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates, c.warm = templates, true
}

func (c *countingCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates, c.warm = nil, false
	c.invalidated++
}

type fixture struct {
	svc    *Service
	repo   *fakeRepo
	mem    *ledgertest.Memory
	userID uuid.UUID
	now    time.Time
}

func newFixture(t *testing.T, publisher eventbus.Publisher) *fixture {
	t.Helper()
	mem := ledgertest.New()
	repo := newFakeRepo(mem)
	svc := NewService(repo, nil, publisher, config.CouponConfig{HMACSecret: testSecret, DefaultExpiryDays: 30})
	f := &fixture{svc: svc, repo: repo, mem: mem, userID: uuid.New(), now: time.Now()}
	svc.now = func() time.Time { return f.now }
	return f
}

// fund gives the user a validated balance with a consistent cache row
func (f *fixture) fund(points int) {
	f.mem.Seed(ledger.Event{
		UserID:      f.userID,
		EventType:   ledger.EventTypeAdminAward,
		PointsDelta: points,
		Status:      ledger.StatusValidated,
	})
	f.mem.SetBalance(ledger.Balance{
		UserID:          f.userID,
		AvailablePoints: int64(points),
		LifetimeEarned:  int64(points),
	})
}

func (f *fixture) available() int64 {
	b, _ := f.mem.CachedBalance(f.userID)
	return b.AvailablePoints
}

func redeemReq(templateID uuid.UUID, key string) *RedeemRequest {
	return &RedeemRequest{TemplateID: templateID, IdempotencyKey: key}
}

func requireStatus(t *testing.T, err error, status int) *common.AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, status, appErr.Code)
	return appErr
}

// ========================================
// REDEEM
// ========================================

func TestRedeem_Success(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(500)
	tmpl := f.repo.addTemplate(200, true)

	result, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, "redeem-0001"))

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Replayed)
	assert.True(t, ValidCode(result.CouponCode))
	assert.Equal(t, int64(300), result.PointsRemaining)
	assert.WithinDuration(t, f.now.Add(30*24*time.Hour), result.ExpiresAt, time.Second)

	b, _ := f.mem.CachedBalance(f.userID)
	assert.Equal(t, int64(300), b.AvailablePoints)
	assert.Equal(t, int64(200), b.LifetimeSpent)

	coupons := f.repo.allCoupons()
	require.Len(t, coupons, 1)
	assert.Equal(t, NewHasher(testSecret).Hash(result.CouponCode), coupons[0].CodeHash)
	assert.NotContains(t, coupons[0].CodeHash, result.CouponCode)

	events := f.mem.Events(f.userID)
	require.Len(t, events, 2)
	spend := events[1]
	assert.Equal(t, ledger.EventTypeRedeemCoupon, spend.EventType)
	assert.Equal(t, -200, spend.PointsDelta)
	assert.Equal(t, ledger.StatusValidated, spend.Status)
	assert.Equal(t, coupons[0].EventID, spend.ID)
}

func TestRedeem_TemplateExpiryOverridesDefault(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(100)
	tmpl := f.repo.addTemplate(50, true)
	days := 7
	tmpl.ExpiresInDays = &days

	result, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, "redeem-0002"))

	require.NoError(t, err)
	assert.WithinDuration(t, f.now.Add(7*24*time.Hour), result.ExpiresAt, time.Second)
}

func TestRedeem_ReplayReturnsOriginalWithoutCode(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(500)
	tmpl := f.repo.addTemplate(200, true)
	req := redeemReq(tmpl.ID, "redeem-replay")

	first, err := f.svc.Redeem(context.Background(), f.userID, req)
	require.NoError(t, err)

	second, err := f.svc.Redeem(context.Background(), f.userID, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Empty(t, second.CouponCode)
	assert.Equal(t, first.CouponID, second.CouponID)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.Equal(t, int64(300), second.PointsRemaining)
	assert.Len(t, f.repo.allCoupons(), 1)
	assert.Equal(t, int64(300), f.available())
}

func TestRedeem_InsufficientPoints(t *testing.T) {
	f := newFixture(t, nil)
	tmpl := f.repo.addTemplate(100, true)

	_, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, "redeem-broke"))

	appErr := requireStatus(t, err, http.StatusUnprocessableEntity)
	assert.Equal(t, "Insufficient points", appErr.Message)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.Empty(t, f.repo.allCoupons())
	assert.Empty(t, f.mem.Events(f.userID))
	_, cached := f.mem.CachedBalance(f.userID)
	assert.False(t, cached)
}

func TestRedeem_ConcurrentOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(300)
	tmpl := f.repo.addTemplate(200, true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Redeem(context.Background(), f.userID,
				redeemReq(tmpl.ID, "concurrent-"+string(rune('a'+i))+"-key"))
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if errors.Is(err, ErrInsufficientPoints) {
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Len(t, f.repo.allCoupons(), 1)
	assert.Equal(t, int64(100), f.available())
}

func TestRedeem_TemplateMissingOrInactive(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(500)
	inactive := f.repo.addTemplate(10, false)

	_, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(inactive.ID, "redeem-inactive"))
	requireStatus(t, err, http.StatusNotFound)

	_, err = f.svc.Redeem(context.Background(), f.userID, redeemReq(uuid.New(), "redeem-missing"))
	requireStatus(t, err, http.StatusNotFound)
	assert.Empty(t, f.repo.allCoupons())
}

func TestRedeem_StorageFailureRollsBack(t *testing.T) {
	tests := []struct {
		name string
		fail func(f *fixture)
	}{
		{"coupon insert", func(f *fixture) { f.repo.failNext["InsertCoupon"] = errors.New("disk full") }},
		{"cache refresh", func(f *fixture) { f.mem.FailNext("RefreshBalance", errors.New("connection reset")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.fund(500)
			tmpl := f.repo.addTemplate(200, true)
			tt.fail(f)

			_, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, "redeem-fails"))

			requireStatus(t, err, http.StatusInternalServerError)
			assert.Empty(t, f.repo.allCoupons())
			assert.Len(t, f.mem.Events(f.userID), 1)
			assert.Equal(t, int64(500), f.available())
		})
	}
}

func TestRedeem_CodeCollisionRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(500)
	tmpl := f.repo.addTemplate(100, true)

	codes := []string{"ABCD-EFGH-JKMN-PQRS", "ABCD-EFGH-JKMN-PQRS", "TUVW-XYZ2-3456-789A"}
	var mu sync.Mutex
	f.svc.generate = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	first, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, "collide-one"))
	require.NoError(t, err)
	second, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, "collide-two"))
	require.NoError(t, err)

	assert.NotEqual(t, first.CouponCode, second.CouponCode)
	assert.Equal(t, "TUVW-XYZ2-3456-789A", second.CouponCode)
	assert.Len(t, f.repo.allCoupons(), 2)
	assert.Equal(t, int64(300), f.available())
}

func TestRedeem_PublishesIssued(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, eventbus.SubjectCouponIssued, mock.MatchedBy(func(e *eventbus.Event) bool {
		var data eventbus.CouponIssuedData
		return e.Decode(&data) == nil && data.PointsSpent == 200
	})).Return(nil).Once()

	f := newFixture(t, pub)
	f.fund(500)
	tmpl := f.repo.addTemplate(200, true)
	req := redeemReq(tmpl.ID, "redeem-publish")

	_, err := f.svc.Redeem(context.Background(), f.userID, req)
	require.NoError(t, err)
	_, err = f.svc.Redeem(context.Background(), f.userID, req)
	require.NoError(t, err)

	pub.AssertExpectations(t)
}

// ========================================
// TEMPLATES
// ========================================

func TestListActiveTemplates_ReadThroughCache(t *testing.T) {
	f := newFixture(t, nil)
	cache := &countingCache{}
	f.svc.cache = cache
	f.repo.addTemplate(300, true)
	f.repo.addTemplate(100, true)
	f.repo.addTemplate(50, false)

	first, err := f.svc.ListActiveTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 100, first[0].PointCost)

	f.repo.failNext["ListActiveTemplates"] = errors.New("should be served from cache")
	second, err := f.svc.ListActiveTemplates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)
}

func TestCreateTemplate_InvalidatesCache(t *testing.T) {
	f := newFixture(t, nil)
	cache := &countingCache{warm: true}
	f.svc.cache = cache

	tmpl, err := f.svc.CreateTemplate(context.Background(), &CreateTemplateRequest{
		Name:      "Coffee",
		PointCost: 150,
		Metadata:  map[string]interface{}{"partner": "beanery"},
	})

	require.NoError(t, err)
	assert.True(t, tmpl.IsActive)
	assert.JSONEq(t, `{"partner":"beanery"}`, string(tmpl.Metadata))
	assert.Equal(t, 1, cache.invalidated)

	templates, err := f.svc.ListActiveTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "Coffee", templates[0].Name)
}

func TestSetTemplateActive(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(500)
	tmpl := f.repo.addTemplate(100, true)

	require.NoError(t, f.svc.SetTemplateActive(context.Background(), tmpl.ID, false))

	_, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, "after-retire"))
	requireStatus(t, err, http.StatusNotFound)

	err = f.svc.SetTemplateActive(context.Background(), uuid.New(), true)
	requireStatus(t, err, http.StatusNotFound)
}

// ========================================
// COUPON LIFECYCLE
// ========================================

func (f *fixture) issue(t *testing.T, key string) *RedeemResult {
	t.Helper()
	tmpl := f.repo.addTemplate(10, true)
	result, err := f.svc.Redeem(context.Background(), f.userID, redeemReq(tmpl.ID, key))
	require.NoError(t, err)
	return result
}

func TestMarkRedeemed(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(100)
	issued := f.issue(t, "mark-redeemed")

	typed := "  " + strings.ToLower(issued.CouponCode) + " "
	coupon, err := f.svc.MarkRedeemed(context.Background(), typed)
	require.NoError(t, err)
	assert.Equal(t, issued.CouponID, coupon.ID)
	assert.Equal(t, StatusRedeemed, coupon.Status)
	require.NotNil(t, coupon.RedeemedAt)

	_, err = f.svc.MarkRedeemed(context.Background(), issued.CouponCode)
	requireStatus(t, err, http.StatusConflict)

	_, err = f.svc.MarkRedeemed(context.Background(), "not-a-code")
	requireStatus(t, err, http.StatusBadRequest)

	_, err = f.svc.MarkRedeemed(context.Background(), "ABCD-EFGH-JKMN-PQRS")
	requireStatus(t, err, http.StatusNotFound)
}

func TestMarkRedeemed_ExpiredCoupon(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(100)
	issued := f.issue(t, "mark-expired")

	f.now = f.now.Add(31 * 24 * time.Hour)
	_, err := f.svc.MarkRedeemed(context.Background(), issued.CouponCode)

	requireStatus(t, err, http.StatusConflict)
}

func TestRevokeCoupon(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(100)
	issued := f.issue(t, "revoke-me")

	coupon, err := f.svc.RevokeCoupon(context.Background(), issued.CouponID)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, coupon.Status)
	require.NotNil(t, coupon.RevokedAt)
	assert.Equal(t, int64(90), f.available(), "revocation does not refund")

	_, err = f.svc.RevokeCoupon(context.Background(), issued.CouponID)
	requireStatus(t, err, http.StatusConflict)

	_, err = f.svc.RevokeCoupon(context.Background(), uuid.New())
	requireStatus(t, err, http.StatusNotFound)
}

func TestExpireCoupons(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(100)
	f.issue(t, "expire-one")
	f.issue(t, "expire-two")

	n, err := f.svc.ExpireCoupons(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(30*24*time.Hour + time.Minute)
	n, err = f.svc.ExpireCoupons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, c := range f.repo.allCoupons() {
		assert.Equal(t, StatusExpired, c.Status)
	}
}

func TestListUserCoupons(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(100)
	f.issue(t, "list-one")
	latest := f.issue(t, "list-two")

	coupons, total, err := f.svc.ListUserCoupons(context.Background(), f.userID, 1, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, coupons, 1)
	assert.Equal(t, latest.CouponID, coupons[0].ID)
}
