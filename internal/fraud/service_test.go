package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) RecentActivity(ctx context.Context, userID uuid.UUID, since time.Time) (*Window, error) {
	args := m.Called(ctx, userID, since)
	w, _ := args.Get(0).(*Window)
	return w, args.Error(1)
}

func (m *mockRepository) RecentlyActiveUsers(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, since, limit)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

func (m *mockRepository) CreateInsight(ctx context.Context, insight *Insight) (bool, error) {
	args := m.Called(ctx, insight)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) ListOpenInsights(ctx context.Context, limit, offset int) ([]*Insight, int64, error) {
	args := m.Called(ctx, limit, offset)
	insights, _ := args.Get(0).([]*Insight)
	return insights, int64(args.Int(1)), args.Error(2)
}

func (m *mockRepository) ResolveInsight(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy, notes string, at time.Time) (*Insight, error) {
	args := m.Called(ctx, id, resolution, resolvedBy, notes, at)
	in, _ := args.Get(0).(*Insight)
	return in, args.Error(1)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(repo Repository) *Engine {
	e := NewEngine(repo,
		config.FraudConfig{VelocityWindow: time.Hour, VelocityThreshold: 0.5, SweepLookback: 2 * time.Hour},
		config.RateLimitConfig{EventsPerHour: 100},
	)
	e.now = func() time.Time { return testNow }
	return e
}

func TestEngine_Analyze_RaisesVelocityInsight(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	userID := uuid.New()

	repo.On("RecentActivity", ctx, userID, testNow.Add(-time.Hour)).
		Return(&Window{UserID: userID, Events: 90, Points: 900}, nil)
	repo.On("CreateInsight", ctx, mock.MatchedBy(func(in *Insight) bool {
		return in.UserID == userID && in.InsightType == InsightVelocity &&
			in.Severity == SeverityHigh && in.CreatedAt.Equal(testNow)
	})).Return(true, nil).Once()

	created, err := engine.Analyze(ctx, userID)

	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.InDelta(t, 90, created[0].Score, 0.01)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(created[0].Details, &details))
	assert.EqualValues(t, 900, details["points"])
	assert.EqualValues(t, 3600, details["window_seconds"])
	repo.AssertExpectations(t)
}

func TestEngine_Analyze_BelowThreshold(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	userID := uuid.New()

	repo.On("RecentActivity", ctx, userID, mock.Anything).Return(&Window{UserID: userID, Events: 5}, nil)

	created, err := engine.Analyze(ctx, userID)

	require.NoError(t, err)
	assert.Empty(t, created)
	repo.AssertNotCalled(t, "CreateInsight", mock.Anything, mock.Anything)
}

func TestEngine_Analyze_OpenInsightSuppressesDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	userID := uuid.New()

	repo.On("RecentActivity", ctx, userID, mock.Anything).Return(&Window{UserID: userID, Events: 100}, nil)
	repo.On("CreateInsight", ctx, mock.Anything).Return(false, nil)

	created, err := engine.Analyze(ctx, userID)

	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestEngine_Analyze_StorageError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	userID := uuid.New()

	repo.On("RecentActivity", ctx, userID, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := engine.Analyze(ctx, userID)
	assert.Error(t, err)
}

type stubDetector struct {
	typ     InsightType
	finding *Finding
}

func (d stubDetector) Type() InsightType      { return d.typ }
func (d stubDetector) Detect(Window) *Finding { return d.finding }

func TestEngine_Register(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	userID := uuid.New()

	// replaces the built-in velocity detector
	engine.Register(stubDetector{typ: InsightVelocity})
	engine.Register(stubDetector{typ: "device_sharing", finding: &Finding{Severity: SeverityMedium, Score: 40}})

	repo.On("RecentActivity", ctx, userID, mock.Anything).Return(&Window{UserID: userID, Events: 500}, nil)
	repo.On("CreateInsight", ctx, mock.MatchedBy(func(in *Insight) bool {
		return in.InsightType == "device_sharing"
	})).Return(true, nil).Once()

	created, err := engine.Analyze(ctx, userID)

	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, InsightType("device_sharing"), created[0].InsightType)
	repo.AssertExpectations(t)
}

func appendedEvent(t *testing.T, userID uuid.UUID) *eventbus.Event {
	t.Helper()
	evt, err := eventbus.NewEvent(eventbus.SubjectEventAppended, "test", eventbus.EventAppendedData{
		EventID: uuid.New(), UserID: userID, EventType: "daily_login", Status: "validated", PointsDelta: 10,
	})
	require.NoError(t, err)
	return evt
}

func TestEngine_HandleEventAppended(t *testing.T) {
	ctx := context.Background()

	t.Run("analyzes the event owner", func(t *testing.T) {
		repo := new(mockRepository)
		engine := newTestEngine(repo)
		userID := uuid.New()
		repo.On("RecentActivity", ctx, userID, mock.Anything).Return(&Window{UserID: userID, Events: 1}, nil).Once()

		assert.NoError(t, engine.HandleEventAppended(ctx, appendedEvent(t, userID)))
		repo.AssertExpectations(t)
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		repo := new(mockRepository)
		engine := newTestEngine(repo)

		err := engine.HandleEventAppended(ctx, &eventbus.Event{ID: "x", Data: json.RawMessage(`{"user_id":42}`)})

		assert.NoError(t, err)
		repo.AssertNotCalled(t, "RecentActivity", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("storage failure requests redelivery", func(t *testing.T) {
		repo := new(mockRepository)
		engine := newTestEngine(repo)
		userID := uuid.New()
		repo.On("RecentActivity", ctx, userID, mock.Anything).Return(nil, errors.New("timeout"))

		assert.Error(t, engine.HandleEventAppended(ctx, appendedEvent(t, userID)))
	})
}

func TestEngine_Sweep(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	busy, quiet, broken := uuid.New(), uuid.New(), uuid.New()

	repo.On("RecentlyActiveUsers", ctx, testNow.Add(-2*time.Hour), sweepBatch).
		Return([]uuid.UUID{busy, broken, quiet}, nil)
	repo.On("RecentActivity", ctx, busy, mock.Anything).Return(&Window{UserID: busy, Events: 75}, nil)
	repo.On("RecentActivity", ctx, broken, mock.Anything).Return(nil, errors.New("boom"))
	repo.On("RecentActivity", ctx, quiet, mock.Anything).Return(&Window{UserID: quiet, Events: 2}, nil)
	repo.On("CreateInsight", ctx, mock.Anything).Return(true, nil).Once()

	raised, err := engine.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, raised)
	repo.AssertExpectations(t)
}

func TestEngine_Sweep_ListError(t *testing.T) {
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	repo.On("RecentlyActiveUsers", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	_, err := engine.Sweep(context.Background())
	assert.Error(t, err)
}

func TestEngine_ResolveInsight(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	tests := []struct {
		name       string
		resolution Resolution
		repoErr    error
		wantCode   int
	}{
		{name: "confirmed", resolution: ResolutionConfirmedFraud},
		{name: "false positive", resolution: ResolutionFalsePositive},
		{name: "unknown resolution", resolution: "maybe", wantCode: http.StatusBadRequest},
		{name: "missing", resolution: ResolutionFalsePositive, repoErr: ErrInsightNotFound, wantCode: http.StatusNotFound},
		{name: "already resolved", resolution: ResolutionFalsePositive, repoErr: ErrAlreadyResolved, wantCode: http.StatusConflict},
		{name: "storage", resolution: ResolutionFalsePositive, repoErr: errors.New("down"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			engine := newTestEngine(repo)
			resolved := &Insight{ID: id, Resolved: true, Resolution: &tt.resolution}
			if tt.repoErr != nil {
				resolved = nil
			}
			repo.On("ResolveInsight", ctx, id, tt.resolution, "admin-1", "checked", testNow).
				Return(resolved, tt.repoErr).Maybe()

			got, err := engine.ResolveInsight(ctx, "admin-1", id, tt.resolution, "checked")

			if tt.wantCode == 0 {
				require.NoError(t, err)
				assert.True(t, got.Resolved)
				return
			}
			appErr, ok := common.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestEngine_ListOpenInsights_Error(t *testing.T) {
	repo := new(mockRepository)
	engine := newTestEngine(repo)
	repo.On("ListOpenInsights", mock.Anything, 20, 0).Return(nil, 0, errors.New("down"))

	_, _, err := engine.ListOpenInsights(context.Background(), 20, 0)

	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code)
}
