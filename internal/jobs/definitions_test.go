package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDeps struct {
	mock.Mock
}

func (m *mockDeps) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockDeps) Reconcile(ctx context.Context, repair bool) (*ledger.ReconcileReport, error) {
	args := m.Called(ctx, repair)
	report, _ := args.Get(0).(*ledger.ReconcileReport)
	return report, args.Error(1)
}

func (m *mockDeps) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockDeps) ExpireCoupons(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

var testCfg = config.JobsConfig{
	NoncePurgeInterval:   time.Hour,
	ReconcileInterval:    6 * time.Hour,
	FraudSweepInterval:   10 * time.Minute,
	CouponExpiryInterval: 15 * time.Minute,
	LockTTL:              5 * time.Minute,
}

func jobsByName(jobs []Job) map[string]Job {
	out := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		out[j.Name] = j
	}
	return out
}

func TestDefinitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deps := new(mockDeps)
	jobs := jobsByName(Definitions(testCfg, Deps{
		Nonces: deps, Ledger: deps, Fraud: deps, Coupons: deps,
		Now: func() time.Time { return now },
	}))

	require.Len(t, jobs, 4)
	assert.Equal(t, time.Hour, jobs[NoncePurge].Interval)
	assert.Equal(t, 10*time.Minute, jobs[FraudSweep].Interval)
	for _, j := range jobs {
		assert.Equal(t, 5*time.Minute, j.Timeout, j.Name)
	}

	ctx := context.Background()
	deps.On("PurgeExpired", ctx, now).Return(int64(12), nil).Once()
	deps.On("Reconcile", ctx, true).Return(&ledger.ReconcileReport{UsersChecked: 3}, nil).Once()
	deps.On("Sweep", ctx).Return(2, nil).Once()
	deps.On("ExpireCoupons", ctx).Return(int64(0), nil).Once()

	for _, name := range []string{NoncePurge, Reconcile, FraudSweep, CouponExpiry} {
		assert.NoError(t, jobs[name].Run(ctx), name)
	}
	deps.AssertExpectations(t)
}

func TestDefinitions_ErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	deps := new(mockDeps)
	jobs := jobsByName(Definitions(testCfg, Deps{Nonces: deps, Ledger: deps, Fraud: deps, Coupons: deps}))
	boom := errors.New("db down")

	deps.On("PurgeExpired", ctx, mock.Anything).Return(int64(0), boom)
	deps.On("Reconcile", ctx, true).Return(nil, boom)
	deps.On("Sweep", ctx).Return(0, boom)
	deps.On("ExpireCoupons", ctx).Return(int64(0), boom)

	for name, job := range jobs {
		assert.ErrorIs(t, job.Run(ctx), boom, name)
	}
}
