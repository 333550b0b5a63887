package jobs

import (
	"context"
	"time"

	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

// Job names double as distributed lock keys
const (
	NoncePurge   = "nonce-purge"
	Reconcile    = "reconcile"
	FraudSweep   = "fraud-sweep"
	CouponExpiry = "coupon-expiry"
)

type NoncePurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, repair bool) (*ledger.ReconcileReport, error)
}

type FraudSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type CouponExpirer interface {
	ExpireCoupons(ctx context.Context) (int64, error)
}

// Deps are the services the maintenance jobs drive
type Deps struct {
	Nonces  NoncePurger
	Ledger  Reconciler
	Fraud   FraudSweeper
	Coupons CouponExpirer
	Now     func() time.Time
}

// Definitions builds the maintenance jobs from the configured intervals.
// Each run is bounded by the lock TTL so a stuck job cannot outlive its lock.
func Definitions(cfg config.JobsConfig, deps Deps) []Job {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return []Job{
		{
			Name:     NoncePurge,
			Interval: cfg.NoncePurgeInterval,
			Timeout:  cfg.LockTTL,
			Run: func(ctx context.Context) error {
				n, err := deps.Nonces.PurgeExpired(ctx, now())
				if err != nil {
					return err
				}
				logger.Info("purged expired nonces", zap.Int64("count", n))
				return nil
			},
		},
		{
			Name:     Reconcile,
			Interval: cfg.ReconcileInterval,
			Timeout:  cfg.LockTTL,
			Run: func(ctx context.Context) error {
				_, err := deps.Ledger.Reconcile(ctx, true)
				return err
			},
		},
		{
			Name:     FraudSweep,
			Interval: cfg.FraudSweepInterval,
			Timeout:  cfg.LockTTL,
			Run: func(ctx context.Context) error {
				n, err := deps.Fraud.Sweep(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("fraud sweep raised insights", zap.Int("count", n))
				}
				return nil
			},
		},
		{
			Name:     CouponExpiry,
			Interval: cfg.CouponExpiryInterval,
			Timeout:  cfg.LockTTL,
			Run: func(ctx context.Context) error {
				n, err := deps.Coupons.ExpireCoupons(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("expired coupons", zap.Int64("count", n))
				}
				return nil
			},
		},
	}
}
