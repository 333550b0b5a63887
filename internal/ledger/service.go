package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

const auditBatchSize = 500

// Service serves balance and history reads and runs the reconciliation audit
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new ledger service
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// GetBalance returns the user's cached balance
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	b, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, common.NewInternalError("failed to get balance", err)
	}
	return b, nil
}

// GetEvent returns an event the caller owns. Admins may read any event.
func (s *Service) GetEvent(ctx context.Context, userID, eventID uuid.UUID, isAdmin bool) (*Event, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if errors.Is(err, ErrEventNotFound) {
		return nil, common.NewNotFoundError("event not found", err)
	}
	if err != nil {
		return nil, common.NewInternalError("failed to get event", err)
	}
	if event.UserID != userID && !isAdmin {
		return nil, common.NewNotFoundError("event not found", nil)
	}
	return event, nil
}

// ListHistory returns the user's events, newest first
func (s *Service) ListHistory(ctx context.Context, userID uuid.UUID, filter HistoryFilter, limit, offset int) ([]*Event, int64, error) {
	events, total, err := s.store.ListEvents(ctx, userID, filter, limit, offset)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to list events", err)
	}
	if events == nil {
		events = []*Event{}
	}
	return events, total, nil
}

// Reconcile compares every cached balance with a recomputation from the event
// log. With repair set, each offending row is rebuilt under the user's lock.
func (s *Service) Reconcile(ctx context.Context, repair bool) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: s.now(), Discrepancies: []Discrepancy{}}
	log := logger.WithContext(ctx)

	cursor := uuid.Nil
	for {
		rows, err := s.store.AuditBatch(ctx, cursor, auditBatchSize)
		if err != nil {
			reconcileRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("audit batch after %s: %w", cursor, err)
		}
		for _, row := range rows {
			report.UsersChecked++
			if row.Cached.Equal(row.Recomputed) {
				continue
			}

			d := Discrepancy{UserID: row.UserID, Cached: row.Cached, Recomputed: row.Recomputed}
			log.Warn("balance cache discrepancy",
				zap.String("user_id", row.UserID.String()),
				zap.Int64("cached_available", row.Cached.AvailablePoints),
				zap.Int64("ledger_available", row.Recomputed.AvailablePoints),
			)
			if repair {
				if err := s.repair(ctx, row.UserID); err != nil {
					log.Error("failed to repair balance", zap.String("user_id", row.UserID.String()), zap.Error(err))
				} else {
					d.Repaired = true
					report.Repaired++
					reconcileRepairs.Inc()
				}
			}
			report.Discrepancies = append(report.Discrepancies, d)
		}
		if len(rows) < auditBatchSize {
			break
		}
		cursor = rows[len(rows)-1].UserID
	}

	report.FinishedAt = s.now()
	reconcileDiscrepancies.Set(float64(len(report.Discrepancies) - report.Repaired))
	reconcileRuns.WithLabelValues("ok").Inc()

	log.Info("reconciliation finished",
		zap.Int("users_checked", report.UsersChecked),
		zap.Int("discrepancies", len(report.Discrepancies)),
		zap.Int("repaired", report.Repaired),
	)
	return report, nil
}

func (s *Service) repair(ctx context.Context, userID uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockBalance(ctx, userID); err != nil {
			return err
		}
		_, err := tx.RefreshBalance(ctx, userID)
		return err
	})
}
