// Package review is the admin workflow for events held for manual review.
package review

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/database"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/richxcame/points-ledger/pkg/logger"
	"github.com/richxcame/points-ledger/pkg/resilience"
	"go.uber.org/zap"
)

const eventSource = "ledger-review"

// Store is the ledger surface review depends on
type Store interface {
	ledger.TxRunner
	GetEvent(ctx context.Context, id uuid.UUID) (*ledger.Event, error)
	ListPendingReview(ctx context.Context, limit, offset int) ([]*ledger.Event, int64, error)
}

// Service applies admin decisions to held events
type Service struct {
	store     Store
	publisher eventbus.Publisher
	retry     resilience.RetryConfig
	now       func() time.Time
}

// NewService creates a new review service. publisher may be nil.
func NewService(store Store, publisher eventbus.Publisher) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		retry:     resilience.LockContentionRetryConfig(database.IsConcurrencyConflict),
		now:       time.Now,
	}
}

// ApproveEvent validates a held event and releases its points
func (s *Service) ApproveEvent(ctx context.Context, adminID, eventID uuid.UUID, notes string) (*ledger.Event, error) {
	return s.decide(ctx, adminID, eventID, ledger.StatusValidated, notes)
}

// RejectEvent rejects a held event; its pending points are dropped
func (s *Service) RejectEvent(ctx context.Context, adminID, eventID uuid.UUID, notes string) (*ledger.Event, error) {
	return s.decide(ctx, adminID, eventID, ledger.StatusRejected, notes)
}

// ListPendingReview returns the review queue, oldest first
func (s *Service) ListPendingReview(ctx context.Context, limit, offset int) ([]*ledger.Event, int64, error) {
	events, total, err := s.store.ListPendingReview(ctx, limit, offset)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to list review queue", err)
	}
	return events, total, nil
}

var errAlreadyFinal = errors.New("event already finalized")

func (s *Service) decide(ctx context.Context, adminID, eventID uuid.UUID, status ledger.Status, notes string) (*ledger.Event, error) {
	// the owner is needed before the transaction: the balance lock comes first
	current, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, ledger.ErrEventNotFound) {
			return nil, common.NewNotFoundError("event not found", err)
		}
		return nil, common.NewInternalError("failed to get event", err)
	}
	if current.Status.IsFinal() {
		return nil, finalConflict(current.Status)
	}

	res, err := resilience.Retry(ctx, s.retry, func(ctx context.Context) (interface{}, error) {
		return s.apply(ctx, adminID, current.UserID, eventID, status, notes)
	})
	if err != nil {
		return nil, s.failure(ctx, eventID, err)
	}

	event := res.(*ledger.Event)
	s.publishReviewed(ctx, event, adminID)
	return event, nil
}

func (s *Service) apply(ctx context.Context, adminID, userID, eventID uuid.UUID, status ledger.Status, notes string) (*ledger.Event, error) {
	var event *ledger.Event
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.LockBalance(ctx, userID); err != nil {
			return err
		}

		e, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if e.Status.IsFinal() {
			return errAlreadyFinal
		}

		now := s.now()
		reviewer := adminID.String()
		e.Status = status
		e.ValidatedAt = &now
		e.ValidatedBy = &reviewer
		if notes != "" {
			e.ValidationNotes = &notes
		}

		if err := tx.UpdateEventValidation(ctx, e); err != nil {
			return err
		}
		if _, err := tx.RefreshBalance(ctx, userID); err != nil {
			return err
		}
		event = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) failure(ctx context.Context, eventID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, errAlreadyFinal), errors.Is(err, ledger.ErrEventNotFound):
		// lost a race with another reviewer
		return common.NewConflictError("event has already been reviewed")
	case errors.Is(err, ledger.ErrNegativeBalance):
		return common.NewConflictError("decision would make available points negative")
	case database.IsConcurrencyConflict(err):
		return common.NewAppError(http.StatusConflict, "concurrent update in progress, retry the request", err)
	}
	logger.WithContext(ctx).Error("failed to apply review decision",
		zap.String("event_id", eventID.String()), zap.Error(err))
	return common.NewInternalError("failed to apply review decision", err)
}

func finalConflict(status ledger.Status) error {
	return common.NewConflictError("event is already " + string(status))
}

func (s *Service) publishReviewed(ctx context.Context, e *ledger.Event, adminID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	evt, err := eventbus.NewEvent(eventbus.SubjectEventReviewed, eventSource, eventbus.EventReviewedData{
		EventID:    e.ID,
		UserID:     e.UserID,
		Status:     string(e.Status),
		ReviewedBy: adminID.String(),
	})
	if err == nil {
		err = s.publisher.Publish(ctx, eventbus.SubjectEventReviewed, evt)
	}
	if err != nil {
		logger.WithContext(ctx).Warn("failed to publish event reviewed",
			zap.String("event_id", e.ID.String()), zap.Error(err))
	}
}
