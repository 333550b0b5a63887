// Package intake validates submitted point events, scores them, and appends
// them to the ledger.
package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/internal/attestation"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/internal/nonce"
	"github.com/richxcame/points-ledger/internal/ratelimit"
	"github.com/richxcame/points-ledger/internal/trust"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/database"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/richxcame/points-ledger/pkg/logger"
	"github.com/richxcame/points-ledger/pkg/resilience"
	"go.uber.org/zap"
)

// ErrValidation marks submissions rejected before anything is persisted
var ErrValidation = errors.New("invalid submission")

const (
	systemValidator = "system"
	eventSource     = "ledger-intake"

	attestationTokenField = "attestation_token"
	proofProviderField    = "provider"
	proofReferenceField   = "proof_reference"

	lowTrustReason = "Trust score too low"
)

// Store is the ledger surface intake depends on
type Store interface {
	ledger.TxRunner
	FindEventByPayloadHash(ctx context.Context, hash string) (*ledger.Event, error)
	UserProfile(ctx context.Context, userID uuid.UUID, deviceID string) (*ledger.Profile, error)
}

// Service runs the submission pipeline
type Service struct {
	store     Store
	verifier  attestation.Verifier
	publisher eventbus.Publisher
	guard     *nonce.Guard
	limiter   *ratelimit.Limiter
	cfg       config.LedgerConfig
	weights   config.TrustConfig
	retry     resilience.RetryConfig
	now       func() time.Time
}

// NewService creates a new intake service. publisher may be nil.
func NewService(
	store Store,
	verifier attestation.Verifier,
	publisher eventbus.Publisher,
	cfg config.LedgerConfig,
	weights config.TrustConfig,
	limiter *ratelimit.Limiter,
) *Service {
	if verifier == nil {
		verifier = attestation.NoopVerifier{}
	}
	return &Service{
		store:     store,
		verifier:  verifier,
		publisher: publisher,
		guard:     nonce.NewGuard(cfg.NonceMaxAge, cfg.MaxFutureSkew),
		limiter:   limiter,
		cfg:       cfg,
		weights:   weights,
		retry:     resilience.LockContentionRetryConfig(database.IsConcurrencyConflict),
		now:       time.Now,
	}
}

// submission is a request after the gates that need no storage
type submission struct {
	callerID  uuid.UUID
	userID    uuid.UUID
	eventType ledger.EventType
	proofType ledger.ProofType
	points    int
	admin     bool
	honeypot  bool
	hash      string
	expiresAt time.Time
	deviceID  string
}

// signals are the trust inputs gathered before the transaction opens
type signals struct {
	attestation trust.Attestation
	thirdParty  bool
	profile     ledger.Profile
}

type appendOutcome struct {
	event     *ledger.Event
	duplicate bool
	reason    string
}

func invalid(reason string) error {
	return common.NewBadRequestError(reason, ErrValidation)
}

// Submit validates, scores and records one event for callerID. Admin-only event
// types are credited to req.TargetUserID.
func (s *Service) Submit(ctx context.Context, callerID uuid.UUID, req *SubmitRequest, isAdmin bool) (*SubmitResult, error) {
	now := s.now()

	sub, err := s.classify(callerID, req, isAdmin)
	if err != nil {
		return nil, err
	}

	if req.EventTime.After(now.Add(s.cfg.MaxFutureSkew)) {
		return nil, invalid("event_time is too far in the future")
	}
	if req.EventTime.Before(now.Add(-s.cfg.MaxEventAge)) {
		return nil, invalid("event_time is too old")
	}

	if sub.expiresAt, err = s.guard.Validate(req.Nonce); err != nil {
		return nil, invalid(err.Error())
	}

	var adminDelta *int
	if sub.admin {
		adminDelta = &sub.points
	}
	if sub.hash, err = PayloadHash(sub.userID, req, string(sub.proofType), adminDelta); err != nil {
		return nil, invalid("payload is not serializable")
	}

	existing, err := s.store.FindEventByPayloadHash(ctx, sub.hash)
	if err != nil {
		return nil, common.NewInternalError("failed to check for duplicate submission", err)
	}
	if existing != nil {
		submissionsTotal.WithLabelValues(string(existing.Status), "true").Inc()
		return resultFrom(existing, true, ""), nil
	}

	var sig signals
	if !sub.admin {
		if sig, err = s.gatherSignals(ctx, sub, req); err != nil {
			return nil, common.NewInternalError("failed to load scoring context", err)
		}
	}

	res, err := resilience.Retry(ctx, s.retry, func(ctx context.Context) (interface{}, error) {
		return s.appendEvent(ctx, sub, req, sig, now)
	})
	if err != nil {
		return s.resolveFailure(ctx, sub, err)
	}

	out := res.(*appendOutcome)
	submissionsTotal.WithLabelValues(string(out.event.Status), fmt.Sprint(out.duplicate)).Inc()
	if out.duplicate {
		return resultFrom(out.event, true, ""), nil
	}
	if out.event.TrustScore != nil {
		trustScores.Observe(float64(*out.event.TrustScore))
	}

	s.publishAppended(ctx, out.event)
	return resultFrom(out.event, false, out.reason), nil
}

func (s *Service) classify(callerID uuid.UUID, req *SubmitRequest, isAdmin bool) (*submission, error) {
	sub := &submission{
		callerID:  callerID,
		userID:    callerID,
		eventType: ledger.EventType(req.EventType),
		proofType: ledger.ProofInternal,
		deviceID:  deref(req.DeviceID),
	}
	if req.ProofType != "" {
		sub.proofType = ledger.ProofType(req.ProofType)
	}

	switch {
	case sub.eventType == ledger.EventTypeRedeemCoupon:
		return nil, invalid("redeem_coupon events are created by coupon redemption")

	case sub.eventType.IsAdminOnly():
		if !isAdmin {
			return nil, common.NewForbiddenError(fmt.Sprintf("admin role required for %s", sub.eventType))
		}
		if req.TargetUserID == nil || *req.TargetUserID == uuid.Nil {
			return nil, invalid("user_id is required for admin events")
		}
		if req.PointsDelta == nil || *req.PointsDelta == 0 {
			return nil, invalid("points_delta is required for admin events")
		}
		if sub.eventType == ledger.EventTypeAdminAward && *req.PointsDelta < 0 {
			return nil, invalid("admin_award requires a positive points_delta")
		}
		sub.admin = true
		sub.userID = *req.TargetUserID
		sub.points = *req.PointsDelta
		return sub, nil

	case contains(s.cfg.HoneypotEvents, req.EventType):
		sub.honeypot = true

	default:
		points, ok := s.cfg.EventPoints[req.EventType]
		if !ok {
			return nil, invalid(fmt.Sprintf("unknown event type %q", req.EventType))
		}
		sub.points = points
	}

	for _, field := range s.cfg.HoneypotFields {
		if v, ok := req.DeviceInfo[field]; ok && !isBlank(v) {
			sub.honeypot = true
		}
	}
	return sub, nil
}

// gatherSignals makes every external call the scorer needs, bounded by the verifier timeout
func (s *Service) gatherSignals(ctx context.Context, sub *submission, req *SubmitRequest) (signals, error) {
	var sig signals

	profile, err := s.store.UserProfile(ctx, sub.userID, sub.deviceID)
	if err != nil {
		return sig, err
	}
	sig.profile = *profile

	vctx := ctx
	if s.cfg.VerifierTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, s.cfg.VerifierTimeout)
		defer cancel()
	}

	switch sub.proofType {
	case ledger.ProofAttestation:
		token, _ := req.DeviceInfo[attestationTokenField].(string)
		sig.attestation = s.verifier.VerifyDevice(vctx, attestation.DeviceRequest{
			UserID:   sub.userID.String(),
			DeviceID: sub.deviceID,
			Token:    token,
		})
	case ledger.ProofThirdParty:
		provider, _ := req.Payload[proofProviderField].(string)
		reference, _ := req.Payload[proofReferenceField].(string)
		sig.thirdParty = s.verifier.ConfirmProof(vctx, attestation.ProofRequest{
			UserID:    sub.userID.String(),
			EventType: string(sub.eventType),
			Provider:  provider,
			Reference: reference,
			EventTime: req.EventTime,
		})
	}
	return sig, nil
}

// appendEvent runs the locked part of the pipeline in one transaction
func (s *Service) appendEvent(ctx context.Context, sub *submission, req *SubmitRequest, sig signals, now time.Time) (*appendOutcome, error) {
	var out *appendOutcome
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.LockBalance(ctx, sub.userID); err != nil {
			return err
		}

		existing, err := tx.FindEventByPayloadHash(ctx, sub.hash)
		if err != nil {
			return err
		}
		if existing != nil {
			out = &appendOutcome{event: existing, duplicate: true}
			return nil
		}

		reserved, err := tx.ReserveNonce(ctx, sub.userID, req.Nonce, sub.expiresAt)
		if err != nil {
			return err
		}
		if !reserved {
			return invalid(nonce.ErrAlreadyUsed.Error())
		}

		event := newEvent(sub, req, now)
		out = &appendOutcome{event: event}

		// admin credits are exempt from the four rate ceilings and from scoring
		if sub.admin {
			validator := sub.callerID.String()
			event.Status = ledger.StatusValidated
			event.ValidatedAt = &now
			event.ValidatedBy = &validator
			event.ValidationNotes = req.Notes
		} else {
			activity, err := tx.Activity(ctx, sub.userID, now)
			if err != nil {
				return err
			}
			out.reason = s.decide(event, sub, sig, activity, now)
		}

		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}
		if event.Status == ledger.StatusValidated || event.Status == ledger.StatusPendingReview {
			if _, err := tx.RefreshBalance(ctx, sub.userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decide applies the rate ceilings and the trust score to event and returns the
// caller-visible rejection reason, if any
func (s *Service) decide(event *ledger.Event, sub *submission, sig signals, activity *ledger.Activity, now time.Time) string {
	usage := ratelimit.Usage{
		EventsLastHour: activity.EventsLastHour,
		EventsLastDay:  activity.EventsLastDay,
		PointsLastHour: activity.PointsLastHour,
		PointsLastDay:  activity.PointsLastDay,
	}
	if v := s.limiter.Check(usage, sub.points); v != nil {
		rateLimited.WithLabelValues(string(v.Ceiling)).Inc()
		event.Status = ledger.StatusRejected
		event.ValidationNotes = &v.Reason
		return v.Reason
	}

	in := trust.Input{
		Attestation:         sig.attestation,
		ThirdPartyConfirmed: sig.thirdParty,
		KnownDevice:         sig.profile.KnownDevice,
		ConfirmedFraud:      sig.profile.ConfirmedFraud,
		Honeypot:            sub.honeypot,
	}
	if created := sig.profile.AccountCreatedAt; created != nil {
		in.AccountAge = now.Sub(*created)
	}
	if last := activity.LastEventAt; last != nil {
		gap := now.Sub(*last)
		in.SincePrevious = &gap
	}

	result := trust.Score(in, s.weights)
	notes := describeScore(result)
	event.TrustScore = &result.Score
	event.ValidationNotes = &notes
	event.Status = ledger.Status(trust.Decide(result.Score, s.weights))

	switch event.Status {
	case ledger.StatusValidated:
		validator := systemValidator
		event.ValidatedAt = &now
		event.ValidatedBy = &validator
	case ledger.StatusRejected:
		return lowTrustReason
	}
	return ""
}

func (s *Service) resolveFailure(ctx context.Context, sub *submission, err error) (*SubmitResult, error) {
	switch {
	case database.IsUniqueViolation(err, "point_events_payload_hash_key"):
		original, lookupErr := s.store.FindEventByPayloadHash(ctx, sub.hash)
		if lookupErr == nil && original != nil {
			return resultFrom(original, true, ""), nil
		}
		return nil, common.NewInternalError("failed to resolve duplicate submission", err)
	case database.IsUniqueViolation(err, "point_events_user_nonce_key"):
		return nil, invalid(nonce.ErrAlreadyUsed.Error())
	case errors.Is(err, ledger.ErrNegativeBalance):
		return nil, invalid("correction would make available points negative")
	case database.IsConcurrencyConflict(err):
		return nil, common.NewAppError(http.StatusConflict, "concurrent update in progress, retry the request", err)
	}
	if appErr, ok := common.AsAppError(err); ok {
		return nil, appErr
	}
	logger.WithContext(ctx).Error("failed to record event",
		zap.String("user_id", sub.userID.String()),
		zap.String("event_type", string(sub.eventType)),
		zap.Error(err),
	)
	return nil, common.NewInternalError("failed to record event", err)
}

func (s *Service) publishAppended(ctx context.Context, e *ledger.Event) {
	if s.publisher == nil {
		return
	}
	evt, err := eventbus.NewEvent(eventbus.SubjectEventAppended, eventSource, eventbus.EventAppendedData{
		EventID:     e.ID,
		UserID:      e.UserID,
		EventType:   string(e.EventType),
		Status:      string(e.Status),
		PointsDelta: e.PointsDelta,
		TrustScore:  e.TrustScore,
		EventTime:   e.EventTime,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, eventbus.SubjectEventAppended, evt)
	}
	if err != nil {
		logger.WithContext(ctx).Warn("failed to publish event appended",
			zap.String("event_id", e.ID.String()), zap.Error(err))
	}
}

func newEvent(sub *submission, req *SubmitRequest, now time.Time) *ledger.Event {
	e := &ledger.Event{
		ID:                uuid.New(),
		UserID:            sub.userID,
		EventType:         sub.eventType,
		EventTime:         req.EventTime.UTC(),
		PointsDelta:       sub.points,
		ProofType:         sub.proofType,
		PayloadHash:       sub.hash,
		Nonce:             req.Nonce,
		RelatedEntityType: req.RelatedEntityType,
		RelatedEntityID:   req.RelatedEntityID,
		CreatedAt:         now,
	}
	if sub.deviceID != "" {
		e.DeviceID = &sub.deviceID
	}
	e.DeviceInfo = marshalOptional(req.DeviceInfo)
	e.Payload = marshalOptional(req.Payload)
	return e
}

func describeScore(r trust.Result) string {
	parts := make([]string, 0, len(r.Factors))
	for _, f := range r.Factors {
		parts = append(parts, fmt.Sprintf("%s %+d", f.Name, f.Delta))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("trust score %d", r.Score)
	}
	return fmt.Sprintf("trust score %d (%s)", r.Score, strings.Join(parts, ", "))
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func isBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case bool:
		return !t
	}
	return false
}
