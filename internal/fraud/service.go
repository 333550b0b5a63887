// Package fraud raises advisory insights on anomalous ledger activity.
// Insights never block intake; a confirmed insight only lowers future trust scores.
package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

const sweepBatch = 500

// Engine runs the registered detectors against a user's recent window
type Engine struct {
	repo      Repository
	detectors map[InsightType]Detector
	window    time.Duration
	lookback  time.Duration
	now       func() time.Time
}

// NewEngine creates an engine with the velocity detector registered
func NewEngine(repo Repository, cfg config.FraudConfig, rates config.RateLimitConfig) *Engine {
	e := &Engine{
		repo:      repo,
		detectors: make(map[InsightType]Detector),
		window:    cfg.VelocityWindow,
		lookback:  cfg.SweepLookback,
		now:       time.Now,
	}
	e.Register(NewVelocityDetector(rates.EventsPerHour, cfg.VelocityThreshold))
	return e
}

// Register adds or replaces the detector for its type
func (e *Engine) Register(d Detector) {
	e.detectors[d.Type()] = d
}

// Analyze runs every detector for a user and stores new insights.
// Returns the insights created by this call.
func (e *Engine) Analyze(ctx context.Context, userID uuid.UUID) ([]*Insight, error) {
	now := e.now()
	w, err := e.repo.RecentActivity(ctx, userID, now.Add(-e.window))
	if err != nil {
		return nil, err
	}
	w.Span = e.window

	var created []*Insight
	for typ, d := range e.detectors {
		finding := d.Detect(*w)
		if finding == nil {
			continue
		}

		details, err := json.Marshal(finding.Details)
		if err != nil {
			return created, fmt.Errorf("failed to marshal %s details: %w", typ, err)
		}
		in := &Insight{
			ID:          uuid.New(),
			UserID:      userID,
			InsightType: typ,
			Severity:    finding.Severity,
			Score:       finding.Score,
			Details:     details,
			CreatedAt:   now,
		}

		ok, err := e.repo.CreateInsight(ctx, in)
		if err != nil {
			return created, err
		}
		if !ok {
			// an open insight of this type already flags the user
			continue
		}

		insightsCreated.WithLabelValues(string(typ), string(in.Severity)).Inc()
		logger.WithContext(ctx).Info("fraud insight raised",
			zap.String("user_id", userID.String()),
			zap.String("type", string(typ)),
			zap.String("severity", string(in.Severity)),
			zap.Float64("score", in.Score),
		)
		created = append(created, in)
	}
	return created, nil
}

// HandleEventAppended is the ledger.event.appended subscriber. Malformed
// payloads are dropped; storage failures are returned so the message is redelivered.
func (e *Engine) HandleEventAppended(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.EventAppendedData
	if err := event.Decode(&data); err != nil {
		logger.WithContext(ctx).Warn("dropping malformed event", zap.String("id", event.ID), zap.Error(err))
		return nil
	}
	if data.UserID == uuid.Nil {
		return nil
	}

	if _, err := e.Analyze(ctx, data.UserID); err != nil {
		return fmt.Errorf("analyze user %s: %w", data.UserID, err)
	}
	return nil
}

// Sweep analyzes every user active within the lookback. A failure on one
// user is logged and the sweep moves on. Returns the number of insights raised.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	users, err := e.repo.RecentlyActiveUsers(ctx, e.now().Add(-e.lookback), sweepBatch)
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return raised, err
		}
		created, err := e.Analyze(ctx, userID)
		if err != nil {
			logger.WithContext(ctx).Error("fraud sweep failed for user",
				zap.String("user_id", userID.String()), zap.Error(err))
			continue
		}
		raised += len(created)
	}
	return raised, nil
}

// ListOpenInsights returns unresolved insights
func (e *Engine) ListOpenInsights(ctx context.Context, limit, offset int) ([]*Insight, int64, error) {
	insights, total, err := e.repo.ListOpenInsights(ctx, limit, offset)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to list fraud insights", err)
	}
	return insights, total, nil
}

// ResolveInsight closes an open insight with an admin verdict
func (e *Engine) ResolveInsight(ctx context.Context, adminID string, id uuid.UUID, resolution Resolution, notes string) (*Insight, error) {
	if resolution != ResolutionFalsePositive && resolution != ResolutionConfirmedFraud {
		return nil, common.NewBadRequestError("resolution must be false_positive or confirmed_fraud", nil)
	}

	in, err := e.repo.ResolveInsight(ctx, id, resolution, adminID, notes, e.now())
	switch {
	case errors.Is(err, ErrInsightNotFound):
		return nil, common.NewNotFoundError("insight not found", err)
	case errors.Is(err, ErrAlreadyResolved):
		return nil, common.NewConflictError("insight is already resolved")
	case err != nil:
		logger.WithContext(ctx).Error("failed to resolve insight",
			zap.String("insight_id", id.String()), zap.Error(err))
		return nil, common.NewInternalError("failed to resolve insight", err)
	}

	insightsResolved.WithLabelValues(string(resolution)).Inc()
	return in, nil
}
