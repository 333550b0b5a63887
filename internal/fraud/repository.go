package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/database"
)

const insightColumns = `id, user_id, insight_type, severity, score, details, resolved,
	resolution, resolved_by, resolved_at, resolution_notes, created_at`

// PostgresRepository handles fraud insight data operations
type PostgresRepository struct {
	db database.DBTX
}

var _ Repository = (*PostgresRepository)(nil)

// NewRepository creates a new fraud repository
func NewRepository(db database.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// RecentActivity counts a user's earning events since the given instant.
// Coupon spends are excluded, rejected events are counted separately.
func (r *PostgresRepository) RecentActivity(ctx context.Context, userID uuid.UUID, since time.Time) (*Window, error) {
	w := &Window{UserID: userID}
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE validation_status <> 'rejected'),
			COALESCE(SUM(points_delta) FILTER (WHERE validation_status <> 'rejected'), 0),
			COUNT(*) FILTER (WHERE validation_status = 'rejected')
		FROM point_events
		WHERE user_id = $1 AND created_at >= $2 AND event_type <> 'redeem_coupon'`,
		userID, since,
	).Scan(&w.Events, &w.Points, &w.Rejected)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent activity: %w", err)
	}
	return w, nil
}

// RecentlyActiveUsers lists users with at least one event since the given instant
func (r *PostgresRepository) RecentlyActiveUsers(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT user_id FROM point_events
		WHERE created_at >= $1 AND event_type <> 'redeem_coupon'
		ORDER BY user_id
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateInsight inserts the insight unless the user already has an open one of the same type
func (r *PostgresRepository) CreateInsight(ctx context.Context, in *Insight) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO fraud_insights (id, user_id, insight_type, severity, score, details, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM fraud_insights
			WHERE user_id = $2 AND insight_type = $3 AND resolved = FALSE
		)`,
		in.ID, in.UserID, in.InsightType, in.Severity, in.Score, nullDetails(in.Details), in.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create insight: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOpenInsights returns unresolved insights, most severe score first
func (r *PostgresRepository) ListOpenInsights(ctx context.Context, limit, offset int) ([]*Insight, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM fraud_insights WHERE resolved = FALSE`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count open insights: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+insightColumns+`
		FROM fraud_insights
		WHERE resolved = FALSE
		ORDER BY score DESC, created_at ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list open insights: %w", err)
	}
	defer rows.Close()

	insights := make([]*Insight, 0)
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, 0, err
		}
		insights = append(insights, in)
	}
	return insights, total, rows.Err()
}

// ResolveInsight closes an open insight
func (r *PostgresRepository) ResolveInsight(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy, notes string, at time.Time) (*Insight, error) {
	var notesArg *string
	if notes != "" {
		notesArg = &notes
	}

	in, err := scanInsight(r.db.QueryRow(ctx, `
		UPDATE fraud_insights
		SET resolved = TRUE, resolution = $2, resolved_by = $3, resolved_at = $4, resolution_notes = $5
		WHERE id = $1 AND resolved = FALSE
		RETURNING `+insightColumns,
		id, resolution, resolvedBy, at, notesArg,
	))
	if err == nil {
		return in, nil
	}
	if !database.IsNoRows(err) {
		return nil, fmt.Errorf("failed to resolve insight: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fraud_insights WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check insight: %w", err)
	}
	if exists {
		return nil, ErrAlreadyResolved
	}
	return nil, ErrInsightNotFound
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInsight(row scanner) (*Insight, error) {
	in := &Insight{}
	var details []byte
	err := row.Scan(
		&in.ID, &in.UserID, &in.InsightType, &in.Severity, &in.Score, &details, &in.Resolved,
		&in.Resolution, &in.ResolvedBy, &in.ResolvedAt, &in.ResolutionNotes, &in.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		in.Details = json.RawMessage(details)
	}
	return in, nil
}

func nullDetails(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
