package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInsightNotFound = errors.New("insight not found")
	ErrAlreadyResolved = errors.New("insight already resolved")
)

// Repository stores insights and reads ledger activity for the detectors
type Repository interface {
	RecentActivity(ctx context.Context, userID uuid.UUID, since time.Time) (*Window, error)
	RecentlyActiveUsers(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	// CreateInsight returns false when an open insight of the same type already exists
	CreateInsight(ctx context.Context, insight *Insight) (bool, error)
	ListOpenInsights(ctx context.Context, limit, offset int) ([]*Insight, int64, error)
	ResolveInsight(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy, notes string, at time.Time) (*Insight, error)
}
