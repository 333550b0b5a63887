package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/points-ledger/pkg/database"
)

// Repository records consumed nonces in used_nonces
type Repository struct {
	db database.DBTX
}

// NewRepository creates a repository over a pool or a transaction
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Reserve marks (user, nonce) as used. It returns false when the pair was already taken.
func (r *Repository) Reserve(ctx context.Context, userID uuid.UUID, nonce string, expiresAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO used_nonces (user_id, nonce, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, nonce) DO NOTHING`,
		userID, nonce, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve nonce: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeExpired deletes rows whose validity window closed before cutoff.
// Those nonces already fail Guard.Validate, so deleting them cannot enable a replay.
func (r *Repository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM used_nonces WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge nonces: %w", err)
	}
	return tag.RowsAffected(), nil
}
