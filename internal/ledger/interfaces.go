package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEventNotFound = errors.New("event not found")
	// ErrNegativeBalance is returned when a refresh would leave available points below zero
	ErrNegativeBalance = errors.New("available points would become negative")
)

// Tx is the ledger surface available inside a per-user transaction. Callers
// take the user's balance lock with LockBalance before any other statement.
type Tx interface {
	LockBalance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	RefreshBalance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	InsertEvent(ctx context.Context, event *Event) error
	FindEventByPayloadHash(ctx context.Context, hash string) (*Event, error)
	GetEventForUpdate(ctx context.Context, id uuid.UUID) (*Event, error)
	UpdateEventValidation(ctx context.Context, event *Event) error
	Activity(ctx context.Context, userID uuid.UUID, now time.Time) (*Activity, error)
	ReserveNonce(ctx context.Context, userID uuid.UUID, nonce string, expiresAt time.Time) (bool, error)
}

// TxRunner opens a transaction, commits when fn returns nil and rolls back otherwise
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Profile is the account context the trust scorer needs
type Profile struct {
	AccountCreatedAt *time.Time
	KnownDevice      bool
	ConfirmedFraud   bool
}

// AuditRow pairs a user's cached balance with one recomputed from events
type AuditRow struct {
	UserID     uuid.UUID
	Cached     Balance
	Recomputed Balance
}

// Store is everything the ledger services read and write
type Store interface {
	TxRunner
	GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	FindEventByPayloadHash(ctx context.Context, hash string) (*Event, error)
	ListEvents(ctx context.Context, userID uuid.UUID, filter HistoryFilter, limit, offset int) ([]*Event, int64, error)
	ListPendingReview(ctx context.Context, limit, offset int) ([]*Event, int64, error)
	UserProfile(ctx context.Context, userID uuid.UUID, deviceID string) (*Profile, error)
	AuditBatch(ctx context.Context, after uuid.UUID, limit int) ([]AuditRow, error)
}
