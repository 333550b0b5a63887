package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/points-ledger/internal/nonce"
	"github.com/richxcame/points-ledger/pkg/database"
)

const eventColumns = `
	id, user_id, event_type, event_time, points_delta, proof_type, payload_hash, nonce,
	validation_status, trust_score, related_entity_type, related_entity_id, device_id,
	device_info, payload, validated_at, validated_by, validation_notes, created_at`

// balanceAggregate recomputes every cached field from point_events for user $1
const balanceAggregate = `
	SELECT
		COALESCE(SUM(points_delta) FILTER (WHERE validation_status = 'validated'), 0) AS available,
		COALESCE(SUM(points_delta) FILTER (WHERE validation_status IN ('pending', 'pending_review') AND points_delta > 0), 0) AS pending,
		COALESCE(SUM(points_delta) FILTER (WHERE validation_status = 'validated' AND points_delta > 0), 0) AS earned,
		COALESCE(-SUM(points_delta) FILTER (WHERE validation_status = 'validated' AND points_delta < 0), 0) AS spent
	FROM point_events`

// Repository is the Postgres-backed ledger store
type Repository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository creates a new ledger repository
func NewRepository(db *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{db: db, lockTimeout: lockTimeout}
}

// WithTx runs fn in a transaction bounded by the configured lock timeout
func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.RunInTx(ctx, r.db, r.lockTimeout, func(tx pgx.Tx) error {
		return fn(NewTx(tx))
	})
}

// GetBalance returns the cached balance. Users without a row have a zero balance.
func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	b := &Balance{UserID: userID}
	err := r.db.QueryRow(ctx, `
		SELECT available_points, pending_points, lifetime_earned, lifetime_spent, updated_at
		FROM user_points_cache WHERE user_id = $1`, userID,
	).Scan(&b.AvailablePoints, &b.PendingPoints, &b.LifetimeEarned, &b.LifetimeSpent, &b.UpdatedAt)
	if database.IsNoRows(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// GetEvent retrieves an event by ID
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	event, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM point_events WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// FindEventByPayloadHash returns nil when no event carries hash
func (r *Repository) FindEventByPayloadHash(ctx context.Context, hash string) (*Event, error) {
	return NewTx(r.db).FindEventByPayloadHash(ctx, hash)
}

// ListEvents returns a user's history, newest first
func (r *Repository) ListEvents(ctx context.Context, userID uuid.UUID, filter HistoryFilter, limit, offset int) ([]*Event, int64, error) {
	where := `WHERE user_id = $1`
	args := []any{userID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where += fmt.Sprintf(" AND validation_status = $%d", len(args))
	}
	if filter.EventType != nil {
		args = append(args, *filter.EventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM point_events `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM point_events %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)-1, len(args))
	events, err := r.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListPendingReview returns the admin review queue, oldest first
func (r *Repository) ListPendingReview(ctx context.Context, limit, offset int) ([]*Event, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM point_events WHERE validation_status = 'pending_review'`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count review queue: %w", err)
	}

	events, err := r.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM point_events
		WHERE validation_status = 'pending_review'
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// UserProfile reads account age, device history and fraud history for scoring
func (r *Repository) UserProfile(ctx context.Context, userID uuid.UUID, deviceID string) (*Profile, error) {
	p := &Profile{}
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT created_at FROM users WHERE id = $1),
			EXISTS (
				SELECT 1 FROM point_events
				WHERE user_id = $1 AND device_id = $2 AND validation_status = 'validated'
			),
			EXISTS (
				SELECT 1 FROM fraud_insights
				WHERE user_id = $1 AND resolution = 'confirmed_fraud'
			)`, userID, deviceID,
	).Scan(&p.AccountCreatedAt, &p.KnownDevice, &p.ConfirmedFraud)
	if err != nil {
		return nil, fmt.Errorf("failed to load user profile: %w", err)
	}
	return p, nil
}

// AuditBatch returns up to limit users ordered by ID after the given cursor,
// each with its cached and recomputed balance
func (r *Repository) AuditBatch(ctx context.Context, after uuid.UUID, limit int) ([]AuditRow, error) {
	rows, err := r.db.Query(ctx, `
		WITH ids AS (
			SELECT user_id FROM user_points_cache WHERE user_id > $1
			UNION
			SELECT DISTINCT user_id FROM point_events WHERE user_id > $1
		), page AS (
			SELECT user_id FROM ids ORDER BY user_id LIMIT $2
		)
		SELECT p.user_id,
			COALESCE(c.available_points, 0), COALESCE(c.pending_points, 0),
			COALESCE(c.lifetime_earned, 0), COALESCE(c.lifetime_spent, 0),
			t.available, t.pending, t.earned, t.spent
		FROM page p
		LEFT JOIN user_points_cache c ON c.user_id = p.user_id
		CROSS JOIN LATERAL (`+balanceAggregate+` WHERE user_id = p.user_id) t
		ORDER BY p.user_id`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to audit balances: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		if err := rows.Scan(&a.UserID,
			&a.Cached.AvailablePoints, &a.Cached.PendingPoints, &a.Cached.LifetimeEarned, &a.Cached.LifetimeSpent,
			&a.Recomputed.AvailablePoints, &a.Recomputed.PendingPoints, &a.Recomputed.LifetimeEarned, &a.Recomputed.LifetimeSpent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		a.Cached.UserID, a.Recomputed.UserID = a.UserID, a.UserID
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// pgTx implements Tx over a pgx transaction
type pgTx struct {
	db     database.DBTX
	nonces *nonce.Repository
}

// NewTx wraps a transaction (or, for reads only, a pool) as a ledger Tx
func NewTx(db database.DBTX) Tx {
	return &pgTx{db: db, nonces: nonce.NewRepository(db)}
}

// LockBalance ensures the cache row exists and holds it FOR UPDATE until the transaction ends
func (t *pgTx) LockBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	if _, err := t.db.Exec(ctx, `
		INSERT INTO user_points_cache (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID,
	); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	b := &Balance{UserID: userID}
	if err := t.db.QueryRow(ctx, `
		SELECT available_points, pending_points, lifetime_earned, lifetime_spent, updated_at
		FROM user_points_cache WHERE user_id = $1
		FOR UPDATE`, userID,
	).Scan(&b.AvailablePoints, &b.PendingPoints, &b.LifetimeEarned, &b.LifetimeSpent, &b.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return b, nil
}

// RefreshBalance recomputes the cache row from the event log
func (t *pgTx) RefreshBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	b := &Balance{UserID: userID}
	err := t.db.QueryRow(ctx, `
		UPDATE user_points_cache c SET
			available_points = t.available,
			pending_points = t.pending,
			lifetime_earned = t.earned,
			lifetime_spent = t.spent,
			updated_at = NOW()
		FROM (`+balanceAggregate+` WHERE user_id = $1) t
		WHERE c.user_id = $1
		RETURNING c.available_points, c.pending_points, c.lifetime_earned, c.lifetime_spent, c.updated_at`, userID,
	).Scan(&b.AvailablePoints, &b.PendingPoints, &b.LifetimeEarned, &b.LifetimeSpent, &b.UpdatedAt)
	if database.IsCheckViolation(err) {
		return nil, ErrNegativeBalance
	}
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("balance row for %s is not locked", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refresh balance: %w", err)
	}
	return b, nil
}

// InsertEvent appends an event row
func (t *pgTx) InsertEvent(ctx context.Context, e *Event) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO point_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		e.ID, e.UserID, e.EventType, e.EventTime, e.PointsDelta, e.ProofType, e.PayloadHash, e.Nonce,
		e.Status, e.TrustScore, e.RelatedEntityType, e.RelatedEntityID, e.DeviceID,
		nullJSON(e.DeviceInfo), nullJSON(e.Payload), e.ValidatedAt, e.ValidatedBy, e.ValidationNotes, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// FindEventByPayloadHash returns nil when no event carries hash
func (t *pgTx) FindEventByPayloadHash(ctx context.Context, hash string) (*Event, error) {
	event, err := scanEvent(t.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM point_events WHERE payload_hash = $1`, hash))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event by payload hash: %w", err)
	}
	return event, nil
}

// GetEventForUpdate loads an event and locks its row
func (t *pgTx) GetEventForUpdate(ctx context.Context, id uuid.UUID) (*Event, error) {
	event, err := scanEvent(t.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM point_events WHERE id = $1 FOR UPDATE`, id))
	if database.IsNoRows(err) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock event: %w", err)
	}
	return event, nil
}

// UpdateEventValidation moves a held event to its final status. Final rows are never touched.
func (t *pgTx) UpdateEventValidation(ctx context.Context, e *Event) error {
	tag, err := t.db.Exec(ctx, `
		UPDATE point_events SET
			validation_status = $2, validated_at = $3, validated_by = $4, validation_notes = $5
		WHERE id = $1 AND validation_status IN ('pending', 'pending_review')`,
		e.ID, e.Status, e.ValidatedAt, e.ValidatedBy, e.ValidationNotes,
	)
	if err != nil {
		return fmt.Errorf("failed to update event validation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Activity summarizes the user's non-rejected submissions over the trailing day.
// Windows are measured on receipt time, not the client-supplied event time.
func (t *pgTx) Activity(ctx context.Context, userID uuid.UUID, now time.Time) (*Activity, error) {
	hourAgo, dayAgo := now.Add(-time.Hour), now.Add(-24*time.Hour)
	a := &Activity{}
	err := t.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at > $2),
			COUNT(*),
			COALESCE(SUM(points_delta) FILTER (WHERE created_at > $2 AND points_delta > 0), 0),
			COALESCE(SUM(points_delta) FILTER (WHERE points_delta > 0), 0),
			MAX(created_at)
		FROM point_events
		WHERE user_id = $1
			AND created_at > $3
			AND validation_status <> 'rejected'
			AND event_type <> 'redeem_coupon'`, userID, hourAgo, dayAgo,
	).Scan(&a.EventsLastHour, &a.EventsLastDay, &a.PointsLastHour, &a.PointsLastDay, &a.LastEventAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity window: %w", err)
	}
	return a, nil
}

// ReserveNonce records (user, nonce) in the same transaction as the event
func (t *pgTx) ReserveNonce(ctx context.Context, userID uuid.UUID, value string, expiresAt time.Time) (bool, error) {
	return t.nonces.Reserve(ctx, userID, value, expiresAt)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		e          Event
		deviceInfo []byte
		payload    []byte
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.EventType, &e.EventTime, &e.PointsDelta, &e.ProofType, &e.PayloadHash, &e.Nonce,
		&e.Status, &e.TrustScore, &e.RelatedEntityType, &e.RelatedEntityID, &e.DeviceID,
		&deviceInfo, &payload, &e.ValidatedAt, &e.ValidatedBy, &e.ValidationNotes, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(deviceInfo) > 0 {
		e.DeviceInfo = json.RawMessage(deviceInfo)
	}
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
