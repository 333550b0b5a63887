package coupons

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/pkg/database"
)

const templateColumns = `id, name, description, point_cost, expires_in_days, is_active, metadata, created_at, updated_at`

const couponColumns = `
	id, code_hash, template_id, user_id, event_id, idempotency_key, points_spent,
	status, expires_at, created_at, redeemed_at, revoked_at`

type scanner interface {
	Scan(dest ...any) error
}

// PostgresRepository is the Postgres-backed coupon store
type PostgresRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository creates a new coupon repository
func NewRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, lockTimeout: lockTimeout}
}

// WithTx runs fn in a transaction that shares the ledger's locking and cache refresh
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.RunInTx(ctx, r.db, r.lockTimeout, func(tx pgx.Tx) error {
		return fn(newTx(tx))
	})
}

// ListActiveTemplates returns the templates users can redeem, cheapest first
func (r *PostgresRepository) ListActiveTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+templateColumns+` FROM coupon_templates
		WHERE is_active = TRUE
		ORDER BY point_cost, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []*Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// CreateTemplate inserts a template
func (r *PostgresRepository) CreateTemplate(ctx context.Context, t *Template) error {
	var metadata any
	if len(t.Metadata) > 0 {
		metadata = []byte(t.Metadata)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO coupon_templates (id, name, description, point_cost, expires_in_days, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Description, t.PointCost, t.ExpiresInDays, t.IsActive, metadata, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// SetTemplateActive toggles a template
func (r *PostgresRepository) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE coupon_templates SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// ListUserCoupons returns a user's coupons, newest first
func (r *PostgresRepository) ListUserCoupons(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Coupon, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM coupons WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count coupons: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+couponColumns+` FROM coupons
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []*Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	return coupons, total, rows.Err()
}

// GetCouponByHash looks a coupon up by its code fingerprint
func (r *PostgresRepository) GetCouponByHash(ctx context.Context, codeHash string) (*Coupon, error) {
	c, err := scanCoupon(r.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code_hash = $1`, codeHash))
	if database.IsNoRows(err) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return c, nil
}

// TransitionCoupon moves an issued coupon to status
func (r *PostgresRepository) TransitionCoupon(ctx context.Context, id uuid.UUID, status Status, at time.Time) (*Coupon, error) {
	c, err := scanCoupon(r.db.QueryRow(ctx, `
		UPDATE coupons SET
			status = $2,
			redeemed_at = CASE WHEN $2 = 'redeemed' THEN $3 ELSE redeemed_at END,
			revoked_at = CASE WHEN $2 = 'revoked' THEN $3 ELSE revoked_at END
		WHERE id = $1 AND status = 'issued'
		RETURNING `+couponColumns, id, status, at))
	if database.IsNoRows(err) {
		return nil, r.missingOrFinal(ctx, `SELECT 1 FROM coupons WHERE id = $1`, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update coupon: %w", err)
	}
	return c, nil
}

// RedeemByHash consumes an issued, unexpired coupon
func (r *PostgresRepository) RedeemByHash(ctx context.Context, codeHash string, at time.Time) (*Coupon, error) {
	c, err := scanCoupon(r.db.QueryRow(ctx, `
		UPDATE coupons SET status = 'redeemed', redeemed_at = $2
		WHERE code_hash = $1 AND status = 'issued' AND expires_at > $2
		RETURNING `+couponColumns, codeHash, at))
	if database.IsNoRows(err) {
		return nil, r.missingOrFinal(ctx, `SELECT 1 FROM coupons WHERE code_hash = $1`, codeHash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem coupon: %w", err)
	}
	return c, nil
}

// ExpireCoupons marks every issued coupon past its expiry
func (r *PostgresRepository) ExpireCoupons(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE coupons SET status = 'expired' WHERE status = 'issued' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) missingOrFinal(ctx context.Context, query string, arg any) error {
	var one int
	err := r.db.QueryRow(ctx, query, arg).Scan(&one)
	if database.IsNoRows(err) {
		return ErrCouponNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up coupon: %w", err)
	}
	return ErrCouponNotIssued
}

// pgTx extends the ledger transaction with coupon statements on the same pgx.Tx
type pgTx struct {
	ledger.Tx
	db database.DBTX
}

func newTx(db database.DBTX) *pgTx {
	return &pgTx{Tx: ledger.NewTx(db), db: db}
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*Coupon, error) {
	c, err := scanCoupon(t.db.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up redemption: %w", err)
	}
	return c, nil
}

func (t *pgTx) GetActiveTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	tmpl, err := scanTemplate(t.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM coupon_templates WHERE id = $1 AND is_active = TRUE`, id))
	if database.IsNoRows(err) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

func (t *pgTx) InsertCoupon(ctx context.Context, c *Coupon) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO coupons (id, code_hash, template_id, user_id, event_id, idempotency_key,
			points_spent, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.CodeHash, c.TemplateID, c.UserID, c.EventID, c.IdempotencyKey,
		c.PointsSpent, c.Status, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

func scanTemplate(row scanner) (*Template, error) {
	var (
		t        Template
		metadata []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.PointCost, &t.ExpiresInDays,
		&t.IsActive, &metadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		t.Metadata = json.RawMessage(metadata)
	}
	return &t, nil
}

func scanCoupon(row scanner) (*Coupon, error) {
	var c Coupon
	if err := row.Scan(&c.ID, &c.CodeHash, &c.TemplateID, &c.UserID, &c.EventID, &c.IdempotencyKey,
		&c.PointsSpent, &c.Status, &c.ExpiresAt, &c.CreatedAt, &c.RedeemedAt, &c.RevokedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
