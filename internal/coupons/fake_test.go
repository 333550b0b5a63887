package coupons

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richxcame/points-ledger/internal/ledger/ledgertest"
)

// fakeRepo layers coupon tables over the in-memory ledger so redemptions share
// its per-user locks and commit/rollback staging
type fakeRepo struct {
	mem *ledgertest.Memory

	mu        sync.Mutex
	templates map[uuid.UUID]*Template
	coupons   []Coupon
	failNext  map[string]error
}

func newFakeRepo(mem *ledgertest.Memory) *fakeRepo {
	return &fakeRepo{
		mem:       mem,
		templates: make(map[uuid.UUID]*Template),
		failNext:  make(map[string]error),
	}
}

func (r *fakeRepo) fail(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.failNext[op]
	delete(r.failNext, op)
	return err
}

func (r *fakeRepo) addTemplate(cost int, active bool) *Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Template{ID: uuid.New(), Name: fmt.Sprintf("reward %d", cost), PointCost: cost, IsActive: active}
	r.templates[t.ID] = t
	return t
}

func (r *fakeRepo) allCoupons() []Coupon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Coupon(nil), r.coupons...)
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.mem.RunInTx(ctx, func(mtx *ledgertest.MemTx) error {
		tx := &fakeTx{MemTx: mtx, repo: r}
		if err := fn(tx); err != nil {
			return err
		}
		mtx.OnCommit(func() {
			r.mu.Lock()
			r.coupons = append(r.coupons, tx.staged...)
			r.mu.Unlock()
		})
		return nil
	})
}

func (r *fakeRepo) ListActiveTemplates(ctx context.Context) ([]*Template, error) {
	if err := r.fail("ListActiveTemplates"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*Template{}
	for _, t := range r.templates {
		if t.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PointCost < out[j].PointCost })
	return out, nil
}

func (r *fakeRepo) CreateTemplate(ctx context.Context, t *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.templates[t.ID] = &cp
	return nil
}

func (r *fakeRepo) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return ErrTemplateNotFound
	}
	t.IsActive = active
	return nil
}

func (r *fakeRepo) ListUserCoupons(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Coupon, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*Coupon
	for i := len(r.coupons) - 1; i >= 0; i-- {
		if r.coupons[i].UserID == userID {
			c := r.coupons[i]
			matched = append(matched, &c)
		}
	}
	out := []*Coupon{}
	for i := offset; i < len(matched) && len(out) < limit; i++ {
		out = append(out, matched[i])
	}
	return out, int64(len(matched)), nil
}

func (r *fakeRepo) GetCouponByHash(ctx context.Context, codeHash string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.coupons {
		if r.coupons[i].CodeHash == codeHash {
			c := r.coupons[i]
			return &c, nil
		}
	}
	return nil, ErrCouponNotFound
}

func (r *fakeRepo) update(match func(*Coupon) bool, apply func(*Coupon) bool) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.coupons {
		c := &r.coupons[i]
		if !match(c) {
			continue
		}
		if !apply(c) {
			return nil, ErrCouponNotIssued
		}
		cp := *c
		return &cp, nil
	}
	return nil, ErrCouponNotFound
}

func (r *fakeRepo) TransitionCoupon(ctx context.Context, id uuid.UUID, status Status, at time.Time) (*Coupon, error) {
	return r.update(func(c *Coupon) bool { return c.ID == id }, func(c *Coupon) bool {
		if c.Status != StatusIssued {
			return false
		}
		c.Status = status
		switch status {
		case StatusRedeemed:
			c.RedeemedAt = &at
		case StatusRevoked:
			c.RevokedAt = &at
		}
		return true
	})
}

func (r *fakeRepo) RedeemByHash(ctx context.Context, codeHash string, at time.Time) (*Coupon, error) {
	return r.update(func(c *Coupon) bool { return c.CodeHash == codeHash }, func(c *Coupon) bool {
		if c.Status != StatusIssued || !c.ExpiresAt.After(at) {
			return false
		}
		c.Status = StatusRedeemed
		c.RedeemedAt = &at
		return true
	})
}

func (r *fakeRepo) ExpireCoupons(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.coupons {
		if r.coupons[i].Status == StatusIssued && !r.coupons[i].ExpiresAt.After(now) {
			r.coupons[i].Status = StatusExpired
			n++
		}
	}
	return n, nil
}

type fakeTx struct {
	*ledgertest.MemTx
	repo   *fakeRepo
	staged []Coupon
}

func (t *fakeTx) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*Coupon, error) {
	match := func(c Coupon) bool { return c.UserID == userID && c.IdempotencyKey == key }
	for _, c := range t.staged {
		if match(c) {
			return &c, nil
		}
	}
	for _, c := range t.repo.allCoupons() {
		if match(c) {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) GetActiveTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	tmpl, ok := t.repo.templates[id]
	if !ok || !tmpl.IsActive {
		return nil, ErrTemplateNotFound
	}
	cp := *tmpl
	return &cp, nil
}

func (t *fakeTx) InsertCoupon(ctx context.Context, c *Coupon) error {
	if err := t.repo.fail("InsertCoupon"); err != nil {
		return err
	}
	for _, existing := range append(t.repo.allCoupons(), t.staged...) {
		if existing.CodeHash == c.CodeHash {
			return fmt.Errorf("failed to insert coupon: %w",
				&pgconn.PgError{Code: "23505", ConstraintName: "coupons_code_hash_key"})
		}
		if existing.UserID == c.UserID && existing.IdempotencyKey == c.IdempotencyKey {
			return fmt.Errorf("failed to insert coupon: %w",
				&pgconn.PgError{Code: "23505", ConstraintName: "coupons_user_idempotency_key"})
		}
	}
	t.staged = append(t.staged, *c)
	return nil
}
