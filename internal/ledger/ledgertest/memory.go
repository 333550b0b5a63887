// Package ledgertest provides an in-memory ledger store with real per-user
// locking and transactional staging, for service tests that need concurrency
// and rollback behavior without Postgres.
package ledgertest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richxcame/points-ledger/internal/ledger"
)

type nonceKey struct {
	user  uuid.UUID
	nonce string
}

// Memory implements ledger.Store
type Memory struct {
	mu       sync.Mutex
	events   []ledger.Event
	nonces   map[nonceKey]time.Time
	balances map[uuid.UUID]ledger.Balance
	locks    map[uuid.UUID]*sync.Mutex
	profiles map[uuid.UUID]ledger.Profile
	failures map[string]error

	// Now stamps created_at on inserted events
	Now func() time.Time
}

// New returns an empty store
func New() *Memory {
	return &Memory{
		nonces:   make(map[nonceKey]time.Time),
		balances: make(map[uuid.UUID]ledger.Balance),
		locks:    make(map[uuid.UUID]*sync.Mutex),
		profiles: make(map[uuid.UUID]ledger.Profile),
		failures: make(map[string]error),
		Now:      time.Now,
	}
}

// MemTx is a transaction over Memory. Writes are staged and applied on commit;
// balance locks are held until the transaction ends.
type MemTx struct {
	m        *Memory
	held     map[uuid.UUID]*sync.Mutex
	events   []ledger.Event
	updates  map[uuid.UUID]ledger.Event
	nonces   map[nonceKey]time.Time
	balances map[uuid.UUID]ledger.Balance
	onCommit []func()
}

// RunInTx runs fn and commits its staged writes when it returns nil
func (m *Memory) RunInTx(ctx context.Context, fn func(tx *MemTx) error) error {
	tx := &MemTx{
		m:        m,
		held:     make(map[uuid.UUID]*sync.Mutex),
		updates:  make(map[uuid.UUID]ledger.Event),
		nonces:   make(map[nonceKey]time.Time),
		balances: make(map[uuid.UUID]ledger.Balance),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

// WithTx implements ledger.TxRunner
func (m *Memory) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return m.RunInTx(ctx, func(tx *MemTx) error { return fn(tx) })
}

func (m *Memory) commit(tx *MemTx) {
	m.mu.Lock()
	for i := range m.events {
		if e, ok := tx.updates[m.events[i].ID]; ok {
			m.events[i] = e
		}
	}
	m.events = append(m.events, tx.events...)
	for k, v := range tx.nonces {
		m.nonces[k] = v
	}
	for k, v := range tx.balances {
		m.balances[k] = v
	}
	m.mu.Unlock()

	for _, fn := range tx.onCommit {
		fn()
	}
}

func (tx *MemTx) release() {
	for _, l := range tx.held {
		l.Unlock()
	}
	tx.held = nil
}

// OnCommit registers fn to run after the transaction's writes are applied
func (tx *MemTx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// Holds reports whether the transaction holds userID's balance lock
func (tx *MemTx) Holds(userID uuid.UUID) bool {
	_, ok := tx.held[userID]
	return ok
}

func (m *Memory) userLock(userID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// FailNext makes the next call of op fail with err
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *Memory) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

// userEvents returns committed events with tx's staged updates and inserts applied
func (tx *MemTx) userEvents(userID uuid.UUID) []ledger.Event {
	tx.m.mu.Lock()
	var out []ledger.Event
	for _, e := range tx.m.events {
		if e.UserID != userID {
			continue
		}
		if u, ok := tx.updates[e.ID]; ok {
			e = u
		}
		out = append(out, e)
	}
	tx.m.mu.Unlock()

	for _, e := range tx.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (tx *MemTx) findEvent(match func(ledger.Event) bool) (*ledger.Event, int) {
	for i := range tx.events {
		if match(tx.events[i]) {
			e := tx.events[i]
			return &e, i
		}
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for _, e := range tx.m.events {
		if u, ok := tx.updates[e.ID]; ok {
			e = u
		}
		if match(e) {
			return &e, -1
		}
	}
	return nil, -1
}

func (tx *MemTx) LockBalance(ctx context.Context, userID uuid.UUID) (*ledger.Balance, error) {
	if err := tx.m.fail("LockBalance"); err != nil {
		return nil, err
	}
	if _, ok := tx.held[userID]; !ok {
		l := tx.m.userLock(userID)
		l.Lock()
		tx.held[userID] = l
	}

	if b, ok := tx.balances[userID]; ok {
		return &b, nil
	}
	tx.m.mu.Lock()
	b, ok := tx.m.balances[userID]
	tx.m.mu.Unlock()
	if !ok {
		b = ledger.Balance{UserID: userID, UpdatedAt: tx.m.Now()}
		tx.balances[userID] = b
	}
	return &b, nil
}

func (tx *MemTx) RefreshBalance(ctx context.Context, userID uuid.UUID) (*ledger.Balance, error) {
	if err := tx.m.fail("RefreshBalance"); err != nil {
		return nil, err
	}
	if !tx.Holds(userID) {
		return nil, fmt.Errorf("balance row for %s is not locked", userID)
	}
	b := ledger.Project(tx.userEvents(userID))
	if b.AvailablePoints < 0 {
		return nil, ledger.ErrNegativeBalance
	}
	b.UserID = userID
	b.UpdatedAt = tx.m.Now()
	tx.balances[userID] = b
	return &b, nil
}

func (tx *MemTx) InsertEvent(ctx context.Context, event *ledger.Event) error {
	if err := tx.m.fail("InsertEvent"); err != nil {
		return err
	}
	if dup, _ := tx.findEvent(func(e ledger.Event) bool { return e.PayloadHash == event.PayloadHash }); dup != nil {
		return fmt.Errorf("failed to insert event: %w",
			&pgconn.PgError{Code: "23505", ConstraintName: "point_events_payload_hash_key"})
	}
	if dup, _ := tx.findEvent(func(e ledger.Event) bool {
		return e.UserID == event.UserID && e.Nonce == event.Nonce
	}); dup != nil {
		return fmt.Errorf("failed to insert event: %w",
			&pgconn.PgError{Code: "23505", ConstraintName: "point_events_user_nonce_key"})
	}

	e := *event
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.m.Now()
		event.CreatedAt = e.CreatedAt
	}
	tx.events = append(tx.events, e)
	return nil
}

func (tx *MemTx) FindEventByPayloadHash(ctx context.Context, hash string) (*ledger.Event, error) {
	e, _ := tx.findEvent(func(e ledger.Event) bool { return e.PayloadHash == hash })
	return e, nil
}

func (tx *MemTx) GetEventForUpdate(ctx context.Context, id uuid.UUID) (*ledger.Event, error) {
	e, _ := tx.findEvent(func(e ledger.Event) bool { return e.ID == id })
	if e == nil {
		return nil, ledger.ErrEventNotFound
	}
	return e, nil
}

func (tx *MemTx) UpdateEventValidation(ctx context.Context, event *ledger.Event) error {
	if err := tx.m.fail("UpdateEventValidation"); err != nil {
		return err
	}
	current, staged := tx.findEvent(func(e ledger.Event) bool { return e.ID == event.ID })
	if current == nil || current.Status.IsFinal() {
		return ledger.ErrEventNotFound
	}

	current.Status = event.Status
	current.ValidatedAt = event.ValidatedAt
	current.ValidatedBy = event.ValidatedBy
	current.ValidationNotes = event.ValidationNotes
	if staged >= 0 {
		tx.events[staged] = *current
	} else {
		tx.updates[current.ID] = *current
	}
	return nil
}

func (tx *MemTx) Activity(ctx context.Context, userID uuid.UUID, now time.Time) (*ledger.Activity, error) {
	hourAgo, dayAgo := now.Add(-time.Hour), now.Add(-24*time.Hour)
	a := &ledger.Activity{}
	for _, e := range tx.userEvents(userID) {
		if !e.CreatedAt.After(dayAgo) || e.Status == ledger.StatusRejected || e.EventType == ledger.EventTypeRedeemCoupon {
			continue
		}
		inHour := e.CreatedAt.After(hourAgo)
		a.EventsLastDay++
		if inHour {
			a.EventsLastHour++
		}
		if e.PointsDelta > 0 {
			a.PointsLastDay += e.PointsDelta
			if inHour {
				a.PointsLastHour += e.PointsDelta
			}
		}
		if a.LastEventAt == nil || e.CreatedAt.After(*a.LastEventAt) {
			t := e.CreatedAt
			a.LastEventAt = &t
		}
	}
	return a, nil
}

func (tx *MemTx) ReserveNonce(ctx context.Context, userID uuid.UUID, nonce string, expiresAt time.Time) (bool, error) {
	if err := tx.m.fail("ReserveNonce"); err != nil {
		return false, err
	}
	key := nonceKey{user: userID, nonce: nonce}
	if _, ok := tx.nonces[key]; ok {
		return false, nil
	}
	tx.m.mu.Lock()
	_, taken := tx.m.nonces[key]
	tx.m.mu.Unlock()
	if taken {
		return false, nil
	}
	tx.nonces[key] = expiresAt
	return true, nil
}

// Store reads

func (m *Memory) GetBalance(ctx context.Context, userID uuid.UUID) (*ledger.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		b = ledger.Balance{UserID: userID}
	}
	return &b, nil
}

func (m *Memory) GetEvent(ctx context.Context, id uuid.UUID) (*ledger.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, ledger.ErrEventNotFound
}

func (m *Memory) FindEventByPayloadHash(ctx context.Context, hash string) (*ledger.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.PayloadHash == hash {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListEvents(ctx context.Context, userID uuid.UUID, filter ledger.HistoryFilter, limit, offset int) ([]*ledger.Event, int64, error) {
	return m.list(func(e ledger.Event) bool {
		return e.UserID == userID &&
			(filter.Status == nil || e.Status == *filter.Status) &&
			(filter.EventType == nil || e.EventType == *filter.EventType)
	}, true, limit, offset)
}

func (m *Memory) ListPendingReview(ctx context.Context, limit, offset int) ([]*ledger.Event, int64, error) {
	return m.list(func(e ledger.Event) bool { return e.Status == ledger.StatusPendingReview }, false, limit, offset)
}

func (m *Memory) list(match func(ledger.Event) bool, newestFirst bool, limit, offset int) ([]*ledger.Event, int64, error) {
	m.mu.Lock()
	var matched []ledger.Event
	for _, e := range m.events {
		if match(e) {
			matched = append(matched, e)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if newestFirst {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	out := []*ledger.Event{}
	for i := offset; i < len(matched) && len(out) < limit; i++ {
		e := matched[i]
		out = append(out, &e)
	}
	return out, total, nil
}

func (m *Memory) UserProfile(ctx context.Context, userID uuid.UUID, deviceID string) (*ledger.Profile, error) {
	if err := m.fail("UserProfile"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if deviceID != "" {
		for _, e := range m.events {
			if e.UserID == userID && e.Status == ledger.StatusValidated && e.DeviceID != nil && *e.DeviceID == deviceID {
				p.KnownDevice = true
				break
			}
		}
	}
	return &p, nil
}

func (m *Memory) AuditBatch(ctx context.Context, after uuid.UUID, limit int) ([]ledger.AuditRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byUser := make(map[uuid.UUID][]ledger.Event)
	for _, e := range m.events {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}
	ids := make([]uuid.UUID, 0, len(byUser))
	seen := make(map[uuid.UUID]bool)
	for id := range byUser {
		ids, seen[id] = append(ids, id), true
	}
	for id := range m.balances {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	var out []ledger.AuditRow
	for _, id := range ids {
		if bytes.Compare(id[:], after[:]) <= 0 {
			continue
		}
		if len(out) == limit {
			break
		}
		cached := m.balances[id]
		cached.UserID = id
		recomputed := ledger.Project(byUser[id])
		recomputed.UserID = id
		out = append(out, ledger.AuditRow{UserID: id, Cached: cached, Recomputed: recomputed})
	}
	return out, nil
}

// Test helpers

// SetProfile sets the account context UserProfile returns
func (m *Memory) SetProfile(userID uuid.UUID, p ledger.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = p
}

// Seed commits events directly, bypassing locks and the cache
func (m *Memory) Seed(events ...ledger.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.Now()
		}
		if e.PayloadHash == "" {
			e.PayloadHash = e.ID.String()
		}
		if e.Nonce == "" {
			e.Nonce = e.ID.String()
		}
		m.events = append(m.events, e)
	}
}

// SetBalance overwrites a cache row directly
func (m *Memory) SetBalance(b ledger.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.UserID] = b
}

// Events returns a user's committed events in insertion order
func (m *Memory) Events(userID uuid.UUID) []ledger.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Event
	for _, e := range m.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// CachedBalance returns the committed cache row, if any
func (m *Memory) CachedBalance(userID uuid.UUID) (ledger.Balance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	return b, ok
}

// NonceUsed reports whether (user, nonce) has been committed as used
func (m *Memory) NonceUsed(userID uuid.UUID, nonce string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nonces[nonceKey{user: userID, nonce: nonce}]
	return ok
}

var (
	_ ledger.Store = (*Memory)(nil)
	_ ledger.Tx    = (*MemTx)(nil)
)
