// Package claim implements a generic exclusive-claim primitive: at most one
// live holder per key, identified by an opaque capability token, bounded by
// a server-side expiry deadline. The edit-lock manager (key = version id)
// and the session guard (key = user id) are both built on it.
package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dmscore/internal/model"
)

// Release reason codes stored on reclaimed or surrendered claims.
const (
	ReasonReleased   = "released"
	ReasonExpired    = "expired"
	ReasonForced     = "forced"
	ReasonSuperseded = "superseded"
)

// EventKind classifies claim lifecycle events for audit entry builders.
type EventKind string

const (
	EventAcquired   EventKind = "acquired"
	EventReleased   EventKind = "released"
	EventExpired    EventKind = "expired"
	EventForced     EventKind = "forced"
	EventSuperseded EventKind = "superseded"
)

// Record is one claim instance. A record is live iff it has not been
// released and the current time is before ExpiresAt.
type Record[K comparable] struct {
	Key        K
	HolderID   string
	HolderName string
	Token      string

	AcquiredAt    time.Time
	ExpiresAt     time.Time
	LastHeartbeat time.Time

	ReleasedAt    *time.Time
	ReleaseReason string

	Meta model.ClientMeta
}

// Live reports whether the record grants exclusive access at the given time.
func (r *Record[K]) Live(now time.Time) bool {
	return r.ReleasedAt == nil && now.Before(r.ExpiresAt)
}

var (
	// ErrNotFound is returned when no claim matches the token or key.
	ErrNotFound = errors.New("claim not found")
	// ErrExpired is returned when the claim's deadline has already passed.
	// The caller must re-acquire; an expired claim is never auto-renewed.
	ErrExpired = errors.New("claim expired")
	// ErrNotOwner is returned when the caller does not hold the claim.
	ErrNotOwner = errors.New("not the claim holder")
)

// HeldError reports a conflicting live claim by a different holder.
type HeldError struct {
	HolderID   string
	HolderName string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("held by %s until %s", e.HolderName, e.ExpiresAt.Format(time.RFC3339))
}

// Store persists claim records. Mutating methods receive an optional audit
// entry that must commit in the same transaction as the mutation, or not at
// all: audit completeness is a correctness invariant, not best-effort
// logging.
type Store[K comparable] interface {
	// Get returns the most recent claim record for key, released or not.
	Get(ctx context.Context, key K) (*Record[K], error)

	// FindByToken returns the claim carrying the token, released or not.
	FindByToken(ctx context.Context, token string) (*Record[K], error)

	// Create inserts a fresh claim record.
	Create(ctx context.Context, rec *Record[K], entry *model.AuditLogEntry) error

	// Extend moves the deadline and heartbeat of a live claim forward.
	Extend(ctx context.Context, token string, expiresAt, heartbeat time.Time) error

	// Release marks the claim released with the given reason.
	Release(ctx context.Context, token string, at time.Time, reason string, entry *model.AuditLogEntry) error

	// ListExpired returns keys of claims past their deadline with no
	// release recorded.
	ListExpired(ctx context.Context, now time.Time) ([]K, error)
}

// EntryFunc builds the audit entry for a claim event. Returning nil skips
// the entry (heartbeats are not audited). actor is the party causing the
// event; for sweeper reclamation it is the zero Actor.
type EntryFunc[K comparable] func(rec *Record[K], event EventKind, actor model.Actor, reason string) *model.AuditLogEntry

// Manager serializes all claim operations per key through an in-process
// keyed mutex, so two concurrent acquires on the same key can never both
// succeed and the sweeper can never reclaim between a heartbeat's read and
// its commit.
type Manager[K comparable] struct {
	store Store[K]
	ttl   time.Duration
	now   func() time.Time
	entry EntryFunc[K]
	mu    *KeyedMutex[K]
}

// Option configures a Manager.
type Option[K comparable] func(*Manager[K])

// WithClock overrides the time source, used by tests.
func WithClock[K comparable](now func() time.Time) Option[K] {
	return func(m *Manager[K]) { m.now = now }
}

// WithEntryFunc installs the audit entry builder.
func WithEntryFunc[K comparable](fn EntryFunc[K]) Option[K] {
	return func(m *Manager[K]) { m.entry = fn }
}

// NewManager creates a claim manager with the given default TTL.
func NewManager[K comparable](store Store[K], ttl time.Duration, opts ...Option[K]) *Manager[K] {
	m := &Manager[K]{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		mu:    NewKeyedMutex[K](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager[K]) buildEntry(rec *Record[K], event EventKind, actor model.Actor, reason string) *model.AuditLogEntry {
	if m.entry == nil {
		return nil
	}
	e := m.entry(rec, event, actor, reason)
	if e != nil {
		e.Timestamp = m.now().UTC()
	}
	return e
}

// Acquire grants an exclusive claim on key to the actor. A live claim by a
// different holder fails with *HeldError. Re-acquiring by the current
// holder is an idempotent renewal: the existing token is kept and its
// deadline extended. An expired, unreleased claim is reclaimed in place
// before the new claim is created. ttl <= 0 uses the manager default.
func (m *Manager[K]) Acquire(ctx context.Context, key K, actor model.Actor, ttl time.Duration, meta model.ClientMeta) (*Record[K], error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	unlock := m.mu.Lock(key)
	defer unlock()

	now := m.now()

	prev, err := m.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if prev != nil && prev.Live(now) {
		if prev.HolderID != actor.ID {
			return nil, &HeldError{
				HolderID:   prev.HolderID,
				HolderName: prev.HolderName,
				AcquiredAt: prev.AcquiredAt,
				ExpiresAt:  prev.ExpiresAt,
			}
		}
		// Same holder: renew in place, keep the token lineage.
		return m.extendLocked(ctx, prev, now, ttl)
	}
	if prev != nil && prev.ReleasedAt == nil {
		// Past deadline but never released: reclaim before replacing.
		entry := m.buildEntry(prev, EventExpired, model.Actor{}, ReasonExpired)
		if err := m.store.Release(ctx, prev.Token, now, ReasonExpired, entry); err != nil {
			return nil, err
		}
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	rec := &Record[K]{
		Key:           key,
		HolderID:      actor.ID,
		HolderName:    actor.Username,
		Token:         token,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(ttl),
		LastHeartbeat: now,
		Meta:          meta,
	}
	entry := m.buildEntry(rec, EventAcquired, actor, "")
	if err := m.store.Create(ctx, rec, entry); err != nil {
		return nil, err
	}
	return rec, nil
}

// Heartbeat extends a live claim's deadline from "now" by the manager TTL.
// An unknown or released token fails with ErrNotFound; a claim past its
// deadline fails with ErrExpired so true abandonment is never masked.
func (m *Manager[K]) Heartbeat(ctx context.Context, token string) (*Record[K], error) {
	rec, err := m.store.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.ReleasedAt != nil {
		return nil, ErrNotFound
	}

	unlock := m.mu.Lock(rec.Key)
	defer unlock()

	// Re-read under the key mutex: the sweeper or a release may have won.
	rec, err = m.store.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.ReleasedAt != nil {
		return nil, ErrNotFound
	}
	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		return nil, ErrExpired
	}
	return m.extendLocked(ctx, rec, now, m.ttl)
}

// extendLocked moves the deadline forward. A deadline is never shortened:
// a stale heartbeat that would land before the current expiry is a no-op.
func (m *Manager[K]) extendLocked(ctx context.Context, rec *Record[K], now time.Time, ttl time.Duration) (*Record[K], error) {
	expires := now.Add(ttl)
	if expires.Before(rec.ExpiresAt) {
		expires = rec.ExpiresAt
	}
	if err := m.store.Extend(ctx, rec.Token, expires, now); err != nil {
		return nil, err
	}
	out := *rec
	out.ExpiresAt = expires
	out.LastHeartbeat = now
	return &out, nil
}

// Release surrenders the claim identified by token. Releasing an unknown or
// already-released token is a no-op success, so clients can clean up
// best-effort on navigation-away. A caller that does not hold the token
// fails with ErrNotOwner.
func (m *Manager[K]) Release(ctx context.Context, token string, actor model.Actor) error {
	rec, err := m.store.FindByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.HolderID != actor.ID {
		return ErrNotOwner
	}

	unlock := m.mu.Lock(rec.Key)
	defer unlock()

	rec, err = m.store.FindByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.ReleasedAt != nil {
		return nil
	}
	entry := m.buildEntry(rec, EventReleased, actor, ReasonReleased)
	return m.store.Release(ctx, token, m.now(), ReasonReleased, entry)
}

// ForceRelease is the administrative override: it revokes any live claim on
// key regardless of holder and always logs the displaced holder. It reports
// whether a live claim was actually displaced.
func (m *Manager[K]) ForceRelease(ctx context.Context, key K, actor model.Actor, reason string) (bool, error) {
	unlock := m.mu.Lock(key)
	defer unlock()

	rec, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.Live(m.now()) {
		return false, nil
	}
	entry := m.buildEntry(rec, EventForced, actor, reason)
	if err := m.store.Release(ctx, rec.Token, m.now(), ReasonForced, entry); err != nil {
		return false, err
	}
	return true, nil
}

// Supersede revokes any live claim on key (reason "superseded") and creates
// a fresh claim for the actor in its place. Used for force-login takeover.
func (m *Manager[K]) Supersede(ctx context.Context, key K, actor model.Actor, ttl time.Duration, meta model.ClientMeta) (*Record[K], error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	unlock := m.mu.Lock(key)
	defer unlock()

	now := m.now()

	prev, err := m.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if prev != nil && prev.ReleasedAt == nil {
		reason := ReasonSuperseded
		event := EventSuperseded
		if !prev.Live(now) {
			reason = ReasonExpired
			event = EventExpired
		}
		entry := m.buildEntry(prev, event, actor, reason)
		if err := m.store.Release(ctx, prev.Token, now, reason, entry); err != nil {
			return nil, err
		}
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	rec := &Record[K]{
		Key:           key,
		HolderID:      actor.ID,
		HolderName:    actor.Username,
		Token:         token,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(ttl),
		LastHeartbeat: now,
		Meta:          meta,
	}
	entry := m.buildEntry(rec, EventAcquired, actor, "")
	if err := m.store.Create(ctx, rec, entry); err != nil {
		return nil, err
	}
	return rec, nil
}

// Inspect returns the live claim on key, if any. It never mutates state and
// never extends expiry.
func (m *Manager[K]) Inspect(ctx context.Context, key K) (*Record[K], bool, error) {
	rec, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !rec.Live(m.now()) {
		return nil, false, nil
	}
	return rec, true, nil
}

// TokenState classifies a token for validation-style reads.
type TokenState string

const (
	TokenLive       TokenState = "live"
	TokenExpired    TokenState = "expired"
	TokenSuperseded TokenState = "superseded"
	TokenRevoked    TokenState = "revoked"
	TokenUnknown    TokenState = "unknown"
)

// Status reports the state of the claim carrying token without mutating it.
func (m *Manager[K]) Status(ctx context.Context, token string) (TokenState, *Record[K], error) {
	rec, err := m.store.FindByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return TokenUnknown, nil, nil
	}
	if err != nil {
		return TokenUnknown, nil, err
	}
	switch {
	case rec.ReleasedAt == nil && m.now().Before(rec.ExpiresAt):
		return TokenLive, rec, nil
	case rec.ReleasedAt == nil:
		return TokenExpired, rec, nil
	case rec.ReleaseReason == ReasonSuperseded:
		return TokenSuperseded, rec, nil
	case rec.ReleaseReason == ReasonExpired:
		return TokenExpired, rec, nil
	default:
		return TokenRevoked, rec, nil
	}
}

// SweepExpired reclaims claims past their deadline with no release
// recorded. Each reclamation re-checks liveness under the key mutex so a
// concurrent heartbeat or release on the same record cannot be clobbered.
// The scan stops cleanly when ctx is cancelled.
func (m *Manager[K]) SweepExpired(ctx context.Context) (int, error) {
	keys, err := m.store.ListExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}
		n, err := m.sweepOne(ctx, key)
		if err != nil {
			return reclaimed, err
		}
		reclaimed += n
	}
	return reclaimed, nil
}

func (m *Manager[K]) sweepOne(ctx context.Context, key K) (int, error) {
	unlock := m.mu.Lock(key)
	defer unlock()

	rec, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	now := m.now()
	if rec.ReleasedAt != nil || rec.Live(now) {
		// Heartbeated or released since the scan listed it.
		return 0, nil
	}
	entry := m.buildEntry(rec, EventExpired, model.Actor{}, ReasonExpired)
	if err := m.store.Release(ctx, rec.Token, now, ReasonExpired, entry); err != nil {
		return 0, err
	}
	return 1, nil
}
