package claim

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmscore/internal/model"
)

var (
	alice = model.Actor{ID: "u1", Username: "alice"}
	bob   = model.Actor{ID: "u2", Username: "bob"}
	admin = model.Actor{ID: "u9", Username: "root", Roles: []string{model.RoleAdmin}}
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testEntryFunc() EntryFunc[string] {
	return func(rec *Record[string], event EventKind, actor model.Actor, reason string) *model.AuditLogEntry {
		return &model.AuditLogEntry{
			ActorName:  actor.Username,
			Action:     string(event),
			EntityType: model.EntityEditLock,
			EntityID:   rec.Key,
		}
	}
}

func newTestManager(t *testing.T, ttl time.Duration) (*Manager[string], *MemStore[string], *fakeClock) {
	t.Helper()
	store := NewMemStore[string]()
	clock := newFakeClock()
	m := NewManager[string](store, ttl,
		WithClock[string](clock.Now),
		WithEntryFunc(testEntryFunc()),
	)
	return m, store, clock
}

func TestAcquireGrantsToken(t *testing.T) {
	m, store, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	rec, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Token)
	assert.Equal(t, "u1", rec.HolderID)
	assert.Equal(t, clock.Now().Add(time.Minute), rec.ExpiresAt)

	ledger := store.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, string(EventAcquired), ledger[0].Action)
	// Entries are stamped with the manager's clock, not the wall clock.
	assert.Equal(t, clock.Now(), ledger[0].Timestamp)
}

func TestAcquireConflictReportsHolder(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "v1", bob, 0, model.ClientMeta{})
	var held *HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "u1", held.HolderID)
	assert.Equal(t, "alice", held.HolderName)
	assert.Equal(t, first.ExpiresAt, held.ExpiresAt)
}

func TestAcquireBySameHolderRenewsKeepingToken(t *testing.T) {
	m, store, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	second, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, clock.Now().Add(time.Minute), second.ExpiresAt)
	// Renewal is not a new acquisition: no extra ledger entry.
	assert.Len(t, store.Ledger(), 1)
}

func TestAcquireReclaimsExpiredClaim(t *testing.T) {
	m, store, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	second, err := m.Acquire(ctx, "v1", bob, 0, model.ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, "u2", second.HolderID)

	old, err := store.FindByToken(ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, old.ReleaseReason)
	require.NotNil(t, old.ReleasedAt)

	actions := ledgerActions(store)
	assert.Equal(t, []string{string(EventAcquired), string(EventExpired), string(EventAcquired)}, actions)
}

func TestHeartbeatExtendsDeadline(t *testing.T) {
	m, _, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	rec, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	clock.Advance(40 * time.Second)
	renewed, err := m.Heartbeat(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), renewed.ExpiresAt)
	assert.Equal(t, clock.Now(), renewed.LastHeartbeat)
}

func TestHeartbeatNeverShortensDeadline(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	rec, err := m.Acquire(ctx, "v1", alice, 5*time.Minute, model.ClientMeta{})
	require.NoError(t, err)

	// A heartbeat at default TTL would land before the current expiry.
	renewed, err := m.Heartbeat(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, rec.ExpiresAt, renewed.ExpiresAt)
}

func TestHeartbeatAfterExpiry(t *testing.T) {
	m, _, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	rec, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.Heartbeat(ctx, rec.Token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestHeartbeatUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	_, err := m.Heartbeat(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, store, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	rec, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, rec.Token, alice))
	require.NoError(t, m.Release(ctx, rec.Token, alice))
	require.NoError(t, m.Release(ctx, "unknown-token", alice))

	actions := ledgerActions(store)
	assert.Equal(t, []string{string(EventAcquired), string(EventReleased)}, actions)
}

func TestReleaseByNonOwnerFails(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	rec, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	err = m.Release(ctx, rec.Token, bob)
	assert.ErrorIs(t, err, ErrNotOwner)

	// Still held by alice.
	_, ok, err := m.Inspect(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForceRelease(t *testing.T) {
	m, store, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	rec, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	displaced, err := m.ForceRelease(ctx, "v1", admin, "stuck editor")
	require.NoError(t, err)
	assert.True(t, displaced)

	// Token is dead afterwards.
	state, _, err := m.Status(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenRevoked, state)

	// Idempotent on an already-released key.
	displaced, err = m.ForceRelease(ctx, "v1", admin, "again")
	require.NoError(t, err)
	assert.False(t, displaced)

	actions := ledgerActions(store)
	assert.Equal(t, []string{string(EventAcquired), string(EventForced)}, actions)
}

func TestSupersedeDisplacesLiveClaim(t *testing.T) {
	m, store, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	old, err := m.Acquire(ctx, "u1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	fresh, err := m.Supersede(ctx, "u1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, old.Token, fresh.Token)

	state, _, err := m.Status(ctx, old.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenSuperseded, state)

	state, _, err = m.Status(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenLive, state)

	actions := ledgerActions(store)
	assert.Equal(t, []string{string(EventAcquired), string(EventSuperseded), string(EventAcquired)}, actions)
}

func TestStatusStates(t *testing.T) {
	m, _, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	state, _, err := m.Status(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, TokenUnknown, state)

	rec, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	state, _, err = m.Status(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenLive, state)

	clock.Advance(2 * time.Minute)
	state, _, err = m.Status(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenExpired, state)
}

func TestInspectIgnoresExpired(t *testing.T) {
	m, _, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)

	_, ok, err := m.Inspect(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok, err = m.Inspect(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepExpired(t *testing.T) {
	m, store, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	expired, err := m.Acquire(ctx, "v1", alice, 0, model.ClientMeta{})
	require.NoError(t, err)
	live, err := m.Acquire(ctx, "v2", bob, 10*time.Minute, model.ClientMeta{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := store.FindByToken(ctx, expired.Token)
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, old.ReleaseReason)

	state, _, err := m.Status(ctx, live.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenLive, state)

	// Second sweep finds nothing new.
	n, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	m, _, clock := newTestManager(t, time.Minute)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := m.Acquire(ctx, key, alice, 0, model.ClientMeta{})
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := m.SweepExpired(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

// Many goroutines race to acquire the same key; exactly one may win.
func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	const goroutines = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := model.Actor{ID: string(rune('A' + i)), Username: "racer"}
			if _, err := m.Acquire(ctx, "v1", actor, 0, model.ClientMeta{}); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestNewTokenIsUniqueAndOpaque(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(tok), 40)
		_, dup := seen[tok]
		assert.False(t, dup)
		seen[tok] = struct{}{}
	}
}

func ledgerActions(store *MemStore[string]) []string {
	entries := store.Ledger()
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}
