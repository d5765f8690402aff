package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmscore/internal/claim"
	"dmscore/internal/model"
)

func TestSweeperReclaimsExpiredLocks(t *testing.T) {
	store := claim.NewMemStore[string]()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr := claim.NewManager[string](store, time.Minute,
		claim.WithEntryFunc(LockEntryFunc()),
		claim.WithClock[string](func() time.Time { return clock }),
	)

	_, err := mgr.Acquire(context.Background(), "v1", author, 0, model.ClientMeta{})
	require.NoError(t, err)
	_, err = mgr.Acquire(context.Background(), "v2", author2, 0, model.ClientMeta{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	sw := NewSweeper("edit_lock", mgr, time.Second, time.UTC, reg)

	// Nothing expired yet.
	sw.sweep(context.Background())
	assert.Equal(t, 0.0, testutil.ToFloat64(sw.reclaimed))

	clock = clock.Add(2 * time.Minute)
	sw.sweep(context.Background())
	assert.Equal(t, 2.0, testutil.ToFloat64(sw.reclaimed))
	assert.Equal(t, 0.0, testutil.ToFloat64(sw.errors))

	// Displaced holders are recorded as system expirations.
	var expired int
	for _, e := range store.Ledger() {
		if e.Action == model.ActionLockExpired {
			expired++
			assert.Equal(t, "system", e.ActorName)
		}
	}
	assert.Equal(t, 2, expired)

	// A second pass finds nothing left.
	sw.sweep(context.Background())
	assert.Equal(t, 2.0, testutil.ToFloat64(sw.reclaimed))
}
