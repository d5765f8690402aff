package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dmscore/internal/claim"
	"dmscore/internal/model"
	"dmscore/internal/repository"
	"dmscore/internal/repository/mocks"
)

var errConnReset = errors.New("read tcp: connection reset by peer")

// flakyStore wraps a MemStore and fails the next `failures` reads with a
// transient error. Writes always go through.
type flakyStore struct {
	*claim.MemStore[string]
	failures int
}

func (s *flakyStore) Get(ctx context.Context, key string) (*claim.Record[string], error) {
	if s.failures > 0 {
		s.failures--
		return nil, errConnReset
	}
	return s.MemStore.Get(ctx, key)
}

func (s *flakyStore) FindByToken(ctx context.Context, token string) (*claim.Record[string], error) {
	if s.failures > 0 {
		s.failures--
		return nil, errConnReset
	}
	return s.MemStore.FindByToken(ctx, token)
}

func TestLockInspectRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemStore: claim.NewMemStore[string]()}
	mgr := claim.NewManager[string](store, time.Minute, claim.WithEntryFunc(LockEntryFunc()))
	verRepo := new(mocks.MockVersionRepository)
	verRepo.On("FindByID", mock.Anything, "v1").Return(draftVersion("v1"), nil)
	svc := NewLockService(mgr, verRepo)

	_, err := svc.Acquire(context.Background(), "v1", author, model.ClientMeta{})
	require.NoError(t, err)

	store.failures = 2
	info, ok, err := svc.Inspect(context.Background(), "v1", author)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, author.ID, info.HolderID)
	assert.Zero(t, store.failures, "both transient failures consumed")
}

func TestLockInspectGivesUpAfterBoundedTries(t *testing.T) {
	store := &flakyStore{MemStore: claim.NewMemStore[string](), failures: 10}
	mgr := claim.NewManager[string](store, time.Minute)
	svc := NewLockService(mgr, new(mocks.MockVersionRepository))

	_, _, err := svc.Inspect(context.Background(), "v1", author)
	require.ErrorIs(t, err, errConnReset)
	assert.Equal(t, 10-readRetryTries, store.failures, "attempts are bounded")
}

func TestSessionValidateRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemStore: claim.NewMemStore[string]()}
	mgr := claim.NewManager[string](store, time.Hour, claim.WithEntryFunc(SessionEntryFunc()))
	svc := NewSessionService(mgr, stubCreds{actor: author, password: "hunter2"}, new(mocks.MockAuditLogRepository))

	sess, err := svc.Login(context.Background(), "alice", "hunter2", false, model.ClientMeta{})
	require.NoError(t, err)

	store.failures = 2
	state, _, err := svc.Validate(context.Background(), sess.Token)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, state)
	assert.Zero(t, store.failures)
}

func TestAuditQueryRetriesTransientFailures(t *testing.T) {
	auditRepo := new(mocks.MockAuditLogRepository)
	svc := NewAuditService(auditRepo)
	page := &repository.PageResult[model.AuditLogEntry]{Total: 1, Items: []model.AuditLogEntry{{Action: model.ActionUserLogin}}}

	auditRepo.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errConnReset).Twice()
	auditRepo.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(page, nil).Once()

	res, err := svc.Query(context.Background(), repository.AuditFilter{}, repository.PageQuery{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	auditRepo.AssertExpectations(t)
}

func TestAuditQueryDoesNotRetryForever(t *testing.T) {
	auditRepo := new(mocks.MockAuditLogRepository)
	svc := NewAuditService(auditRepo)

	auditRepo.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errConnReset).Times(readRetryTries)

	_, err := svc.Query(context.Background(), repository.AuditFilter{}, repository.PageQuery{Limit: 20})
	require.ErrorIs(t, err, errConnReset)
	auditRepo.AssertExpectations(t)
}

func TestRetryReadSurfacesDomainOutcomesImmediately(t *testing.T) {
	calls := 0
	_, err := retryRead(context.Background(), func() (struct{}, error) {
		calls++
		return struct{}{}, claim.ErrNotFound
	})
	assert.ErrorIs(t, err, claim.ErrNotFound)
	assert.Equal(t, 1, calls, "not-found is a definitive answer, not a transient failure")
}
