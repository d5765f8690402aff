package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

type MockAuditLogRepository struct {
	mock.Mock
}

func (m *MockAuditLogRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditLogRepository) Query(ctx context.Context, f repository.AuditFilter, pq repository.PageQuery) (*repository.PageResult[model.AuditLogEntry], error) {
	args := m.Called(ctx, f, pq)
	if r, ok := args.Get(0).(*repository.PageResult[model.AuditLogEntry]); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditLogRepository) Actions(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if a, ok := args.Get(0).([]string); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}
