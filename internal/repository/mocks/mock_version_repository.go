package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

type MockVersionRepository struct {
	mock.Mock
}

func (m *MockVersionRepository) FindByID(ctx context.Context, id string) (*model.DocumentVersion, error) {
	args := m.Called(ctx, id)
	if v, ok := args.Get(0).(*model.DocumentVersion); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockVersionRepository) ListByDocument(ctx context.Context, documentID string, pq repository.PageQuery) (*repository.PageResult[model.DocumentVersion], error) {
	args := m.Called(ctx, documentID, pq)
	if r, ok := args.Get(0).(*repository.PageResult[model.DocumentVersion]); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockVersionRepository) FindActiveEditing(ctx context.Context, documentID string) (*model.DocumentVersion, error) {
	args := m.Called(ctx, documentID)
	if v, ok := args.Get(0).(*model.DocumentVersion); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockVersionRepository) FindPublished(ctx context.Context, documentID string) (*model.DocumentVersion, error) {
	args := m.Called(ctx, documentID)
	if v, ok := args.Get(0).(*model.DocumentVersion); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockVersionRepository) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	args := m.Called(ctx, documentID)
	return args.Int(0), args.Error(1)
}

func (m *MockVersionRepository) Create(ctx context.Context, v *model.DocumentVersion, entry *model.AuditLogEntry) error {
	args := m.Called(ctx, v, entry)
	return args.Error(0)
}

func (m *MockVersionRepository) ApplyTransition(ctx context.Context, upd repository.TransitionUpdate, entry *model.AuditLogEntry) error {
	args := m.Called(ctx, upd, entry)
	return args.Error(0)
}

func (m *MockVersionRepository) Publish(ctx context.Context, upd repository.PublishUpdate, entry, archiveEntry *model.AuditLogEntry) error {
	args := m.Called(ctx, upd, entry, archiveEntry)
	return args.Error(0)
}

func (m *MockVersionRepository) UpdateContent(ctx context.Context, upd repository.ContentUpdate, entry *model.AuditLogEntry) error {
	args := m.Called(ctx, upd, entry)
	return args.Error(0)
}
