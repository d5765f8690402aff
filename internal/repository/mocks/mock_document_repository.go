package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, doc *model.Document, first *model.DocumentVersion, entry *model.AuditLogEntry) error {
	args := m.Called(ctx, doc, first, entry)
	return args.Error(0)
}

func (m *MockDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if d, ok := args.Get(0).(*model.Document); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	args := m.Called(ctx, pq)
	if r, ok := args.Get(0).(*repository.PageResult[model.Document]); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
