package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dmscore/internal/model"
	"dmscore/internal/repository"
	"dmscore/internal/repository/mocks"
)

func newDocumentFixture(t *testing.T) (*DocumentService, *mocks.MockDocumentRepository, *mocks.MockVersionRepository) {
	t.Helper()
	docRepo := new(mocks.MockDocumentRepository)
	verRepo := new(mocks.MockVersionRepository)
	return NewDocumentService(docRepo, verRepo), docRepo, verRepo
}

func TestCreateDocument(t *testing.T) {
	svc, docRepo, _ := newDocumentFixture(t)

	var gotDoc *model.Document
	var gotFirst *model.DocumentVersion
	docRepo.On("Create", mock.Anything,
		mock.AnythingOfType("*model.Document"),
		mock.AnythingOfType("*model.DocumentVersion"),
		mock.MatchedBy(func(e *model.AuditLogEntry) bool { return e.Action == model.ActionVersionCreated }),
	).Run(func(args mock.Arguments) {
		gotDoc = args.Get(1).(*model.Document)
		gotFirst = args.Get(2).(*model.DocumentVersion)
	}).Return(nil)

	doc, first, err := svc.Create(context.Background(), CreateDocumentRequest{
		DocumentNumber: "SOP-001",
		Title:          "Cleaning Validation",
		Department:     "QA",
		Actor:          author,
	})
	require.NoError(t, err)
	assert.Equal(t, doc, gotDoc)
	assert.Equal(t, first, gotFirst)
	assert.Equal(t, 1, first.VersionNumber)
	assert.Equal(t, model.StatusDraft, first.Status)
	assert.Equal(t, doc.ID, first.DocumentID)
	assert.Equal(t, author.ID, doc.OwnerID)
}

func TestNewDraft(t *testing.T) {
	svc, docRepo, verRepo := newDocumentFixture(t)
	docRepo.On("FindByID", mock.Anything, "d1").Return(&model.Document{ID: "d1", DocumentNumber: "SOP-001"}, nil)
	verRepo.On("FindActiveEditing", mock.Anything, "d1").Return(nil, sql.ErrNoRows)
	verRepo.On("NextVersionNumber", mock.Anything, "d1").Return(3, nil)
	verRepo.On("FindPublished", mock.Anything, "d1").Return(&model.DocumentVersion{
		ID:          "v2",
		ContentKey:  "versions/v2/abc",
		ContentHash: "abc",
	}, nil)
	verRepo.On("Create", mock.Anything, mock.MatchedBy(func(v *model.DocumentVersion) bool {
		return v.VersionNumber == 3 && v.Status == model.StatusDraft && v.ContentHash == "abc"
	}), mock.AnythingOfType("*model.AuditLogEntry")).Return(nil)

	v, err := svc.NewDraft(context.Background(), "d1", author, model.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 3, v.VersionNumber)
	assert.Equal(t, "abc", v.ContentHash, "new draft starts from the published content")
	verRepo.AssertExpectations(t)
}

func TestNewDraftBlockedByActiveVersion(t *testing.T) {
	svc, docRepo, verRepo := newDocumentFixture(t)
	docRepo.On("FindByID", mock.Anything, "d1").Return(&model.Document{ID: "d1"}, nil)
	verRepo.On("FindActiveEditing", mock.Anything, "d1").Return(&model.DocumentVersion{ID: "v3", Status: model.StatusUnderReview}, nil)

	_, err := svc.NewDraft(context.Background(), "d1", author, model.ClientMeta{})
	assert.ErrorIs(t, err, ErrActiveVersionExists)
	verRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewDraftDocumentMissing(t *testing.T) {
	svc, docRepo, _ := newDocumentFixture(t)
	docRepo.On("FindByID", mock.Anything, "nope").Return(nil, sql.ErrNoRows)

	_, err := svc.NewDraft(context.Background(), "nope", author, model.ClientMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMapsNoRows(t *testing.T) {
	svc, docRepo, verRepo := newDocumentFixture(t)
	docRepo.On("FindByID", mock.Anything, "nope").Return(nil, sql.ErrNoRows)
	verRepo.On("FindByID", mock.Anything, "nope").Return(nil, sql.ErrNoRows)

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetVersion(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListClampsPagination(t *testing.T) {
	svc, docRepo, _ := newDocumentFixture(t)
	docRepo.On("List", mock.Anything, repository.PageQuery{Limit: 20, Offset: 0}).
		Return(&repository.PageResult[model.Document]{Items: []model.Document{}, Total: 0}, nil)

	_, err := svc.List(context.Background(), repository.PageQuery{Limit: 0, Offset: -5})
	require.NoError(t, err)
	docRepo.AssertExpectations(t)
}
