package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func documentRows(docs ...*model.Document) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "document_number", "title", "department", "owner_id", "current_version_id", "status", "created_at", "updated_at"})
	for _, d := range docs {
		var current any
		if d.CurrentVersionID != nil {
			current = *d.CurrentVersionID
		}
		rows.AddRow(d.ID, d.DocumentNumber, d.Title, d.Department, d.OwnerID, current, d.Status, d.CreatedAt, d.UpdatedAt)
	}
	return rows
}

func TestDocumentCreateCommitsVersionAndAuditTogether(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentPostgres(db)

	now := time.Now().UTC()
	doc := &model.Document{ID: "d1", DocumentNumber: "SOP-001", Title: "Cleaning", OwnerID: "u1", Status: "DRAFT", CreatedAt: now, UpdatedAt: now}
	first := &model.DocumentVersion{ID: "v1", DocumentID: "d1", VersionNumber: 1, Status: model.StatusDraft, AuthorID: "u1", CreatedAt: now, UpdatedAt: now}
	actorID := "u1"
	entry := &model.AuditLogEntry{ActorID: &actorID, ActorName: "alice", Action: model.ActionVersionCreated, EntityType: model.EntityDocument, EntityID: "d1", Description: "created", Timestamp: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs("d1", "SOP-001", "Cleaning", "", "u1", sql.NullString{}, "DRAFT", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document_versions")).
		WithArgs("v1", "d1", 1, "DRAFT", "", "", "u1", "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), doc, first, entry)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentCreateRollsBackWhenAuditFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentPostgres(db)

	now := time.Now().UTC()
	doc := &model.Document{ID: "d1", DocumentNumber: "SOP-001", Title: "Cleaning", OwnerID: "u1", Status: "DRAFT", CreatedAt: now, UpdatedAt: now}
	first := &model.DocumentVersion{ID: "v1", DocumentID: "d1", VersionNumber: 1, Status: model.StatusDraft, AuthorID: "u1", CreatedAt: now, UpdatedAt: now}
	entry := &model.AuditLogEntry{ActorName: "alice", Action: model.ActionVersionCreated, EntityType: model.EntityDocument, Timestamp: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document_versions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), doc, first, entry)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentFindByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentPostgres(db)

	now := time.Now().UTC()
	current := "v2"
	want := &model.Document{ID: "d1", DocumentNumber: "SOP-001", Title: "Cleaning", Department: "QA", OwnerID: "u1", CurrentVersionID: &current, Status: "PUBLISHED", CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, document_number, title, department, owner_id, current_version_id, status, created_at, updated_at FROM documents WHERE id = $1")).
		WithArgs("d1").
		WillReturnRows(documentRows(want))

	got, err := repo.FindByID(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDocumentFindByIDNoRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentPostgres(db)

	mock.ExpectQuery("SELECT .* FROM documents").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDocumentList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentPostgres(db)

	now := time.Now().UTC()
	a := &model.Document{ID: "d1", DocumentNumber: "SOP-001", Title: "A", OwnerID: "u1", Status: "DRAFT", CreatedAt: now, UpdatedAt: now}
	b := &model.Document{ID: "d2", DocumentNumber: "SOP-002", Title: "B", OwnerID: "u1", Status: "DRAFT", CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT .* FROM documents").
		WithArgs(10, 0).
		WillReturnRows(documentRows(a, b))

	res, err := repo.List(context.Background(), repository.PageQuery{Limit: 10, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "d1", res.Items[0].ID)
}
