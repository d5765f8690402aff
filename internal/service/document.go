package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

// CreateDocumentRequest carries a new document with its first draft.
type CreateDocumentRequest struct {
	DocumentNumber string
	Title          string
	Department     string
	Actor          model.Actor
	Meta           model.ClientMeta
}

// DocumentService manages document identities and their version lineage.
type DocumentService struct {
	documents repository.DocumentRepository
	versions  repository.VersionRepository
	now       func() time.Time
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(documents repository.DocumentRepository, versions repository.VersionRepository) *DocumentService {
	return &DocumentService{
		documents: documents,
		versions:  versions,
		now:       time.Now,
	}
}

// Create registers a document together with its first draft version.
func (s *DocumentService) Create(ctx context.Context, req CreateDocumentRequest) (*model.Document, *model.DocumentVersion, error) {
	now := s.now().UTC()
	doc := &model.Document{
		ID:             uuid.NewString(),
		DocumentNumber: req.DocumentNumber,
		Title:          req.Title,
		Department:     req.Department,
		OwnerID:        req.Actor.ID,
		Status:         string(model.StatusDraft),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	first := &model.DocumentVersion{
		ID:            uuid.NewString(),
		DocumentID:    doc.ID,
		VersionNumber: 1,
		Status:        model.StatusDraft,
		AuthorID:      req.Actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	entry := &model.AuditLogEntry{
		ActorID:    &req.Actor.ID,
		ActorName:  req.Actor.Username,
		Action:     model.ActionVersionCreated,
		EntityType: model.EntityDocument,
		EntityID:   doc.ID,
		Description: fmt.Sprintf("%s created document %s with draft version 1",
			req.Actor.Username, req.DocumentNumber),
		Details: map[string]any{
			"document_number": req.DocumentNumber,
			"version_id":      first.ID,
		},
		IPAddress: req.Meta.IPAddress,
		UserAgent: req.Meta.UserAgent,
		Timestamp: now,
	}
	if err := s.documents.Create(ctx, doc, first, entry); err != nil {
		return nil, nil, err
	}
	return doc, first, nil
}

// NewDraft opens the next draft version for a document. Only one version
// may be mid-workflow at a time; the new draft starts from the currently
// published content, if any.
func (s *DocumentService) NewDraft(ctx context.Context, documentID string, actor model.Actor, meta model.ClientMeta) (*model.DocumentVersion, error) {
	doc, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if _, err := s.versions.FindActiveEditing(ctx, documentID); err == nil {
		return nil, ErrActiveVersionExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	n, err := s.versions.NextVersionNumber(ctx, documentID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	v := &model.DocumentVersion{
		ID:            uuid.NewString(),
		DocumentID:    documentID,
		VersionNumber: n,
		Status:        model.StatusDraft,
		AuthorID:      actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// A new draft starts from the published content so edits are deltas,
	// not rewrites from scratch.
	if published, err := s.versions.FindPublished(ctx, documentID); err == nil {
		v.ContentKey = published.ContentKey
		v.ContentHash = published.ContentHash
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	entry := &model.AuditLogEntry{
		ActorID:    &actor.ID,
		ActorName:  actor.Username,
		Action:     model.ActionVersionCreated,
		EntityType: model.EntityDocumentVersion,
		EntityID:   v.ID,
		Description: fmt.Sprintf("%s opened draft version %d of document %s",
			actor.Username, n, doc.DocumentNumber),
		Details: map[string]any{
			"document_id":    documentID,
			"version_number": n,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Timestamp: now,
	}
	if err := s.versions.Create(ctx, v, entry); err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns a document by ID.
func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.documents.FindByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// List returns documents, newest first.
func (s *DocumentService) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	return s.documents.List(ctx, normalizePage(pq))
}

// Versions returns a document's versions, newest first.
func (s *DocumentService) Versions(ctx context.Context, documentID string, pq repository.PageQuery) (*repository.PageResult[model.DocumentVersion], error) {
	if _, err := s.documents.FindByID(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.versions.ListByDocument(ctx, documentID, normalizePage(pq))
}

// GetVersion returns a version by ID.
func (s *DocumentService) GetVersion(ctx context.Context, id string) (*model.DocumentVersion, error) {
	v, err := s.versions.FindByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func normalizePage(pq repository.PageQuery) repository.PageQuery {
	if pq.Limit <= 0 || pq.Limit > 100 {
		pq.Limit = 20
	}
	if pq.Offset < 0 {
		pq.Offset = 0
	}
	return pq
}
