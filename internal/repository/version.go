package repository

import (
	"context"
	"time"

	"dmscore/internal/model"
)

// StampField selects which actor/timestamp pair a transition writes.
type StampField string

const (
	StampSubmitted StampField = "submitted"
	StampReviewed  StampField = "reviewed"
	StampApproved  StampField = "approved"
	StampRejected  StampField = "rejected"
	StampArchived  StampField = "archived"
)

// TransitionUpdate is a compare-and-swap status change on one version row.
// The update only commits if the row is still in the From status, so two
// concurrent conflicting transitions can never both apply.
type TransitionUpdate struct {
	VersionID string
	From      model.VersionStatus
	To        model.VersionStatus
	ActorID   string
	At        time.Time
	Comment   string
	Stamp     StampField
}

// PublishUpdate promotes an approved version to Published, marks it the
// document's current version, and archives the prior published version (if
// any) in the same transaction.
type PublishUpdate struct {
	VersionID        string
	DocumentID       string
	PriorPublishedID *string
	ActorID          string
	At               time.Time
}

// ContentUpdate is a compare-and-swap content change on a draft version.
// BaseHash must match the stored hash or the update fails with ErrConflict
// and the stored content is left unchanged.
type ContentUpdate struct {
	VersionID string
	BaseHash  string
	NewKey    string
	NewHash   string
	At        time.Time
}

// VersionRepository defines data access for document versions. Mutating
// methods take the audit entry that must commit atomically with the change.
type VersionRepository interface {
	// FindByID returns a version by its ID.
	FindByID(ctx context.Context, id string) (*model.DocumentVersion, error)

	// ListByDocument returns a document's versions, newest first.
	ListByDocument(ctx context.Context, documentID string, pq PageQuery) (*PageResult[model.DocumentVersion], error)

	// FindActiveEditing returns the version of the document currently
	// mid-workflow (Draft, UnderReview, PendingApproval or Approved), or
	// sql.ErrNoRows if none.
	FindActiveEditing(ctx context.Context, documentID string) (*model.DocumentVersion, error)

	// FindPublished returns the document's currently published version,
	// or sql.ErrNoRows if none.
	FindPublished(ctx context.Context, documentID string) (*model.DocumentVersion, error)

	// NextVersionNumber returns max(version_number)+1 for the document.
	NextVersionNumber(ctx context.Context, documentID string) (int, error)

	// Create inserts a new draft version.
	Create(ctx context.Context, v *model.DocumentVersion, entry *model.AuditLogEntry) error

	// ApplyTransition performs a CAS status change; ErrConflict when the
	// row is no longer in the expected From status.
	ApplyTransition(ctx context.Context, upd TransitionUpdate, entry *model.AuditLogEntry) error

	// Publish performs the publish swap; archiveEntry is written only
	// when a prior published version is actually archived.
	Publish(ctx context.Context, upd PublishUpdate, entry, archiveEntry *model.AuditLogEntry) error

	// UpdateContent performs a CAS content change on a draft.
	UpdateContent(ctx context.Context, upd ContentUpdate, entry *model.AuditLogEntry) error
}
