package model

import "time"

// VersionStatus is the workflow state of a document version.
type VersionStatus string

const (
	StatusDraft           VersionStatus = "DRAFT"
	StatusUnderReview     VersionStatus = "UNDER_REVIEW"
	StatusPendingApproval VersionStatus = "PENDING_APPROVAL"
	StatusApproved        VersionStatus = "APPROVED"
	StatusPublished       VersionStatus = "PUBLISHED"
	StatusRejected        VersionStatus = "REJECTED"
	StatusArchived        VersionStatus = "ARCHIVED"
)

// Editable reports whether content saves and edit locks are allowed.
// Only drafts are editable.
func (s VersionStatus) Editable() bool {
	return s == StatusDraft
}

// ActiveEditing reports whether the version is mid-workflow. At most one
// version per document may be in such a state at a time.
func (s VersionStatus) ActiveEditing() bool {
	switch s {
	case StatusDraft, StatusUnderReview, StatusPendingApproval, StatusApproved:
		return true
	}
	return false
}

// Terminal reports whether the version content is immutable for good.
func (s VersionStatus) Terminal() bool {
	return s == StatusPublished || s == StatusRejected || s == StatusArchived
}

// DocumentVersion is one revision of a document. Version numbers within a
// document are strictly increasing and never reused. Content becomes
// immutable once the version reaches a terminal state; rows are never
// physically deleted (audit requirement).
type DocumentVersion struct {
	ID            string        `json:"id"`
	DocumentID    string        `json:"document_id"`
	VersionNumber int           `json:"version_number"`
	Status        VersionStatus `json:"status"`

	// ContentKey references the content blob in object storage;
	// ContentHash is the SHA-256 of that blob, used for conflict detection.
	ContentKey  string `json:"content_key"`
	ContentHash string `json:"content_hash"`

	AuthorID        string `json:"author_id"`
	ChangeSummary   string `json:"change_summary,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	SubmittedBy  *string    `json:"submitted_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy   *string    `json:"reviewed_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ApprovedBy   *string    `json:"approved_by,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	PublishedBy  *string    `json:"published_by,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	RejectedBy   *string    `json:"rejected_by,omitempty"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
	ArchivedBy   *string    `json:"archived_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
