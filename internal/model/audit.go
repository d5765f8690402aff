package model

import "time"

// Audit action codes. One entry is written for every accepted state change;
// entries are write-once and never updated or deleted.
const (
	ActionLockAcquired     = "LOCK_ACQUIRED"
	ActionLockReleased     = "LOCK_RELEASED"
	ActionLockExpired      = "LOCK_EXPIRED"
	ActionLockForced       = "LOCK_FORCE_RELEASED"
	ActionVersionCreated   = "VERSION_CREATED"
	ActionVersionSaved     = "VERSION_SAVED"
	ActionVersionSubmitted = "VERSION_SUBMITTED"
	ActionReviewApproved   = "REVIEW_APPROVED"
	ActionReviewRejected   = "REVIEW_REJECTED"
	ActionVersionApproved  = "VERSION_APPROVED"
	ActionVersionRejected  = "VERSION_REJECTED"
	ActionVersionPublished = "VERSION_PUBLISHED"
	ActionVersionArchived  = "VERSION_ARCHIVED"
	ActionUserLogin        = "USER_LOGIN"
	ActionUserLogout       = "USER_LOGOUT"
	ActionLoginFailed      = "LOGIN_FAILED"
	ActionSessionOverride  = "SESSION_OVERRIDE"
	ActionSessionExpired   = "SESSION_EXPIRED"
)

// Entity types referenced by audit entries.
const (
	EntityDocument        = "Document"
	EntityDocumentVersion = "DocumentVersion"
	EntityEditLock        = "EditLock"
	EntityUser            = "User"
)

// AuditLogEntry is an immutable fact about a state change. ID is a
// server-assigned sequence that breaks ties between entries sharing a
// timestamp, so reading entries back in (timestamp, id) order reconstructs
// history exactly.
type AuditLogEntry struct {
	ID         int64   `json:"id"`
	ActorID    *string `json:"actor_id,omitempty"`
	ActorName  string  `json:"actor_name"`
	Action     string  `json:"action"`
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id,omitempty"`

	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`

	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
