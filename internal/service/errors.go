package service

import (
	"errors"
	"fmt"
	"time"

	"dmscore/internal/model"
)

// Sentinel errors returned by services. Handlers map these to HTTP status
// codes and stable machine-readable error codes.
var (
	// ErrNotFound is returned when the referenced document or version does
	// not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrVersionNotEditable is returned when a lock or save is attempted on
	// a version outside the Draft state.
	ErrVersionNotEditable = errors.New("version is not editable")

	// ErrLockNotFound is returned when the supplied lock token matches no
	// live lock.
	ErrLockNotFound = errors.New("lock not found")

	// ErrLockExpired is returned when the lock behind the token has passed
	// its deadline. The caller must re-acquire; saves against expired locks
	// are always refused.
	ErrLockExpired = errors.New("lock expired")

	// ErrNotLockOwner is returned when the caller presents a token they do
	// not hold.
	ErrNotLockOwner = errors.New("not the lock owner")

	// ErrStaleContent is returned when a save's base content hash no longer
	// matches the stored version; the stored content is left untouched.
	ErrStaleContent = errors.New("stale content: version changed since read")

	// ErrForbidden is returned when the actor's roles do not permit the
	// operation.
	ErrForbidden = errors.New("operation not permitted for this actor")

	// ErrCommentRequired is returned when a rejection is attempted without
	// a reason.
	ErrCommentRequired = errors.New("a comment is required for this action")

	// ErrSignatureRequired is returned when a controlled transition is
	// attempted without an e-signature assertion.
	ErrSignatureRequired = errors.New("an e-signature is required for this action")

	// ErrSignatureInvalid is returned when the e-signature check fails.
	ErrSignatureInvalid = errors.New("e-signature verification failed")

	// ErrActiveVersionExists is returned when a new draft is requested
	// while the document already has a version mid-workflow.
	ErrActiveVersionExists = errors.New("document already has an active version")

	// ErrInvalidCredentials is returned on a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// LockHeldError reports a lock conflict, surfacing who holds the lock and
// until when so clients can render a useful message.
type LockHeldError struct {
	HolderID   string    `json:"holder_id"`
	HolderName string    `json:"holder_name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("version is locked by %s until %s", e.HolderName, e.ExpiresAt.Format(time.RFC3339))
}

// SessionConflictError reports an existing live session for the user. Login
// callers may retry with force=true to displace it.
type SessionConflictError struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("user %s already has an active session since %s", e.Username, e.CreatedAt.Format(time.RFC3339))
}

// SignatureVerifier checks an e-signature assertion (typically a password
// re-entry) for a controlled workflow transition. Implemented by the
// identity collaborator; tests use a stub.
type SignatureVerifier interface {
	VerifySignature(actorID, password string) error
}

// CredentialVerifier authenticates a username/password pair and returns the
// authenticated actor. Implemented by the identity collaborator.
type CredentialVerifier interface {
	VerifyCredentials(username, password string) (model.Actor, error)
}
