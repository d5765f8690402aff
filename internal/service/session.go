package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dmscore/internal/claim"
	"dmscore/internal/model"
	"dmscore/internal/repository"
)

// Session is the external view of a login session.
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionState reported by Validate when a session token is no longer
// usable, so clients can tell the user why they were logged out.
type SessionState string

const (
	SessionActive     SessionState = "active"
	SessionExpired    SessionState = "expired"
	SessionSuperseded SessionState = "superseded"
	SessionRevoked    SessionState = "revoked"
	SessionUnknown    SessionState = "unknown"
)

// SessionService enforces at most one live session per user. A second login
// is refused with *SessionConflictError unless forced, in which case the
// old session is displaced and its token invalidated.
type SessionService struct {
	sessions *claim.Manager[string]
	creds    CredentialVerifier
	audits   repository.AuditLogRepository
	now      func() time.Time
}

// NewSessionService creates a SessionService.
func NewSessionService(sessions *claim.Manager[string], creds CredentialVerifier, audits repository.AuditLogRepository) *SessionService {
	return &SessionService{
		sessions: sessions,
		creds:    creds,
		audits:   audits,
		now:      time.Now,
	}
}

// SessionEntryFunc builds the audit entries for session lifecycle events.
func SessionEntryFunc() claim.EntryFunc[string] {
	return func(rec *claim.Record[string], event claim.EventKind, actor model.Actor, reason string) *model.AuditLogEntry {
		e := &model.AuditLogEntry{
			ActorName:  actor.Username,
			EntityType: model.EntityUser,
			EntityID:   rec.Key,
			IPAddress:  rec.Meta.IPAddress,
			UserAgent:  rec.Meta.UserAgent,
		}
		if actor.ID != "" {
			id := actor.ID
			e.ActorID = &id
		}
		switch event {
		case claim.EventAcquired:
			e.Action = model.ActionUserLogin
			e.Description = fmt.Sprintf("%s logged in", rec.HolderName)
		case claim.EventReleased:
			e.Action = model.ActionUserLogout
			e.Description = fmt.Sprintf("%s logged out", rec.HolderName)
		case claim.EventExpired:
			e.Action = model.ActionSessionExpired
			e.ActorName = "system"
			e.ActorID = nil
			e.Description = fmt.Sprintf("session for %s expired", rec.HolderName)
		case claim.EventSuperseded, claim.EventForced:
			e.Action = model.ActionSessionOverride
			e.Description = fmt.Sprintf("session for %s displaced by a new login", rec.HolderName)
			e.Details = map[string]any{"displaced_session_holder": rec.HolderName}
		default:
			return nil
		}
		return e
	}
}

// Login authenticates the user and opens a session. If a live session
// already exists and force is false the login fails with
// *SessionConflictError; with force the existing session is superseded.
// Failed credential checks are recorded in the audit ledger.
func (s *SessionService) Login(ctx context.Context, username, password string, force bool, meta model.ClientMeta) (*Session, error) {
	actor, err := s.creds.VerifyCredentials(username, password)
	if err != nil {
		entry := &model.AuditLogEntry{
			ActorName:   username,
			Action:      model.ActionLoginFailed,
			EntityType:  model.EntityUser,
			Description: fmt.Sprintf("failed login attempt for %s", username),
			IPAddress:   meta.IPAddress,
			UserAgent:   meta.UserAgent,
			Timestamp:   s.now().UTC(),
		}
		if aerr := s.audits.Append(ctx, entry); aerr != nil {
			return nil, aerr
		}
		return nil, ErrInvalidCredentials
	}

	var rec *claim.Record[string]
	if force {
		rec, err = s.sessions.Supersede(ctx, actor.ID, actor, 0, meta)
	} else {
		rec, err = s.sessions.Acquire(ctx, actor.ID, actor, 0, meta)
	}
	if err != nil {
		var held *claim.HeldError
		if errors.As(err, &held) {
			return nil, &SessionConflictError{
				UserID:    actor.ID,
				Username:  actor.Username,
				CreatedAt: held.AcquiredAt,
			}
		}
		return nil, err
	}
	return sessionView(rec, true), nil
}

// Validate reports whether the token still identifies a live session and,
// when it does not, why. A live session's deadline is extended (sliding
// expiry) on each validation. The status read is retried on transient store
// failures; the extension is a mutation and is not.
func (s *SessionService) Validate(ctx context.Context, token string) (SessionState, *Session, error) {
	state, err := retryRead(ctx, func() (claim.TokenState, error) {
		st, _, err := s.sessions.Status(ctx, token)
		return st, err
	})
	if err != nil {
		return SessionUnknown, nil, err
	}
	switch state {
	case claim.TokenLive:
		fresh, err := s.sessions.Heartbeat(ctx, token)
		if err != nil {
			// Lost a race with the sweeper or a forced logout.
			return SessionRevoked, nil, nil
		}
		return SessionActive, sessionView(fresh, false), nil
	case claim.TokenExpired:
		return SessionExpired, nil, nil
	case claim.TokenSuperseded:
		return SessionSuperseded, nil, nil
	case claim.TokenRevoked:
		return SessionRevoked, nil, nil
	default:
		return SessionUnknown, nil, nil
	}
}

// Logout closes the session behind the token. Unknown tokens succeed
// silently.
func (s *SessionService) Logout(ctx context.Context, token string, actor model.Actor) error {
	return s.sessions.Release(ctx, token, actor)
}

// ForceLogout revokes any live session for the user. Admin only.
func (s *SessionService) ForceLogout(ctx context.Context, userID string, actor model.Actor) (bool, error) {
	if !actor.IsAdmin() {
		return false, ErrForbidden
	}
	return s.sessions.ForceRelease(ctx, userID, actor, "administrative logout")
}

func sessionView(rec *claim.Record[string], withToken bool) *Session {
	v := &Session{
		UserID:    rec.Key,
		Username:  rec.HolderName,
		CreatedAt: rec.AcquiredAt,
		ExpiresAt: rec.ExpiresAt,
	}
	if withToken {
		v.Token = rec.Token
	}
	return v
}
