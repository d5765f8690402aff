package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dmscore/internal/claim"
	"dmscore/internal/model"
	"dmscore/internal/repository"
)

// LockInfo is the external view of an edit lock. Token is only populated
// when the requesting actor holds the lock; other actors see holder and
// expiry but never the capability itself.
type LockInfo struct {
	VersionID     string    `json:"version_id"`
	HolderID      string    `json:"holder_id"`
	HolderName    string    `json:"holder_name"`
	Token         string    `json:"token,omitempty"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// LockService guards document version editing with exclusive, expiring
// locks. Possession of the returned token is what authorizes saves; holding
// the same user identity without the token is not enough.
type LockService struct {
	locks    *claim.Manager[string]
	versions repository.VersionRepository
}

// NewLockService creates a LockService over the given claim manager.
func NewLockService(locks *claim.Manager[string], versions repository.VersionRepository) *LockService {
	return &LockService{locks: locks, versions: versions}
}

// LockEntryFunc builds the audit entries for edit lock lifecycle events.
// Heartbeats produce no entry.
func LockEntryFunc() claim.EntryFunc[string] {
	return func(rec *claim.Record[string], event claim.EventKind, actor model.Actor, reason string) *model.AuditLogEntry {
		e := &model.AuditLogEntry{
			ActorName:  actor.Username,
			EntityType: model.EntityEditLock,
			EntityID:   rec.Key,
			IPAddress:  rec.Meta.IPAddress,
			UserAgent:  rec.Meta.UserAgent,
			Details: map[string]any{
				"holder_id":   rec.HolderID,
				"holder_name": rec.HolderName,
			},
		}
		if actor.ID != "" {
			id := actor.ID
			e.ActorID = &id
		}
		switch event {
		case claim.EventAcquired:
			e.Action = model.ActionLockAcquired
			e.Description = fmt.Sprintf("%s acquired edit lock on version %s", rec.HolderName, rec.Key)
		case claim.EventReleased:
			e.Action = model.ActionLockReleased
			e.Description = fmt.Sprintf("%s released edit lock on version %s", rec.HolderName, rec.Key)
		case claim.EventExpired:
			e.Action = model.ActionLockExpired
			e.ActorName = "system"
			e.ActorID = nil
			e.Description = fmt.Sprintf("edit lock on version %s held by %s expired", rec.Key, rec.HolderName)
		case claim.EventForced, claim.EventSuperseded:
			e.Action = model.ActionLockForced
			e.Description = fmt.Sprintf("%s force-released edit lock on version %s held by %s", actor.Username, rec.Key, rec.HolderName)
			e.Details["forced_by"] = actor.ID
			if reason != "" {
				e.Details["reason"] = reason
			}
		default:
			return nil
		}
		return e
	}
}

// Acquire grants the actor an exclusive edit lock on the version. Only
// draft versions are lockable. A live lock held by someone else fails with
// *LockHeldError carrying the holder and expiry; re-acquiring one's own
// lock renews it and returns the same token.
func (s *LockService) Acquire(ctx context.Context, versionID string, actor model.Actor, meta model.ClientMeta) (*LockInfo, error) {
	v, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !v.Status.Editable() {
		return nil, ErrVersionNotEditable
	}

	rec, err := s.locks.Acquire(ctx, versionID, actor, 0, meta)
	if err != nil {
		var held *claim.HeldError
		if errors.As(err, &held) {
			return nil, &LockHeldError{
				HolderID:   held.HolderID,
				HolderName: held.HolderName,
				AcquiredAt: held.AcquiredAt,
				ExpiresAt:  held.ExpiresAt,
			}
		}
		return nil, err
	}
	return lockInfo(rec, true), nil
}

// Heartbeat extends the lock behind the token. An expired lock is not
// revived: the caller gets ErrLockExpired and must re-acquire.
func (s *LockService) Heartbeat(ctx context.Context, token string) (*LockInfo, error) {
	rec, err := s.locks.Heartbeat(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, claim.ErrNotFound):
			return nil, ErrLockNotFound
		case errors.Is(err, claim.ErrExpired):
			return nil, ErrLockExpired
		}
		return nil, err
	}
	return lockInfo(rec, true), nil
}

// Release surrenders the lock behind the token. Unknown or already-released
// tokens succeed silently so clients can release best-effort.
func (s *LockService) Release(ctx context.Context, token string, actor model.Actor) error {
	err := s.locks.Release(ctx, token, actor)
	if errors.Is(err, claim.ErrNotOwner) {
		return ErrNotLockOwner
	}
	return err
}

// Inspect reports the live lock on the version, if any. The token is
// included only when the requesting actor is the holder. Inspect is a pure
// read, so transient store failures are retried.
func (s *LockService) Inspect(ctx context.Context, versionID string, actor model.Actor) (*LockInfo, bool, error) {
	rec, err := retryRead(ctx, func() (*claim.Record[string], error) {
		r, ok, err := s.locks.Inspect(ctx, versionID)
		if err != nil || !ok {
			return nil, err
		}
		return r, nil
	})
	if err != nil || rec == nil {
		return nil, false, err
	}
	return lockInfo(rec, rec.HolderID == actor.ID), true, nil
}

// ForceRelease revokes any live lock on the version regardless of holder.
// Admin only. The displaced holder is always recorded in the audit ledger.
func (s *LockService) ForceRelease(ctx context.Context, versionID string, actor model.Actor, reason string) (bool, error) {
	if !actor.IsAdmin() {
		return false, ErrForbidden
	}
	return s.locks.ForceRelease(ctx, versionID, actor, reason)
}

// releaseByHolder surrenders the actor's own live lock on the version, if
// one exists. Used when a submit hands the version out of the editable
// state.
func (s *LockService) releaseByHolder(ctx context.Context, versionID string, actor model.Actor) error {
	rec, ok, err := s.locks.Inspect(ctx, versionID)
	if err != nil || !ok {
		return err
	}
	if rec.HolderID != actor.ID {
		return nil
	}
	return s.locks.Release(ctx, rec.Token, actor)
}

// LiveLock returns the live lock record on a version, if any.
func (s *LockService) LiveLock(ctx context.Context, versionID string) (*claim.Record[string], bool, error) {
	return s.locks.Inspect(ctx, versionID)
}

// ValidateToken checks that the token is a live lock on versionID held by
// the actor. It is the save-path gate: every content write must pass it.
func (s *LockService) ValidateToken(ctx context.Context, versionID, token string, actor model.Actor) error {
	state, rec, err := s.locks.Status(ctx, token)
	if err != nil {
		return err
	}
	switch state {
	case claim.TokenLive:
		if rec.Key != versionID {
			return ErrLockNotFound
		}
		if rec.HolderID != actor.ID {
			return ErrNotLockOwner
		}
		return nil
	case claim.TokenExpired:
		return ErrLockExpired
	case claim.TokenUnknown:
		return ErrLockNotFound
	default:
		// Revoked or superseded: the capability is gone for good.
		return ErrLockNotFound
	}
}

func lockInfo(rec *claim.Record[string], withToken bool) *LockInfo {
	info := &LockInfo{
		VersionID:     rec.Key,
		HolderID:      rec.HolderID,
		HolderName:    rec.HolderName,
		AcquiredAt:    rec.AcquiredAt,
		ExpiresAt:     rec.ExpiresAt,
		LastHeartbeat: rec.LastHeartbeat,
	}
	if withToken {
		info.Token = rec.Token
	}
	return info
}
