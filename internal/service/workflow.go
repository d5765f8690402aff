package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"dmscore/internal/claim"
	"dmscore/internal/model"
	"dmscore/internal/repository"
	"dmscore/internal/storage"
	"dmscore/internal/workflow"
)

// TransitionRequest carries everything needed to move a version through the
// workflow. Signature is the actor's e-signature assertion (password
// re-entry); Comment is mandatory on rejections.
type TransitionRequest struct {
	VersionID string
	Action    workflow.Action
	Actor     model.Actor
	Comment   string
	Signature string
	Meta      model.ClientMeta
}

// SaveRequest carries a draft content save. Token is the edit lock
// capability; BaseHash is the content hash the client last read, used to
// detect concurrent modification.
type SaveRequest struct {
	VersionID string
	Actor     model.Actor
	Token     string
	BaseHash  string
	Content   []byte
	Meta      model.ClientMeta
}

// WorkflowService applies lifecycle transitions and content saves to
// document versions. Every accepted change commits its audit entry in the
// same transaction; a failed transition changes nothing, including the
// ledger.
type WorkflowService struct {
	versions  repository.VersionRepository
	documents repository.DocumentRepository
	locks     *LockService
	store     storage.Storage
	signer    SignatureVerifier
	mu        *claim.KeyedMutex[string]
	now       func() time.Time
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(
	versions repository.VersionRepository,
	documents repository.DocumentRepository,
	locks *LockService,
	store storage.Storage,
	signer SignatureVerifier,
) *WorkflowService {
	return &WorkflowService{
		versions:  versions,
		documents: documents,
		locks:     locks,
		store:     store,
		signer:    signer,
		mu:        claim.NewKeyedMutex[string](),
		now:       time.Now,
	}
}

var transitionActions = map[workflow.Action]string{
	workflow.ActionSubmitForReview: model.ActionVersionSubmitted,
	workflow.ActionApproveReview:   model.ActionReviewApproved,
	workflow.ActionRejectReview:    model.ActionReviewRejected,
	workflow.ActionApprove:         model.ActionVersionApproved,
	workflow.ActionRejectApproval:  model.ActionVersionRejected,
	workflow.ActionPublish:         model.ActionVersionPublished,
	workflow.ActionArchive:         model.ActionVersionArchived,
}

var transitionStamps = map[workflow.Action]repository.StampField{
	workflow.ActionSubmitForReview: repository.StampSubmitted,
	workflow.ActionApproveReview:   repository.StampReviewed,
	workflow.ActionRejectReview:    repository.StampRejected,
	workflow.ActionApprove:         repository.StampApproved,
	workflow.ActionRejectApproval:  repository.StampRejected,
	workflow.ActionArchive:         repository.StampArchived,
}

// Transition applies one workflow action to a version. Validation order:
// existence, transition legality, role, comment, signature. Concurrent
// conflicting transitions serialize on the version; the loser observes the
// new state and fails with an InvalidTransitionError, never a partial write.
func (s *WorkflowService) Transition(ctx context.Context, req TransitionRequest) (*model.DocumentVersion, error) {
	unlock := s.mu.Lock(req.VersionID)
	defer unlock()

	v, err := s.versions.FindByID(ctx, req.VersionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rule, err := workflow.Resolve(v.Status, req.Action)
	if err != nil {
		return nil, err
	}
	if !rule.AllowedBy(req.Actor) {
		return nil, ErrForbidden
	}
	if rule.RequireComment && req.Comment == "" {
		return nil, ErrCommentRequired
	}
	if rule.RequireSignature {
		if req.Signature == "" {
			return nil, ErrSignatureRequired
		}
		if err := s.signer.VerifySignature(req.Actor.ID, req.Signature); err != nil {
			return nil, ErrSignatureInvalid
		}
	}

	now := s.now().UTC()

	if req.Action == workflow.ActionPublish {
		return s.publish(ctx, v, req, now)
	}

	// Submitting hands the version out of the editable state. A live lock
	// held by someone else blocks the submit; the submitter's own lock is
	// released only after the transition commits, so a failed submit leaves
	// the lock intact and the ledger records the submit before the release.
	if req.Action == workflow.ActionSubmitForReview {
		if rec, ok, err := s.locks.LiveLock(ctx, v.ID); err != nil {
			return nil, err
		} else if ok && rec.HolderID != req.Actor.ID {
			return nil, &LockHeldError{
				HolderID:   rec.HolderID,
				HolderName: rec.HolderName,
				AcquiredAt: rec.AcquiredAt,
				ExpiresAt:  rec.ExpiresAt,
			}
		}
	}

	upd := repository.TransitionUpdate{
		VersionID: v.ID,
		From:      rule.From,
		To:        rule.To,
		ActorID:   req.Actor.ID,
		At:        now,
		Comment:   req.Comment,
		Stamp:     transitionStamps[req.Action],
	}
	entry := s.transitionEntry(v, req, rule, now)
	if err := s.versions.ApplyTransition(ctx, upd, entry); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// The row moved under us; report against the fresh state.
			fresh, ferr := s.versions.FindByID(ctx, v.ID)
			if ferr == nil {
				return nil, &workflow.InvalidTransitionError{From: fresh.Status, Action: req.Action}
			}
			return nil, &workflow.InvalidTransitionError{From: v.Status, Action: req.Action}
		}
		return nil, err
	}
	if req.Action == workflow.ActionSubmitForReview {
		if err := s.locks.releaseByHolder(ctx, v.ID, req.Actor); err != nil {
			return nil, err
		}
	}
	return s.versions.FindByID(ctx, v.ID)
}

// publish promotes an approved version, points the document at it, and
// archives the previously published version, all in one transaction.
func (s *WorkflowService) publish(ctx context.Context, v *model.DocumentVersion, req TransitionRequest, now time.Time) (*model.DocumentVersion, error) {
	var priorID *string
	prior, err := s.versions.FindPublished(ctx, v.DocumentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if prior != nil {
		priorID = &prior.ID
	}

	upd := repository.PublishUpdate{
		VersionID:        v.ID,
		DocumentID:       v.DocumentID,
		PriorPublishedID: priorID,
		ActorID:          req.Actor.ID,
		At:               now,
	}
	entry := &model.AuditLogEntry{
		ActorID:    &req.Actor.ID,
		ActorName:  req.Actor.Username,
		Action:     model.ActionVersionPublished,
		EntityType: model.EntityDocumentVersion,
		EntityID:   v.ID,
		Description: fmt.Sprintf("%s published version %d of document %s",
			req.Actor.Username, v.VersionNumber, v.DocumentID),
		Details: map[string]any{
			"document_id":    v.DocumentID,
			"version_number": v.VersionNumber,
		},
		IPAddress: req.Meta.IPAddress,
		UserAgent: req.Meta.UserAgent,
		Timestamp: now,
	}
	var archiveEntry *model.AuditLogEntry
	if prior != nil {
		archiveEntry = &model.AuditLogEntry{
			ActorID:    &req.Actor.ID,
			ActorName:  req.Actor.Username,
			Action:     model.ActionVersionArchived,
			EntityType: model.EntityDocumentVersion,
			EntityID:   prior.ID,
			Description: fmt.Sprintf("version %d of document %s archived, superseded by version %d",
				prior.VersionNumber, v.DocumentID, v.VersionNumber),
			Details: map[string]any{
				"document_id":   v.DocumentID,
				"superseded_by": v.ID,
			},
			IPAddress: req.Meta.IPAddress,
			UserAgent: req.Meta.UserAgent,
			Timestamp: now,
		}
	}

	if err := s.versions.Publish(ctx, upd, entry, archiveEntry); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			fresh, ferr := s.versions.FindByID(ctx, v.ID)
			if ferr == nil {
				return nil, &workflow.InvalidTransitionError{From: fresh.Status, Action: req.Action}
			}
			return nil, &workflow.InvalidTransitionError{From: v.Status, Action: req.Action}
		}
		return nil, err
	}
	return s.versions.FindByID(ctx, v.ID)
}

func (s *WorkflowService) transitionEntry(v *model.DocumentVersion, req TransitionRequest, rule workflow.Rule, now time.Time) *model.AuditLogEntry {
	details := map[string]any{
		"document_id":    v.DocumentID,
		"version_number": v.VersionNumber,
		"from":           string(rule.From),
		"to":             string(rule.To),
	}
	if req.Comment != "" {
		details["comment"] = req.Comment
	}
	return &model.AuditLogEntry{
		ActorID:    &req.Actor.ID,
		ActorName:  req.Actor.Username,
		Action:     transitionActions[req.Action],
		EntityType: model.EntityDocumentVersion,
		EntityID:   v.ID,
		Description: fmt.Sprintf("%s moved version %d of document %s from %s to %s",
			req.Actor.Username, v.VersionNumber, v.DocumentID, rule.From, rule.To),
		Details:   details,
		IPAddress: req.Meta.IPAddress,
		UserAgent: req.Meta.UserAgent,
		Timestamp: now,
	}
}

// SaveContent persists draft content. The caller must present a live edit
// lock token they own, and the base hash must still match the stored
// content; otherwise nothing is written and the mismatch is reported.
func (s *WorkflowService) SaveContent(ctx context.Context, req SaveRequest) (*model.DocumentVersion, error) {
	v, err := s.versions.FindByID(ctx, req.VersionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !v.Status.Editable() {
		return nil, ErrVersionNotEditable
	}
	if err := s.locks.ValidateToken(ctx, req.VersionID, req.Token, req.Actor); err != nil {
		return nil, err
	}
	if req.BaseHash != v.ContentHash {
		return nil, ErrStaleContent
	}

	now := s.now().UTC()
	sum := sha256.Sum256(req.Content)
	newHash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("versions/%s/%s", v.ID, newHash)

	if _, err := s.store.Put(ctx, key, bytes.NewReader(req.Content), storage.PutObjectOptions{
		Size:        int64(len(req.Content)),
		ContentType: "application/octet-stream",
	}); err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	upd := repository.ContentUpdate{
		VersionID: v.ID,
		BaseHash:  req.BaseHash,
		NewKey:    key,
		NewHash:   newHash,
		At:        now,
	}
	entry := &model.AuditLogEntry{
		ActorID:    &req.Actor.ID,
		ActorName:  req.Actor.Username,
		Action:     model.ActionVersionSaved,
		EntityType: model.EntityDocumentVersion,
		EntityID:   v.ID,
		Description: fmt.Sprintf("%s saved content on version %d of document %s",
			req.Actor.Username, v.VersionNumber, v.DocumentID),
		Details: map[string]any{
			"document_id": v.DocumentID,
			"before_hash": v.ContentHash,
			"after_hash":  newHash,
			"size":        len(req.Content),
		},
		IPAddress: req.Meta.IPAddress,
		UserAgent: req.Meta.UserAgent,
		Timestamp: now,
	}
	if err := s.versions.UpdateContent(ctx, upd, entry); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrStaleContent
		}
		return nil, err
	}
	return s.versions.FindByID(ctx, v.ID)
}

// ContentURL returns a presigned download URL for a version's content.
func (s *WorkflowService) ContentURL(ctx context.Context, versionID string, expiry time.Duration) (string, error) {
	v, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if v.ContentKey == "" {
		return "", ErrNotFound
	}
	return s.store.PresignGet(ctx, v.ContentKey, expiry)
}
