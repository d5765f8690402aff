// Package workflow defines the closed transition table for document version
// lifecycle states. All transition validation happens here so every caller
// gets identical, exhaustive error behavior instead of per-endpoint checks.
package workflow

import (
	"fmt"

	"dmscore/internal/model"
)

// Action is a workflow transition request.
type Action string

const (
	ActionSubmitForReview Action = "submitForReview"
	ActionApproveReview   Action = "approveReview"
	ActionRejectReview    Action = "rejectReview"
	ActionApprove         Action = "approve"
	ActionRejectApproval  Action = "rejectApproval"
	ActionPublish         Action = "publish"
	ActionArchive         Action = "archive"
)

// Rule describes one legal transition.
type Rule struct {
	From model.VersionStatus
	To   model.VersionStatus

	// Roles that may perform the transition. Admin is always allowed.
	Roles []string

	// RequireComment marks transitions where a comment is mandatory
	// (rejections must state a reason).
	RequireComment bool

	// RequireSignature marks transitions bound to an e-signature
	// assertion (password re-entry) for non-repudiation.
	RequireSignature bool
}

var table = map[Action]Rule{
	ActionSubmitForReview: {
		From:             model.StatusDraft,
		To:               model.StatusUnderReview,
		Roles:            []string{model.RoleAuthor},
		RequireSignature: true,
	},
	ActionApproveReview: {
		From:             model.StatusUnderReview,
		To:               model.StatusPendingApproval,
		Roles:            []string{model.RoleReviewer},
		RequireSignature: true,
	},
	ActionRejectReview: {
		From:             model.StatusUnderReview,
		To:               model.StatusDraft,
		Roles:            []string{model.RoleReviewer},
		RequireComment:   true,
		RequireSignature: true,
	},
	ActionApprove: {
		From:             model.StatusPendingApproval,
		To:               model.StatusApproved,
		Roles:            []string{model.RoleApprover},
		RequireSignature: true,
	},
	ActionRejectApproval: {
		From:             model.StatusPendingApproval,
		To:               model.StatusDraft,
		Roles:            []string{model.RoleApprover},
		RequireComment:   true,
		RequireSignature: true,
	},
	ActionPublish: {
		From:             model.StatusApproved,
		To:               model.StatusPublished,
		Roles:            []string{model.RoleApprover},
		RequireSignature: true,
	},
	ActionArchive: {
		From:             model.StatusPublished,
		To:               model.StatusArchived,
		Roles:            []string{},
		RequireSignature: true,
	},
}

// InvalidTransitionError names the current state and the attempted action.
// It is returned for every (state, action) pair not in the table and is
// never silently ignored.
type InvalidTransitionError struct {
	From   model.VersionStatus
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: action %q not allowed from state %q", e.Action, e.From)
}

// Resolve returns the rule for applying action to a version currently in
// state from. The rule's From always equals the supplied state on success.
func Resolve(from model.VersionStatus, action Action) (Rule, error) {
	rule, ok := table[action]
	if !ok || rule.From != from {
		return Rule{}, &InvalidTransitionError{From: from, Action: action}
	}
	return rule, nil
}

// AllowedBy reports whether the actor carries a role permitted to perform
// this transition. Admins pass every rule.
func (r Rule) AllowedBy(actor model.Actor) bool {
	if actor.IsAdmin() {
		return true
	}
	for _, role := range r.Roles {
		if actor.HasRole(role) {
			return true
		}
	}
	return false
}

// Actions returns every action the table knows about.
func Actions() []Action {
	return []Action{
		ActionSubmitForReview,
		ActionApproveReview,
		ActionRejectReview,
		ActionApprove,
		ActionRejectApproval,
		ActionPublish,
		ActionArchive,
	}
}

// Statuses returns every status a version can carry.
func Statuses() []model.VersionStatus {
	return []model.VersionStatus{
		model.StatusDraft,
		model.StatusUnderReview,
		model.StatusPendingApproval,
		model.StatusApproved,
		model.StatusPublished,
		model.StatusRejected,
		model.StatusArchived,
	}
}
