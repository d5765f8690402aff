package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmscore/internal/model"
)

func TestResolveLegalTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   model.VersionStatus
		action Action
		to     model.VersionStatus
	}{
		{"submit draft", model.StatusDraft, ActionSubmitForReview, model.StatusUnderReview},
		{"approve review", model.StatusUnderReview, ActionApproveReview, model.StatusPendingApproval},
		{"reject review", model.StatusUnderReview, ActionRejectReview, model.StatusDraft},
		{"approve", model.StatusPendingApproval, ActionApprove, model.StatusApproved},
		{"reject approval", model.StatusPendingApproval, ActionRejectApproval, model.StatusDraft},
		{"publish", model.StatusApproved, ActionPublish, model.StatusPublished},
		{"archive", model.StatusPublished, ActionArchive, model.StatusArchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := Resolve(tt.from, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.from, rule.From)
			assert.Equal(t, tt.to, rule.To)
		})
	}
}

// Every (state, action) pair outside the table must fail with an
// InvalidTransitionError naming both.
func TestResolveRejectsEverythingElse(t *testing.T) {
	legal := map[model.VersionStatus]Action{
		model.StatusDraft:     ActionSubmitForReview,
		model.StatusApproved:  ActionPublish,
		model.StatusPublished: ActionArchive,
	}
	legalPair := func(from model.VersionStatus, a Action) bool {
		if legal[from] == a {
			return true
		}
		switch from {
		case model.StatusUnderReview:
			return a == ActionApproveReview || a == ActionRejectReview
		case model.StatusPendingApproval:
			return a == ActionApprove || a == ActionRejectApproval
		}
		return false
	}

	for _, from := range Statuses() {
		for _, action := range Actions() {
			if legalPair(from, action) {
				continue
			}
			_, err := Resolve(from, action)
			require.Error(t, err, "from=%s action=%s", from, action)

			var invalid *InvalidTransitionError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, from, invalid.From)
			assert.Equal(t, action, invalid.Action)
		}
	}
}

func TestResolveUnknownAction(t *testing.T) {
	_, err := Resolve(model.StatusDraft, Action("fastForward"))
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
}

func TestRuleAllowedBy(t *testing.T) {
	author := model.Actor{ID: "u1", Username: "alice", Roles: []string{model.RoleAuthor}}
	reviewer := model.Actor{ID: "u2", Username: "bob", Roles: []string{model.RoleReviewer}}
	approver := model.Actor{ID: "u3", Username: "carol", Roles: []string{model.RoleApprover}}
	admin := model.Actor{ID: "u4", Username: "dave", Roles: []string{model.RoleAdmin}}

	tests := []struct {
		name   string
		action Action
		actor  model.Actor
		want   bool
	}{
		{"author submits", ActionSubmitForReview, author, true},
		{"reviewer cannot submit", ActionSubmitForReview, reviewer, false},
		{"reviewer approves review", ActionApproveReview, reviewer, true},
		{"author cannot review", ActionApproveReview, author, false},
		{"approver publishes", ActionPublish, approver, true},
		{"reviewer cannot publish", ActionPublish, reviewer, false},
		{"admin passes every rule", ActionApprove, admin, true},
		{"only admin archives", ActionArchive, approver, false},
		{"admin archives", ActionArchive, admin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := table[tt.action]
			require.True(t, ok)
			assert.Equal(t, tt.want, rule.AllowedBy(tt.actor))
		})
	}
}

func TestRejectionsRequireComment(t *testing.T) {
	for _, action := range []Action{ActionRejectReview, ActionRejectApproval} {
		rule := table[action]
		assert.True(t, rule.RequireComment, "action %s", action)
	}
	assert.False(t, table[ActionApprove].RequireComment)
}

func TestAllTransitionsRequireSignature(t *testing.T) {
	for _, action := range Actions() {
		assert.True(t, table[action].RequireSignature, "action %s", action)
	}
}
