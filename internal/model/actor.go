package model

// Role names supplied by the external identity provider.
const (
	RoleAuthor   = "Author"
	RoleReviewer = "Reviewer"
	RoleApprover = "Approver"
	RoleAdmin    = "Admin"
)

// Actor identifies who is performing an operation. It is populated per
// request by the identity/authorization collaborator; this core only checks
// role membership, it does not manage credentials.
type Actor struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the actor carries the named role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// ClientMeta carries request context recorded on locks and audit entries.
type ClientMeta struct {
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}
