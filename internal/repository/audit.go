package repository

import (
	"context"
	"time"

	"dmscore/internal/model"
)

// AuditFilter narrows an audit log query. Zero values mean "no filter".
type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	ActorID    string
	ActorName  string
	From       time.Time
	To         time.Time
}

// AuditLogRepository provides append and read access to the audit ledger.
// The ledger is append-only: there are deliberately no update or delete
// operations in this contract.
type AuditLogRepository interface {
	// Append writes one entry. Used for events that do not accompany a
	// record mutation (e.g. failed logins); mutations commit their entry
	// in the mutation's own transaction instead.
	Append(ctx context.Context, entry *model.AuditLogEntry) error

	// Query returns entries matching the filter ordered by timestamp
	// descending, ties broken by insertion sequence, paginated.
	Query(ctx context.Context, f AuditFilter, pq PageQuery) (*PageResult[model.AuditLogEntry], error)

	// Actions returns the distinct action codes present in the ledger.
	Actions(ctx context.Context) ([]string, error)
}
