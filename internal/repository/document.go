package repository

import (
	"context"

	"dmscore/internal/model"
)

// DocumentRepository defines data access for document identities.
// No business logic here — strictly persistence operations.
type DocumentRepository interface {
	// Create inserts the document together with its first draft version
	// and the creation audit entry in one transaction.
	Create(ctx context.Context, doc *model.Document, first *model.DocumentVersion, entry *model.AuditLogEntry) error

	// FindByID returns a document by its ID.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// List returns a paginated list of documents and total rows count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Document], error)
}
