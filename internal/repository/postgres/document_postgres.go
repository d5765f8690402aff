package postgres

import (
	"context"
	"database/sql"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of
// repository.DocumentRepository. It uses database/sql with parameterized
// queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const documentColumns = `id, document_number, title, department, owner_id, current_version_id, status, created_at, updated_at`

// Create inserts the document, its first draft version and the creation
// audit entry in one transaction.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document, first *model.DocumentVersion, entry *model.AuditLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertDoc = `
		INSERT INTO documents (id, document_number, title, department, owner_id, current_version_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var current sql.NullString
	if doc.CurrentVersionID != nil {
		current = sql.NullString{String: *doc.CurrentVersionID, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, insertDoc,
		doc.ID,
		doc.DocumentNumber,
		doc.Title,
		doc.Department,
		doc.OwnerID,
		current,
		doc.Status,
		doc.CreatedAt,
		doc.UpdatedAt,
	); err != nil {
		return err
	}

	if err := insertVersion(ctx, tx, first); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// List returns documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + documentColumns + `
		FROM documents
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{Items: items, Total: total}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*model.Document, error) {
	return scanDocumentRow(row)
}

func scanDocumentRow(row rowScanner) (*model.Document, error) {
	var (
		d       model.Document
		current sql.NullString
	)
	if err := row.Scan(
		&d.ID,
		&d.DocumentNumber,
		&d.Title,
		&d.Department,
		&d.OwnerID,
		&current,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if current.Valid {
		s := current.String
		d.CurrentVersionID = &s
	}
	return &d, nil
}
