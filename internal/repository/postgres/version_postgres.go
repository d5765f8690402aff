package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

// VersionPostgres is a PostgreSQL implementation of
// repository.VersionRepository. Status and content changes are
// compare-and-swap updates so concurrent conflicting transitions serialize
// on the row: only the first to commit succeeds, the second sees
// repository.ErrConflict.
type VersionPostgres struct {
	db *sql.DB
}

// NewVersionPostgres creates a new VersionPostgres repository.
func NewVersionPostgres(db *sql.DB) *VersionPostgres {
	return &VersionPostgres{db: db}
}

var _ repository.VersionRepository = (*VersionPostgres)(nil)

const versionColumns = `id, document_id, version_number, status, content_key, content_hash, author_id,
	change_summary, rejection_reason,
	submitted_at, submitted_by, reviewed_at, reviewed_by, approved_at, approved_by,
	published_at, published_by, rejected_at, rejected_by, archived_at, archived_by,
	created_at, updated_at`

// FindByID fetches a single version by its ID.
func (r *VersionPostgres) FindByID(ctx context.Context, id string) (*model.DocumentVersion, error) {
	q := `SELECT ` + versionColumns + ` FROM document_versions WHERE id = $1`
	return scanVersion(r.db.QueryRowContext(ctx, q, id))
}

// ListByDocument returns a document's versions, newest first.
func (r *VersionPostgres) ListByDocument(ctx context.Context, documentID string, pq repository.PageQuery) (*repository.PageResult[model.DocumentVersion], error) {
	const qCount = `SELECT COUNT(*) FROM document_versions WHERE document_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, documentID).Scan(&total); err != nil {
		return nil, err
	}

	q := `SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, q, documentID, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.DocumentVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &repository.PageResult[model.DocumentVersion]{Items: items, Total: total}, nil
}

// FindActiveEditing returns the version of the document currently
// mid-workflow, or sql.ErrNoRows if none.
func (r *VersionPostgres) FindActiveEditing(ctx context.Context, documentID string) (*model.DocumentVersion, error) {
	q := `SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1 AND status IN ('DRAFT', 'UNDER_REVIEW', 'PENDING_APPROVAL', 'APPROVED')
		ORDER BY version_number DESC
		LIMIT 1`
	return scanVersion(r.db.QueryRowContext(ctx, q, documentID))
}

// FindPublished returns the document's currently published version, or
// sql.ErrNoRows if none.
func (r *VersionPostgres) FindPublished(ctx context.Context, documentID string) (*model.DocumentVersion, error) {
	q := `SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1 AND status = 'PUBLISHED'
		ORDER BY version_number DESC
		LIMIT 1`
	return scanVersion(r.db.QueryRowContext(ctx, q, documentID))
}

// NextVersionNumber returns max(version_number)+1 for the document.
// Version numbers are strictly increasing and never reused, so the max is
// taken over all rows including archived and rejected ones.
func (r *VersionPostgres) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	const q = `SELECT COALESCE(MAX(version_number), 0) + 1 FROM document_versions WHERE document_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, documentID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Create inserts a new draft version together with its audit entry.
func (r *VersionPostgres) Create(ctx context.Context, v *model.DocumentVersion, entry *model.AuditLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertVersion(ctx, tx, v); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyTransition performs a CAS status change and writes the audit entry
// in the same transaction.
func (r *VersionPostgres) ApplyTransition(ctx context.Context, upd repository.TransitionUpdate, entry *model.AuditLogEntry) error {
	set := `status = $1, updated_at = $2`
	args := []any{string(upd.To), upd.At}

	switch upd.Stamp {
	case repository.StampSubmitted:
		set += `, submitted_at = $3, submitted_by = $4`
	case repository.StampReviewed:
		set += `, reviewed_at = $3, reviewed_by = $4`
	case repository.StampApproved:
		set += `, approved_at = $3, approved_by = $4`
	case repository.StampRejected:
		set += `, rejected_at = $3, rejected_by = $4, rejection_reason = $7`
	case repository.StampArchived:
		set += `, archived_at = $3, archived_by = $4`
	default:
		return fmt.Errorf("unknown stamp field %q", upd.Stamp)
	}
	args = append(args, upd.At, upd.ActorID)

	q := fmt.Sprintf(`UPDATE document_versions SET %s WHERE id = $5 AND status = $6`, set)
	args = append(args, upd.VersionID, string(upd.From))
	if upd.Stamp == repository.StampRejected {
		args = append(args, upd.Comment)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrConflict
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// Publish promotes the version, updates the document's current version
// pointer, and archives the prior published version, all in one
// transaction. The archive entry is written only when the prior version
// row actually flipped from PUBLISHED.
func (r *VersionPostgres) Publish(ctx context.Context, upd repository.PublishUpdate, entry, archiveEntry *model.AuditLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const promote = `
		UPDATE document_versions
		SET status = 'PUBLISHED', published_at = $1, published_by = $2, updated_at = $1
		WHERE id = $3 AND status = 'APPROVED'
	`
	res, err := tx.ExecContext(ctx, promote, upd.At, upd.ActorID, upd.VersionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrConflict
	}

	if upd.PriorPublishedID != nil {
		const retire = `
			UPDATE document_versions
			SET status = 'ARCHIVED', archived_at = $1, archived_by = $2, updated_at = $1
			WHERE id = $3 AND status = 'PUBLISHED'
		`
		res, err := tx.ExecContext(ctx, retire, upd.At, upd.ActorID, *upd.PriorPublishedID)
		if err != nil {
			return err
		}
		archived, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if archived > 0 {
			if err := insertAudit(ctx, tx, archiveEntry); err != nil {
				return err
			}
		}
	}

	const point = `
		UPDATE documents
		SET current_version_id = $1, status = 'PUBLISHED', updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.ExecContext(ctx, point, upd.VersionID, upd.At, upd.DocumentID); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateContent performs a CAS content change on a draft version. The
// stored hash must still match BaseHash and the row must still be a draft,
// otherwise nothing changes and ErrConflict is returned.
func (r *VersionPostgres) UpdateContent(ctx context.Context, upd repository.ContentUpdate, entry *model.AuditLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
		UPDATE document_versions
		SET content_key = $1, content_hash = $2, updated_at = $3
		WHERE id = $4 AND content_hash = $5 AND status = 'DRAFT'
	`
	res, err := tx.ExecContext(ctx, q, upd.NewKey, upd.NewHash, upd.At, upd.VersionID, upd.BaseHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrConflict
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVersion(ctx context.Context, ex execer, v *model.DocumentVersion) error {
	const q = `
		INSERT INTO document_versions (id, document_id, version_number, status, content_key, content_hash, author_id, change_summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := ex.ExecContext(ctx, q,
		v.ID,
		v.DocumentID,
		v.VersionNumber,
		string(v.Status),
		v.ContentKey,
		v.ContentHash,
		v.AuthorID,
		v.ChangeSummary,
		v.CreatedAt,
		v.UpdatedAt,
	)
	return err
}

func scanVersion(row rowScanner) (*model.DocumentVersion, error) {
	var (
		v               model.DocumentVersion
		status          string
		changeSummary   sql.NullString
		rejectionReason sql.NullString
	)
	var (
		submittedAt, reviewedAt, approvedAt, publishedAt, rejectedAt, archivedAt sql.NullTime
		submittedBy, reviewedBy, approvedBy, publishedBy, rejectedBy, archivedBy sql.NullString
	)

	if err := row.Scan(
		&v.ID,
		&v.DocumentID,
		&v.VersionNumber,
		&status,
		&v.ContentKey,
		&v.ContentHash,
		&v.AuthorID,
		&changeSummary,
		&rejectionReason,
		&submittedAt, &submittedBy,
		&reviewedAt, &reviewedBy,
		&approvedAt, &approvedBy,
		&publishedAt, &publishedBy,
		&rejectedAt, &rejectedBy,
		&archivedAt, &archivedBy,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		return nil, err
	}

	v.Status = model.VersionStatus(status)
	v.ChangeSummary = changeSummary.String
	v.RejectionReason = rejectionReason.String
	v.SubmittedAt, v.SubmittedBy = nullStamp(submittedAt, submittedBy)
	v.ReviewedAt, v.ReviewedBy = nullStamp(reviewedAt, reviewedBy)
	v.ApprovedAt, v.ApprovedBy = nullStamp(approvedAt, approvedBy)
	v.PublishedAt, v.PublishedBy = nullStamp(publishedAt, publishedBy)
	v.RejectedAt, v.RejectedBy = nullStamp(rejectedAt, rejectedBy)
	v.ArchivedAt, v.ArchivedBy = nullStamp(archivedAt, archivedBy)
	return &v, nil
}

func nullStamp(at sql.NullTime, by sql.NullString) (*time.Time, *string) {
	var t *time.Time
	var s *string
	if at.Valid {
		v := at.Time
		t = &v
	}
	if by.Valid {
		v := by.String
		s = &v
	}
	return t, s
}
