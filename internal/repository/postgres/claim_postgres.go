package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dmscore/internal/claim"
	"dmscore/internal/model"
)

// ClaimPostgres is a PostgreSQL claim.Store backing either the edit_locks
// or the sessions table: both carry the same exclusive-claim shape and
// differ only in table and key column names. A partial unique index on the
// key column (WHERE released_at IS NULL) makes "at most one live claim per
// key" a database invariant, not just an application one.
type ClaimPostgres struct {
	db     *sql.DB
	table  string
	keyCol string
}

// NewEditLockStore creates the claim store over edit_locks (key = version id).
func NewEditLockStore(db *sql.DB) *ClaimPostgres {
	return &ClaimPostgres{db: db, table: "edit_locks", keyCol: "version_id"}
}

// NewSessionStore creates the claim store over sessions (key = user id).
func NewSessionStore(db *sql.DB) *ClaimPostgres {
	return &ClaimPostgres{db: db, table: "sessions", keyCol: "user_id"}
}

var _ claim.Store[string] = (*ClaimPostgres)(nil)

func (s *ClaimPostgres) columns() string {
	return fmt.Sprintf(`%s, holder_id, holder_name, token, acquired_at, expires_at, last_heartbeat, released_at, release_reason, session_id, ip_address, user_agent`, s.keyCol)
}

// Get returns the most recent claim record for key, released or not.
func (s *ClaimPostgres) Get(ctx context.Context, key string) (*claim.Record[string], error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY acquired_at DESC, id DESC LIMIT 1`, s.columns(), s.table, s.keyCol)
	return s.scan(s.db.QueryRowContext(ctx, q, key))
}

// FindByToken returns the claim carrying the token, released or not.
func (s *ClaimPostgres) FindByToken(ctx context.Context, token string) (*claim.Record[string], error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE token = $1`, s.columns(), s.table)
	return s.scan(s.db.QueryRowContext(ctx, q, token))
}

// Create inserts a fresh claim row and its audit entry in one transaction.
func (s *ClaimPostgres) Create(ctx context.Context, rec *claim.Record[string], entry *model.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`
		INSERT INTO %s (%s, holder_id, holder_name, token, acquired_at, expires_at, last_heartbeat, session_id, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.table, s.keyCol)
	if _, err := tx.ExecContext(ctx, q,
		rec.Key,
		rec.HolderID,
		rec.HolderName,
		rec.Token,
		rec.AcquiredAt,
		rec.ExpiresAt,
		rec.LastHeartbeat,
		rec.Meta.SessionID,
		rec.Meta.IPAddress,
		rec.Meta.UserAgent,
	); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// Extend moves the deadline and heartbeat of a live claim forward.
func (s *ClaimPostgres) Extend(ctx context.Context, token string, expiresAt, heartbeat time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET expires_at = $1, last_heartbeat = $2 WHERE token = $3 AND released_at IS NULL`, s.table)
	res, err := s.db.ExecContext(ctx, q, expiresAt, heartbeat, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return claim.ErrNotFound
	}
	return nil
}

// Release marks the claim released and writes the audit entry atomically.
func (s *ClaimPostgres) Release(ctx context.Context, token string, at time.Time, reason string, entry *model.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`UPDATE %s SET released_at = $1, release_reason = $2 WHERE token = $3 AND released_at IS NULL`, s.table)
	res, err := tx.ExecContext(ctx, q, at, reason, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return claim.ErrNotFound
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// ListExpired returns keys of claims past their deadline with no release
// recorded.
func (s *ClaimPostgres) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE released_at IS NULL AND expires_at <= $1`, s.keyCol, s.table)
	rows, err := s.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *ClaimPostgres) scan(row *sql.Row) (*claim.Record[string], error) {
	var (
		rec           claim.Record[string]
		releasedAt    sql.NullTime
		releaseReason sql.NullString
	)
	if err := row.Scan(
		&rec.Key,
		&rec.HolderID,
		&rec.HolderName,
		&rec.Token,
		&rec.AcquiredAt,
		&rec.ExpiresAt,
		&rec.LastHeartbeat,
		&releasedAt,
		&releaseReason,
		&rec.Meta.SessionID,
		&rec.Meta.IPAddress,
		&rec.Meta.UserAgent,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, claim.ErrNotFound
		}
		return nil, err
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		rec.ReleasedAt = &t
	}
	rec.ReleaseReason = releaseReason.String
	return &rec, nil
}
