package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

// AuditLogPostgres is a PostgreSQL implementation of
// repository.AuditLogRepository. The table is append-only: this type has no
// UPDATE or DELETE statements, and the schema grants none.
type AuditLogPostgres struct {
	db *sql.DB
}

// NewAuditLogPostgres creates a new AuditLogPostgres repository.
func NewAuditLogPostgres(db *sql.DB) *AuditLogPostgres {
	return &AuditLogPostgres{db: db}
}

var _ repository.AuditLogRepository = (*AuditLogPostgres)(nil)

// execer covers *sql.DB and *sql.Tx for the shared insert helper.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertAudit writes one ledger row. Callers inside a transaction pass the
// tx so the entry commits atomically with its mutation.
func insertAudit(ctx context.Context, ex execer, entry *model.AuditLogEntry) error {
	if entry == nil {
		return nil
	}
	var details []byte
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}
	var actorID sql.NullString
	if entry.ActorID != nil {
		actorID = sql.NullString{String: *entry.ActorID, Valid: true}
	}
	const q = `
		INSERT INTO audit_logs (actor_id, actor_name, action, entity_type, entity_id, description, details, ip_address, user_agent, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := ex.ExecContext(ctx, q,
		actorID,
		entry.ActorName,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.Description,
		details,
		entry.IPAddress,
		entry.UserAgent,
		entry.Timestamp,
	)
	return err
}

// Append writes a single standalone entry.
func (r *AuditLogPostgres) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	return insertAudit(ctx, r.db, entry)
}

// Query returns entries matching the filter, newest first, ties broken by
// the insertion sequence.
func (r *AuditLogPostgres) Query(ctx context.Context, f repository.AuditFilter, pq repository.PageQuery) (*repository.PageResult[model.AuditLogEntry], error) {
	where, args := buildAuditWhere(f)

	var total int
	countQ := "SELECT COUNT(*) FROM audit_logs" + where
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, err
	}

	listQ := `SELECT id, actor_id, actor_name, action, entity_type, entity_id, description, details, ip_address, user_agent, ts FROM audit_logs` +
		where +
		fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQ, append(args, pq.Limit, pq.Offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e       model.AuditLogEntry
			actorID sql.NullString
			details []byte
		)
		if err := rows.Scan(
			&e.ID,
			&actorID,
			&e.ActorName,
			&e.Action,
			&e.EntityType,
			&e.EntityID,
			&e.Description,
			&details,
			&e.IPAddress,
			&e.UserAgent,
			&e.Timestamp,
		); err != nil {
			return nil, err
		}
		if actorID.Valid {
			s := actorID.String
			e.ActorID = &s
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.AuditLogEntry]{Items: items, Total: total}, nil
}

// Actions returns the distinct action codes present in the ledger.
func (r *AuditLogPostgres) Actions(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT action FROM audit_logs ORDER BY action`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func buildAuditWhere(f repository.AuditFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.ActorName != "" {
		add("actor_name ILIKE '%%' || $%d || '%%'", f.ActorName)
	}
	if !f.From.IsZero() {
		add("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
