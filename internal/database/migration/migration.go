package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_documents",
		SQL: `CREATE TABLE IF NOT EXISTS documents (
  id                 UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  document_number    TEXT        NOT NULL UNIQUE,
  title              TEXT        NOT NULL,
  department         TEXT        NOT NULL DEFAULT '',
  owner_id           UUID        NOT NULL,
  current_version_id UUID,
  status             TEXT        NOT NULL DEFAULT 'DRAFT',
  created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_table_document_versions",
		SQL: `CREATE TABLE IF NOT EXISTS document_versions (
  id               UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  document_id      UUID        NOT NULL REFERENCES documents (id),
  version_number   INT         NOT NULL CHECK (version_number >= 1),
  status           TEXT        NOT NULL DEFAULT 'DRAFT',
  content_key      TEXT        NOT NULL DEFAULT '',
  content_hash     TEXT        NOT NULL DEFAULT '',
  author_id        UUID        NOT NULL,
  change_summary   TEXT,
  rejection_reason TEXT,
  submitted_at     TIMESTAMPTZ,
  submitted_by     UUID,
  reviewed_at      TIMESTAMPTZ,
  reviewed_by      UUID,
  approved_at      TIMESTAMPTZ,
  approved_by      UUID,
  published_at     TIMESTAMPTZ,
  published_by     UUID,
  rejected_at      TIMESTAMPTZ,
  rejected_by      UUID,
  archived_at      TIMESTAMPTZ,
  archived_by      UUID,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (document_id, version_number)
);`,
	},
	{
		Name: "create_index_document_versions_status",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_document_versions_status ON document_versions (document_id, status);`,
	},
	{
		Name: "create_table_edit_locks",
		SQL: `CREATE TABLE IF NOT EXISTS edit_locks (
  id             BIGSERIAL   PRIMARY KEY,
  version_id     UUID        NOT NULL REFERENCES document_versions (id),
  holder_id      UUID        NOT NULL,
  holder_name    TEXT        NOT NULL DEFAULT '',
  token          TEXT        NOT NULL UNIQUE,
  acquired_at    TIMESTAMPTZ NOT NULL,
  expires_at     TIMESTAMPTZ NOT NULL,
  last_heartbeat TIMESTAMPTZ NOT NULL,
  released_at    TIMESTAMPTZ,
  release_reason TEXT,
  session_id     TEXT        NOT NULL DEFAULT '',
  ip_address     TEXT        NOT NULL DEFAULT '',
  user_agent     TEXT        NOT NULL DEFAULT ''
);`,
	},
	{
		Name: "create_unique_live_edit_lock",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS uq_edit_locks_live ON edit_locks (version_id) WHERE released_at IS NULL;`,
	},
	{
		Name: "create_index_edit_locks_expires_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_edit_locks_expires_at ON edit_locks (expires_at) WHERE released_at IS NULL;`,
	},
	{
		Name: "create_table_sessions",
		SQL: `CREATE TABLE IF NOT EXISTS sessions (
  id             BIGSERIAL   PRIMARY KEY,
  user_id        UUID        NOT NULL,
  holder_id      UUID        NOT NULL,
  holder_name    TEXT        NOT NULL DEFAULT '',
  token          TEXT        NOT NULL UNIQUE,
  acquired_at    TIMESTAMPTZ NOT NULL,
  expires_at     TIMESTAMPTZ NOT NULL,
  last_heartbeat TIMESTAMPTZ NOT NULL,
  released_at    TIMESTAMPTZ,
  release_reason TEXT,
  session_id     TEXT        NOT NULL DEFAULT '',
  ip_address     TEXT        NOT NULL DEFAULT '',
  user_agent     TEXT        NOT NULL DEFAULT ''
);`,
	},
	{
		Name: "create_unique_live_session",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_live ON sessions (user_id) WHERE released_at IS NULL;`,
	},
	{
		Name: "create_table_audit_logs",
		SQL: `CREATE TABLE IF NOT EXISTS audit_logs (
  id          BIGSERIAL   PRIMARY KEY,
  actor_id    UUID,
  actor_name  TEXT        NOT NULL,
  action      TEXT        NOT NULL,
  entity_type TEXT        NOT NULL,
  entity_id   TEXT        NOT NULL DEFAULT '',
  description TEXT        NOT NULL,
  details     JSONB,
  ip_address  TEXT        NOT NULL DEFAULT '',
  user_agent  TEXT        NOT NULL DEFAULT '',
  ts          TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_audit_logs_ts",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_audit_logs_ts ON audit_logs (ts);`,
	},
	{
		Name: "create_index_audit_logs_entity",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs (entity_type, entity_id);`,
	},
	{
		Name: "create_index_audit_logs_action",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs (action);`,
	},
	{
		Name: "revoke_audit_logs_mutation",
		// The ledger is append-only: the application role keeps INSERT and
		// SELECT, nothing else.
		SQL: `REVOKE UPDATE, DELETE, TRUNCATE ON audit_logs FROM PUBLIC;`,
	},
}

// EnsureMigrated checks if the 'audit_logs' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, loc *time.Location, dbHost string) error {
	start := time.Now()

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_host":   dbHost,
	})

	var exists bool
	query := "SELECT to_regclass('public.audit_logs') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		logJSON(loc, map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_host":       dbHost,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logJSON(loc, map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_host":     dbHost,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_start",
		"status":    "in_progress",
		"db_host":   dbHost,
	})

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			logJSON(loc, map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_host":          dbHost,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logJSON(loc, map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_host":          dbHost,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	logJSON(loc, map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_host":     dbHost,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

func logJSON(loc *time.Location, data map[string]any) {
	data["ts"] = time.Now().In(loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal migration log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
