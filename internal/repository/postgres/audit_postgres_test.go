package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

var auditColumnNames = []string{
	"id", "actor_id", "actor_name", "action", "entity_type", "entity_id",
	"description", "details", "ip_address", "user_agent", "ts",
}

func TestAuditAppend(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditLogPostgres(db)
	now := time.Now().UTC()
	actorID := "u1"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sql.NullString{String: "u1", Valid: true}, "alice", model.ActionLoginFailed, model.EntityUser, "u1", "failed login", []byte(nil), "10.0.0.1", "curl", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(context.Background(), &model.AuditLogEntry{
		ActorID:     &actorID,
		ActorName:   "alice",
		Action:      model.ActionLoginFailed,
		EntityType:  model.EntityUser,
		EntityID:    "u1",
		Description: "failed login",
		IPAddress:   "10.0.0.1",
		UserAgent:   "curl",
		Timestamp:   now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditQueryAppliesFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditLogPostgres(db)
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs WHERE action = $1 AND actor_name ILIKE '%' || $2 || '%' AND ts >= $3")).
		WithArgs(model.ActionLockForced, "ali", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows(auditColumnNames).AddRow(
		int64(7), "u9", "alice", model.ActionLockForced, model.EntityEditLock, "v1",
		"force-released edit lock", []byte(`{"reason":"holder on leave"}`), "10.0.0.1", "curl", now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY ts DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs(model.ActionLockForced, "ali", from, 20, 0).
		WillReturnRows(rows)

	res, err := repo.Query(context.Background(),
		repository.AuditFilter{Action: model.ActionLockForced, ActorName: "ali", From: from},
		repository.PageQuery{Limit: 20, Offset: 0},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Items, 1)
	e := res.Items[0]
	assert.Equal(t, int64(7), e.ID)
	require.NotNil(t, e.ActorID)
	assert.Equal(t, "u9", *e.ActorID)
	assert.Equal(t, map[string]any{"reason": "holder on leave"}, e.Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditQueryUnfiltered(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditLogPostgres(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $1 OFFSET $2")).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(auditColumnNames))

	res, err := repo.Query(context.Background(), repository.AuditFilter{}, repository.PageQuery{Limit: 20, Offset: 0})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Items)
}

func TestAuditActions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditLogPostgres(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT action FROM audit_logs ORDER BY action")).
		WillReturnRows(sqlmock.NewRows([]string{"action"}).AddRow("LOCK_ACQUIRED").AddRow("USER_LOGIN"))

	actions, err := repo.Actions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"LOCK_ACQUIRED", "USER_LOGIN"}, actions)
}
