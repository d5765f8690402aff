package service

import (
	"context"

	"dmscore/internal/model"
	"dmscore/internal/repository"
)

// AuditService is the read side of the audit ledger. There is deliberately
// no write surface here: entries are only ever written alongside the state
// changes they record.
type AuditService struct {
	audits repository.AuditLogRepository
}

// NewAuditService creates an AuditService.
func NewAuditService(audits repository.AuditLogRepository) *AuditService {
	return &AuditService{audits: audits}
}

// Query returns ledger entries matching the filter, newest first. The
// ledger is read-only here, so transient store failures are retried.
func (s *AuditService) Query(ctx context.Context, f repository.AuditFilter, pq repository.PageQuery) (*repository.PageResult[model.AuditLogEntry], error) {
	page := normalizePage(pq)
	return retryRead(ctx, func() (*repository.PageResult[model.AuditLogEntry], error) {
		return s.audits.Query(ctx, f, page)
	})
}

// Actions returns the distinct action codes present in the ledger, for
// filter dropdowns.
func (s *AuditService) Actions(ctx context.Context) ([]string, error) {
	return retryRead(ctx, func() ([]string, error) {
		return s.audits.Actions(ctx)
	})
}
