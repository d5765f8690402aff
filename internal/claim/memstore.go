package claim

import (
	"context"
	"sync"
	"time"

	"dmscore/internal/model"
)

// MemStore is an in-memory Store implementation. It keeps released records
// so token-state queries and audit history behave like the durable store.
// Safe for concurrent use; unit tests and single-node deployments use it.
type MemStore[K comparable] struct {
	mu      sync.RWMutex
	byKey   map[K]*Record[K]
	byToken map[string]*Record[K]
	ledger  []*model.AuditLogEntry
	seq     int64
}

// NewMemStore creates an empty in-memory claim store.
func NewMemStore[K comparable]() *MemStore[K] {
	return &MemStore[K]{
		byKey:   make(map[K]*Record[K]),
		byToken: make(map[string]*Record[K]),
	}
}

var _ Store[string] = (*MemStore[string])(nil)

func (s *MemStore[K]) Get(ctx context.Context, key K) (*Record[K], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemStore[K]) FindByToken(ctx context.Context, token string) (*Record[K], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemStore[K]) Create(ctx context.Context, rec *Record[K], entry *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.byKey[rec.Key] = &cp
	s.byToken[rec.Token] = &cp
	s.append(entry)
	return nil
}

func (s *MemStore[K]) Extend(ctx context.Context, token string, expiresAt, heartbeat time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	rec.ExpiresAt = expiresAt
	rec.LastHeartbeat = heartbeat
	return nil
}

func (s *MemStore[K]) Release(ctx context.Context, token string, at time.Time, reason string, entry *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	t := at
	rec.ReleasedAt = &t
	rec.ReleaseReason = reason
	s.append(entry)
	return nil
}

func (s *MemStore[K]) ListExpired(ctx context.Context, now time.Time) ([]K, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []K
	for key, rec := range s.byKey {
		if rec.ReleasedAt == nil && !now.Before(rec.ExpiresAt) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemStore[K]) append(entry *model.AuditLogEntry) {
	if entry == nil {
		return
	}
	s.seq++
	cp := *entry
	cp.ID = s.seq
	s.ledger = append(s.ledger, &cp)
}

// Ledger returns the audit entries recorded so far, in append order.
func (s *MemStore[K]) Ledger() []*model.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.AuditLogEntry, len(s.ledger))
	copy(out, s.ledger)
	return out
}
