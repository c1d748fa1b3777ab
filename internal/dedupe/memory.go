package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

// MemoryStore is a process-local SeenStore. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: map[string]time.Time{},
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) HasSeen(ctx context.Context, id string) (bool, error) {
	record, err := s.Get(ctx, id)
	return record != nil, err
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*core.SeenRecord, error) {
	_ = ctx
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sentAt, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	if expired(sentAt, s.ttl, s.now()) {
		delete(s.records, id)
		return nil, nil
	}
	return &core.SeenRecord{ItemID: id, SentAt: sentAt}, nil
}

func (s *MemoryStore) MarkSeen(ctx context.Context, id string) error {
	_ = ctx
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return nil
	}
	s.records[id] = s.now().UTC()
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
