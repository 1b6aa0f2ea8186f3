package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory with per-entry expiry.
// Sessions are lost on restart and not shared between instances.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore creates a memory store; expired entries are purged every cleanupInterval
func NewMemoryStore(defaultTTL, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (string, error) {
	v, ok := s.c.Get(id)
	if !ok {
		return "", ErrSessionNotFound
	}
	payload, ok := v.(string)
	if !ok {
		return "", ErrSessionNotFound
	}
	return payload, nil
}

func (s *MemoryStore) SaveSession(_ context.Context, id, payload string, ttl time.Duration) error {
	s.c.Set(id, payload, ttl)
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.c.Delete(id)
	return nil
}

// Count returns the number of stored sessions, including expired ones not yet purged
func (s *MemoryStore) Count() int {
	return s.c.ItemCount()
}

func (s *MemoryStore) Close() error {
	s.c.Flush()
	return nil
}
