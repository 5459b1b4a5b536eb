package storage

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps blobs in process memory; nothing survives a restart.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore returns an empty store whose entries never expire.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	if x, found := s.cache.Get(key); found {
		data := x.([]byte)
		return append([]byte(nil), data...), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Save(_ context.Context, key string, data []byte) error {
	s.cache.Set(key, append([]byte(nil), data...), cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
