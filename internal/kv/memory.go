package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value    string
	expireAt time.Time
}

// MemoryStore is an in-process Store used in tests and when REDIS_ADDR
// is not configured. TTLs are honored lazily on read.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]entry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string]entry)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || (!e.expireAt.IsZero() && time.Now().After(e.expireAt)) {
		delete(m.data, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var keys []string
	for k, e := range m.data {
		if !e.expireAt.IsZero() && now.After(e.expireAt) {
			delete(m.data, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
