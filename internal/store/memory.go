package store

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Useful for tests and for
// ephemeral clients that should re-pair on every start.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	updated map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string][]byte),
		updated: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	s.updated[key] = time.Now()
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.updated, key)
	return nil
}

func (s *MemoryStore) List(prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []Entry
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, Entry{Key: k, UpdatedAt: s.updated[k]})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func (s *MemoryStore) Close() error { return nil }
