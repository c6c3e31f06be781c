// Package memory provides an in-memory blob store for tests.
package memory

import (
	"context"
	"sync"
)

// BlobStore keeps written blobs in a map.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New returns an empty BlobStore.
func New() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

// Put stores data under path and returns a mem:// URI.
func (s *BlobStore) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = cp
	return "mem://" + path, nil
}

// Get returns the blob stored under path.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	return data, ok
}

// Len returns the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
