package cas

import (
	"sync"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

// MemStore is an in-memory Store, used by tests and by shadow governance
// forks that need a cheap copy-on-read overlay.
type MemStore struct {
	mu    sync.RWMutex
	nodes map[string][]byte
	blobs map[string][]byte
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes: make(map[string][]byte),
		blobs: make(map[string][]byte),
	}
}

func (s *MemStore) PutNode(v interface{}) (string, error) {
	hash, raw, err := encodeNode(v)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[hash]; !exists {
		s.nodes[hash] = raw
	}
	return hash, nil
}

func (s *MemStore) GetNode(hash string, out interface{}) error {
	s.mu.RLock()
	raw, ok := s.nodes[hash]
	s.mu.RUnlock()
	if !ok {
		return &NotFound{Kind: "node", Hash: hash}
	}
	if err := verifyHash("node", hash, raw); err != nil {
		return err
	}
	if err := ccbor.Unmarshal(raw, out); err != nil {
		return aoserr.Wrap(aoserr.KindStore, "decode node "+hash, err)
	}
	return nil
}

func (s *MemStore) HasNode(hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[hash]
	return ok, nil
}

func (s *MemStore) PutBlob(data []byte) (string, error) {
	hash := ccbor.Hash(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[hash]; !exists {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.blobs[hash] = cp
	}
	return hash, nil
}

func (s *MemStore) GetBlob(hash string) ([]byte, error) {
	s.mu.RLock()
	raw, ok := s.blobs[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFound{Kind: "blob", Hash: hash}
	}
	if err := verifyHash("blob", hash, raw); err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *MemStore) HasBlob(hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

// Clone returns a deep, independent copy — used to fork a store for
// governance shadow runs without touching the original.
func (s *MemStore) Clone() *MemStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := NewMemStore()
	for k, v := range s.nodes {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.nodes[k] = cp
	}
	for k, v := range s.blobs {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.blobs[k] = cp
	}
	return clone
}

var _ Store = (*MemStore)(nil)
