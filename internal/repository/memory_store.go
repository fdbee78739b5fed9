package repository

import (
	"context"
	"sync"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
)

type memoryRecord struct {
	data    []byte
	version int64
}

// MemoryStore keeps encoded snapshots in process memory. Used for local runs
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*domain.Cart, error) {
	s.mu.RLock()
	rec, ok := s.records[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCartNotFound
	}

	lines, err := decodeLines(rec.data)
	if err != nil {
		return nil, err
	}
	return &domain.Cart{SessionID: sessionID, Lines: lines, Version: rec.version}, nil
}

func (s *MemoryStore) Save(_ context.Context, cart *domain.Cart) error {
	data, err := encodeLines(cart.Lines)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// a missing record counts as version 0
	if s.records[cart.SessionID].version != cart.Version {
		return ErrVersionConflict
	}
	next := cart.Version + 1
	s.records[cart.SessionID] = memoryRecord{data: data, version: next}
	cart.Version = next
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
