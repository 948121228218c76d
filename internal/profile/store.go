package profile

import (
	"context"
	"sync"

	"github.com/raphaelgruber/intake-go/internal/models"
)

// Store is the persistence capability the merge engine writes through.
// Each slot write is independent; no multi-slot transaction is assumed.
type Store interface {
	// GetField returns the slot's value and last-write confidence stamp.
	// found=false means the slot was never written.
	GetField(ctx context.Context, sessionID, slot string) (value any, stamp models.Confidence, found bool, err error)
	// SetField writes the slot value and records the stamp alongside it.
	SetField(ctx context.Context, sessionID, slot string, value any, stamp models.Confidence) error
}

// SlotValue is one stored slot with its stamp.
type SlotValue struct {
	Value      any               `json:"value"`
	Confidence models.Confidence `json:"confidence"`
}

// MemoryStore is an in-process Store for tests and DB-less development.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]SlotValue
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]SlotValue)}
}

func (s *MemoryStore) GetField(_ context.Context, sessionID, slot string) (any, models.Confidence, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.sessions[sessionID][slot]
	if !ok {
		return nil, models.ConfidenceNone, false, nil
	}
	return sv.Value, sv.Confidence, true, nil
}

func (s *MemoryStore) SetField(_ context.Context, sessionID, slot string, value any, stamp models.Confidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sessionID] == nil {
		s.sessions[sessionID] = make(map[string]SlotValue)
	}
	s.sessions[sessionID][slot] = SlotValue{Value: value, Confidence: stamp}
	return nil
}

// Snapshot returns a copy of all slots for a session.
func (s *MemoryStore) Snapshot(sessionID string) map[string]SlotValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SlotValue, len(s.sessions[sessionID]))
	for slot, sv := range s.sessions[sessionID] {
		out[slot] = sv
	}
	return out
}
