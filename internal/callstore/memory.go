package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
)

// MemoryStore is a single-process store for local runs and tests. Sessions
// are stored as JSON so callers never share mutable state with the store.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string][]byte
	transcripts map[string][]dialogue.TranscriptEntry
	locks       map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string][]byte),
		transcripts: make(map[string][]dialogue.TranscriptEntry),
		locks:       make(map[string]bool),
	}
}

func (m *MemoryStore) Save(_ context.Context, s *dialogue.CallSession) error {
	if s == nil || s.ID == "" {
		return errors.New("callstore: session id required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("callstore: marshal session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = data
	return nil
}

func (m *MemoryStore) Load(_ context.Context, callID string) (*dialogue.CallSession, error) {
	m.mu.Lock()
	data, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s dialogue.CallSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("callstore: unmarshal session: %w", err)
	}
	return &s, nil
}

func (m *MemoryStore) Lock(_ context.Context, callID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[callID] {
		return nil, ErrTurnInProgress
	}
	m.locks[callID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.locks, callID)
			m.mu.Unlock()
		})
	}, nil
}

func (m *MemoryStore) AppendTranscript(_ context.Context, callID string, entries ...dialogue.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		m.transcripts[callID] = append(m.transcripts[callID], e)
	}
	return nil
}

func (m *MemoryStore) Transcript(_ context.Context, callID string) ([]dialogue.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dialogue.TranscriptEntry(nil), m.transcripts[callID]...), nil
}
