package storage

import (
	"context"
	"fmt"
	"sync"

	"deepresearch/internal/research"
)

// MemoryStorage keeps everything in process memory. Default backend for
// tests and for running without infrastructure.
type MemoryStorage struct {
	mu           sync.RWMutex
	sessions     map[string]research.Session
	pages        map[string][]research.PageRecord
	history      []research.Session
	historyLimit int
}

func NewMemoryStorage(historyLimit int) *MemoryStorage {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &MemoryStorage{
		sessions:     make(map[string]research.Session),
		pages:        make(map[string][]research.PageRecord),
		historyLimit: historyLimit,
	}
}

func (m *MemoryStorage) SaveSession(_ context.Context, s *research.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStorage) SavePage(_ context.Context, sessionID string, p research.PageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[sessionID] = append(m.pages[sessionID], p)
	return nil
}

func (m *MemoryStorage) SaveFinalAnswer(_ context.Context, sessionID, answer, summary string, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.FinalAnswer = answer
	s.Summary = summary
	s.Confidence = confidence
	m.sessions[sessionID] = s
	return nil
}

// AppendHistory prepends the session snapshot and truncates to the cap,
// most recent first.
func (m *MemoryStorage) AppendHistory(_ context.Context, s *research.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]research.Session{*s}, m.history...)
	if len(m.history) > m.historyLimit {
		m.history = m.history[:m.historyLimit]
	}
	return nil
}

func (m *MemoryStorage) GetSession(_ context.Context, id string) (*research.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &s, nil
}

func (m *MemoryStorage) History(_ context.Context, limit int) ([]*research.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]*research.Session, 0, limit)
	for i := 0; i < limit; i++ {
		s := m.history[i]
		out = append(out, &s)
	}
	return out, nil
}

// Pages returns the recorded pages for a session. Not part of the
// Storage interface; used by the API layer when memory storage is
// active.
func (m *MemoryStorage) Pages(sessionID string) []research.PageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]research.PageRecord, len(m.pages[sessionID]))
	copy(out, m.pages[sessionID])
	return out
}
