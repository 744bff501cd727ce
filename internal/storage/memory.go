package storage

import (
	"context"
	"sync"
)

// Memory keeps everything in process memory. Useful for tests and dry runs.
// SetFail makes every write return ErrUnavailable.
type Memory struct {
	mu         sync.Mutex
	schedules  []Record
	saved      bool
	sessions   []SessionEntry
	journalMax int

	fail  bool
	saves int
}

func NewMemory(journalMax int) *Memory {
	if journalMax <= 0 {
		journalMax = defaultJournalMax
	}
	return &Memory{journalMax: journalMax}
}

func (m *Memory) SaveSchedules(_ context.Context, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return ErrUnavailable
	}
	m.schedules = append([]Record(nil), recs...)
	m.saved = true
	m.saves++
	return nil
}

func (m *Memory) LoadSchedules(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return nil, ErrNotFound
	}
	return append([]Record(nil), m.schedules...), nil
}

func (m *Memory) AppendSession(_ context.Context, e SessionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return ErrUnavailable
	}
	m.sessions = append(m.sessions, e)
	if len(m.sessions) > m.journalMax {
		m.sessions = append([]SessionEntry(nil), m.sessions[len(m.sessions)-m.journalMax:]...)
	}
	return nil
}

func (m *Memory) RecentSessions(_ context.Context, limit int) ([]SessionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.sessions, limit), nil
}

// SetFail toggles write failures.
func (m *Memory) SetFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

// SaveCount reports successful schedule writes.
func (m *Memory) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
