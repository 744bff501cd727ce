package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound means nothing was ever saved.
	ErrNotFound = errors.New("storage: not found")
	// ErrCorrupt means saved data exists but cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt data")
	// ErrUnavailable means the medium could not be read or written.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Config configures storage.
//
// Driver values: "file", "sqlite", "memory". Empty or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	JournalMax  int           // sessions kept in the journal; 0 means 500
}

const defaultJournalMax = 500

// Record is one persisted schedule slot.
type Record struct {
	Enabled  bool `json:"enabled"`
	Channel  int  `json:"channel"`
	Hour     int  `json:"hour"`
	Minute   int  `json:"minute"`
	Duration int  `json:"duration"`
	Weekdays int  `json:"weekdays"`
}

// DefaultRecord supplies the value of every field missing from a stored
// schedule.
var DefaultRecord = Record{
	Enabled:  false,
	Channel:  1,
	Hour:     0,
	Minute:   0,
	Duration: 30,
	Weekdays: 0x7F,
}

// SessionEntry is one finished irrigation session.
type SessionEntry struct {
	ID               string    `json:"id"`
	Channel          int       `json:"channel"`
	Origin           string    `json:"origin"`
	Slot             int       `json:"slot"`
	Reason           string    `json:"reason"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	EndedAt          time.Time `json:"ended_at,omitzero"`
	RequestedMinutes int       `json:"requested_minutes"`
	ElapsedSeconds   int64     `json:"elapsed_seconds"`
}

// Store is the persistence API used by the irrigation core and the app.
type Store interface {
	// SaveSchedules replaces the stored schedule set atomically.
	SaveSchedules(ctx context.Context, recs []Record) error
	// LoadSchedules returns ErrNotFound when nothing was saved yet and
	// ErrCorrupt when the stored data cannot be decoded.
	LoadSchedules(ctx context.Context) ([]Record, error)

	AppendSession(ctx context.Context, e SessionEntry) error
	// RecentSessions returns up to limit entries, newest first.
	RecentSessions(ctx context.Context, limit int) ([]SessionEntry, error)

	Close() error
}
