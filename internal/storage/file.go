package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "valvectl/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.schedules.json  (whole document, replaced via tmp + rename)
//   - <prefix>.sessions.jsonl  (append-only JSON Lines)
//
// The session journal is compacted to the newest JournalMax entries once it
// grows past twice that size.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	schedulesPath string
	journalPath   string
	journal       *os.File
	journalMax    int
	journalLines  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	journalPath := prefix + ".sessions.jsonl"
	lines, err := countLines(journalPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("session journal unreadable; starting fresh count", logx.String("path", journalPath), logx.Err(err))
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &fileStore{
		log:           log,
		schedulesPath: prefix + ".schedules.json",
		journalPath:   journalPath,
		journal:       jf,
		journalMax:    cfg.JournalMax,
		journalLines:  lines,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) SaveSchedules(ctx context.Context, recs []Record) error {
	_ = ctx
	b, err := encodeSchedules(recs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.schedulesPath, b); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *fileStore) LoadSchedules(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	b, err := os.ReadFile(s.schedulesPath)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return decodeSchedules(b)
}

func (s *fileStore) AppendSession(ctx context.Context, e SessionEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return fmt.Errorf("%w: journal closed", ErrUnavailable)
	}
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.journalLines++
	if s.journalMax > 0 && s.journalLines > 2*s.journalMax {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("session journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentSessions(ctx context.Context, limit int) ([]SessionEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := readJournal(s.journalPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return newestFirst(entries, limit), nil
}

// compactLocked rewrites the journal with its newest journalMax entries.
func (s *fileStore) compactLocked() error {
	entries, err := readJournal(s.journalPath)
	if err != nil {
		return err
	}
	if len(entries) > s.journalMax {
		entries = entries[len(entries)-s.journalMax:]
	}

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if err := writeAtomic(s.journalPath, []byte(buf.String())); err != nil {
		return err
	}

	// The old descriptor points at the replaced inode.
	_ = s.journal.Close()
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.journal = nil
		return err
	}
	s.journal = jf
	s.journalLines = len(entries)
	return nil
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readJournal(path string) ([]SessionEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []SessionEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e SessionEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.ID == "" {
			// torn or foreign line
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	r := bufio.NewReader(f)
	for {
		_, err := r.ReadSlice('\n')
		if err == nil {
			n++
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		return n, err
	}
}

func newestFirst(entries []SessionEntry, limit int) []SessionEntry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]SessionEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out
}
