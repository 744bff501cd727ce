package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "valvectl/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const metaSavedAt = "schedules_saved_at"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	journalMax int
	appends    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, journalMax: cfg.JournalMax, pruneEvery: 50}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSchedules(ctx context.Context, recs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO schedules(slot, enabled, channel, hour, minute, duration, weekdays) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer stmt.Close()
	for i, r := range recs {
		if _, err := stmt.ExecContext(ctx, i, boolInt(r.Enabled), r.Channel, r.Hour, r.Minute, r.Duration, r.Weekdays); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(k, v) VALUES(?, ?) ON CONFLICT(k) DO UPDATE SET v=excluded.v`,
		metaSavedAt, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) ([]Record, error) {
	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, metaSavedAt).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT enabled, channel, hour, minute, duration, weekdays FROM schedules ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			enabled int
		)
		if err := rows.Scan(&enabled, &r.Channel, &r.Hour, &r.Minute, &r.Duration, &r.Weekdays); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (s *sqliteStore) AppendSession(ctx context.Context, e SessionEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, channel, origin, slot, reason, started_at, ended_at, requested_minutes, elapsed_seconds)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Channel, e.Origin, e.Slot, e.Reason,
		nullTime(e.StartedAt), nullTime(e.EndedAt), e.RequestedMinutes, e.ElapsedSeconds,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if s.journalMax > 0 && s.appends.Add(1)%s.pruneEvery == 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Debug("session journal prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) RecentSessions(ctx context.Context, limit int) ([]SessionEntry, error) {
	if limit <= 0 {
		limit = s.journalMax
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, origin, slot, reason, started_at, ended_at, requested_minutes, elapsed_seconds
		 FROM sessions ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []SessionEntry
	for rows.Next() {
		var (
			e              SessionEntry
			started, ended sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Channel, &e.Origin, &e.Slot, &e.Reason,
			&started, &ended, &e.RequestedMinutes, &e.ElapsedSeconds); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		e.StartedAt = parseNullTime(started)
		e.EndedAt = parseNullTime(ended)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err := s.db.ExecContext(pctx,
		`DELETE FROM sessions WHERE seq <= (SELECT MAX(seq) FROM sessions) - ?`, s.journalMax)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
