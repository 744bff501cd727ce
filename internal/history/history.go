// Package history records finished irrigation sessions: the storage
// journal and, optionally, InfluxDB.
package history

import (
	"context"
	"time"

	"valvectl/internal/eventbus"
	"valvectl/internal/irrigation"
	"valvectl/internal/storage"
	logx "valvectl/pkg/logx"
)

// Sink receives one entry per finished session.
type Sink interface {
	Name() string
	Record(ctx context.Context, e storage.SessionEntry) error
}

// Recorder fans finished sessions out to its sinks.
type Recorder struct {
	sinks   []Sink
	log     logx.Logger
	timeout time.Duration
}

func NewRecorder(log logx.Logger, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, log: log.With(logx.String("comp", "history")), timeout: 5 * time.Second}
}

func (r *Recorder) Empty() bool { return len(r.sinks) == 0 }

// Run consumes session-stopped events until ctx is done. Sink failures are
// logged and never block the controller.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsubscribe := bus.Subscribe(64, irrigation.EventSessionStopped)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			se, ok := ev.Data.(irrigation.SessionEvent)
			if !ok {
				continue
			}
			r.record(ctx, Entry(se, ev.Time))
		}
	}
}

func (r *Recorder) record(ctx context.Context, e storage.SessionEntry) {
	for _, s := range r.sinks {
		wctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Record(wctx, e)
		cancel()
		if err != nil {
			r.log.Warn("session record failed", logx.String("sink", s.Name()), logx.String("session", e.ID), logx.Err(err))
		}
	}
}

// Entry converts a stop event. fallback stamps EndedAt when wall time was
// not valid at the stop.
func Entry(se irrigation.SessionEvent, fallback time.Time) storage.SessionEntry {
	ended := se.EndedAt
	if ended.IsZero() {
		ended = fallback
	}
	return storage.SessionEntry{
		ID:               se.ID,
		Channel:          se.Channel,
		Origin:           string(se.Origin),
		Slot:             se.Slot,
		Reason:           string(se.Reason),
		StartedAt:        se.StartedAt,
		EndedAt:          ended,
		RequestedMinutes: se.RequestedMinutes,
		ElapsedSeconds:   int64(se.Elapsed / time.Second),
	}
}

// Journal appends entries to the storage session journal.
type Journal struct{ Store storage.Store }

func (Journal) Name() string { return "journal" }

func (j Journal) Record(ctx context.Context, e storage.SessionEntry) error {
	return j.Store.AppendSession(ctx, e)
}
