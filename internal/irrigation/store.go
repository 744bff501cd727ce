package irrigation

import (
	"context"
	"errors"
	"fmt"

	"valvectl/internal/storage"
	logx "valvectl/pkg/logx"
)

// ScheduleBackend is the persistence port of the store.
type ScheduleBackend interface {
	SaveSchedules(ctx context.Context, recs []storage.Record) error
	LoadSchedules(ctx context.Context) ([]storage.Record, error)
}

// Store is a fixed arena of schedule slots. The slot index is the stable
// handle; Add fills the first disabled slot.
//
// Mutations persist immediately. A failed write leaves the in-memory change
// in place, marks the store dirty and is retried through Persist.
type Store struct {
	slots       []Schedule
	maxChannels int
	backend     ScheduleBackend
	log         logx.Logger

	dirty bool
}

// NewStore returns a store with capacity empty slots. backend may be nil for a
// memory-only store.
func NewStore(capacity, maxChannels int, backend ScheduleBackend, log logx.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultMaxSchedules
	}
	if maxChannels <= 0 {
		maxChannels = DefaultMaxChannels
	}
	s := &Store{
		slots:       make([]Schedule, capacity),
		maxChannels: maxChannels,
		backend:     backend,
		log:         log,
	}
	for i := range s.slots {
		s.slots[i] = emptySlot()
	}
	return s
}

func emptySlot() Schedule {
	return Schedule{Channel: 1, Duration: DefaultDuration, Weekdays: AllDays}
}

func (s *Store) Cap() int { return len(s.slots) }

// Count returns the number of enabled slots.
func (s *Store) Count() int {
	n := 0
	for _, sc := range s.slots {
		if sc.Enabled {
			n++
		}
	}
	return n
}

// Dirty reports whether the last write failed.
func (s *Store) Dirty() bool { return s.dirty }

func (s *Store) Add(ctx context.Context, channel, hour, minute, duration int, days Weekdays) (int, error) {
	if err := validateSchedule(channel, hour, minute, duration, days, s.maxChannels); err != nil {
		return -1, err
	}
	for i := range s.slots {
		if s.slots[i].Enabled {
			continue
		}
		s.slots[i] = Schedule{
			Enabled:  true,
			Channel:  channel,
			Hour:     hour,
			Minute:   minute,
			Duration: duration,
			Weekdays: days,
		}
		s.log.Info("schedule added", logx.Int("index", i), logx.String("schedule", s.slots[i].String()))
		s.changed(ctx)
		return i, nil
	}
	return -1, ErrNoFreeSlot
}

// Update rewrites slot index in place and keeps its enabled flag.
func (s *Store) Update(ctx context.Context, index, channel, hour, minute, duration int, days Weekdays) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	if err := validateSchedule(channel, hour, minute, duration, days, s.maxChannels); err != nil {
		return err
	}
	sc := &s.slots[index]
	sc.Channel, sc.Hour, sc.Minute, sc.Duration, sc.Weekdays = channel, hour, minute, duration, days
	s.log.Info("schedule updated", logx.Int("index", index), logx.String("schedule", sc.String()))
	s.changed(ctx)
	return nil
}

func (s *Store) Remove(ctx context.Context, index int) error {
	return s.SetEnabled(ctx, index, false)
}

func (s *Store) SetEnabled(ctx context.Context, index int, enabled bool) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.slots[index].Enabled = enabled
	s.log.Info("schedule enabled changed", logx.Int("index", index), logx.Bool("enabled", enabled))
	s.changed(ctx)
	return nil
}

func (s *Store) Get(index int) (Schedule, error) {
	if err := s.checkIndex(index); err != nil {
		return Schedule{}, err
	}
	return s.slots[index], nil
}

// List returns a copy of every slot in index order.
func (s *Store) List() []Schedule {
	return append([]Schedule(nil), s.slots...)
}

func (s *Store) checkIndex(index int) error {
	if index < 0 || index >= len(s.slots) {
		return fmt.Errorf("%w: %d not in 0..%d", ErrInvalidIndex, index, len(s.slots)-1)
	}
	return nil
}

func (s *Store) changed(ctx context.Context) {
	if err := s.Persist(ctx); err != nil {
		s.log.Warn("schedule persist failed; keeping in-memory state", logx.Err(err))
	}
}

// Persist writes every enabled slot through the backend.
func (s *Store) Persist(ctx context.Context) error {
	if s.backend == nil {
		s.dirty = false
		return nil
	}
	recs := make([]storage.Record, 0, len(s.slots))
	for _, sc := range s.slots {
		if !sc.Enabled {
			continue
		}
		recs = append(recs, storage.Record{
			Enabled:  true,
			Channel:  sc.Channel,
			Hour:     sc.Hour,
			Minute:   sc.Minute,
			Duration: sc.Duration,
			Weekdays: int(sc.Weekdays),
		})
	}
	if err := s.backend.SaveSchedules(ctx, recs); err != nil {
		s.dirty = true
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	s.dirty = false
	return nil
}

// Restore replaces the arena with the backend contents. On any error the
// arena is left untouched. Loaded values are clamped into range.
func (s *Store) Restore(ctx context.Context) error {
	if s.backend == nil {
		return ErrNotFound
	}
	recs, err := s.backend.LoadSchedules(ctx)
	if err != nil {
		return err
	}
	if len(recs) > len(s.slots) {
		s.log.Warn("stored schedules exceed capacity; extra entries dropped",
			logx.Int("stored", len(recs)),
			logx.Int("capacity", len(s.slots)),
		)
		recs = recs[:len(s.slots)]
	}

	next := make([]Schedule, len(s.slots))
	for i := range next {
		next[i] = emptySlot()
	}
	for i, r := range recs {
		next[i] = s.fromRecord(r)
	}
	s.slots = next
	s.dirty = false
	s.log.Info("schedules restored", logx.Int("loaded", len(recs)), logx.Int("enabled", s.Count()))
	return nil
}

func (s *Store) fromRecord(r storage.Record) Schedule {
	ch := r.Channel
	if ch < 1 || ch > s.maxChannels {
		ch = 1
	}
	return Schedule{
		Enabled:  r.Enabled,
		Channel:  ch,
		Hour:     min(max(r.Hour, 0), 23),
		Minute:   min(max(r.Minute, 0), 59),
		Duration: ClampDuration(r.Duration),
		Weekdays: Weekdays(r.Weekdays) & AllDays,
	}
}
