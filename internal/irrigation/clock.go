package irrigation

import "time"

// Clock is the monotonic time port used for session elapsed time and the
// check cadence. Only differences between readings are meaningful.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now, which carries a monotonic reading.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TimeSource is the wall-clock port. ok is false while no trustworthy time
// is known; the scheduler does nothing until it is.
type TimeSource interface {
	Now() (t time.Time, ok bool)
}

// WallClock holds a wall time pushed from outside (network time, operator
// command) and extrapolates it with a monotonic Clock.
type WallClock struct {
	clock  Clock
	base   time.Time
	baseAt time.Time
	valid  bool
}

func NewWallClock(clock Clock) *WallClock {
	if clock == nil {
		clock = SystemClock{}
	}
	return &WallClock{clock: clock}
}

// Set records t as the current wall time. A zero t, or any t at or before
// the Unix epoch, marks time invalid.
func (w *WallClock) Set(t time.Time) {
	if !ValidWallTime(t) {
		w.valid = false
		return
	}
	w.base = t.Round(0)
	w.baseAt = w.clock.Now()
	w.valid = true
}

// ValidWallTime reports whether t can be a real wall time. An unsynced RTC
// or time client reports the epoch.
func ValidWallTime(t time.Time) bool {
	return !t.IsZero() && t.Unix() > 0
}

func (w *WallClock) Now() (time.Time, bool) {
	if !w.valid {
		return time.Time{}, false
	}
	return w.base.Add(w.clock.Now().Sub(w.baseAt)), true
}

// SystemTime trusts the host clock once it reads later than MinValid, i.e.
// once the host has synchronized.
type SystemTime struct {
	MinValid time.Time
}

// DefaultMinValid is the sync floor used when SystemTime.MinValid is zero.
var DefaultMinValid = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (s SystemTime) Now() (time.Time, bool) {
	floor := s.MinValid
	if floor.IsZero() {
		floor = DefaultMinValid
	}
	now := time.Now()
	if now.Before(floor) {
		return time.Time{}, false
	}
	return now, true
}
