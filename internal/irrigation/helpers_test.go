package irrigation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"valvectl/internal/eventbus"
	"valvectl/internal/storage"
)

// monday is 2025-03-03, a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2025, 3, 3, hour, minute, 0, 0, time.UTC)
}

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type fakeActuator struct {
	state   map[int]bool
	calls   int
	fail    map[int]bool
	failOff map[int]bool
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{state: map[int]bool{}, fail: map[int]bool{}, failOff: map[int]bool{}}
}

func (a *fakeActuator) SetChannelOutput(ch int, on bool) error {
	a.calls++
	if on && a.fail[ch] {
		return errors.New("relay stuck")
	}
	if !on && a.failOff[ch] {
		return errors.New("relay stuck on")
	}
	a.state[ch] = on
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recordingSink) Publish(e eventbus.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	ctrl  *Controller
	clock *fakeClock
	act   *fakeActuator
	mem   *storage.Memory
	sink  *recordingSink
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(),
		act:   newFakeActuator(),
		mem:   storage.NewMemory(0),
		sink:  &recordingSink{},
	}
	h.ctrl = New(cfg, h.act, Options{
		Clock:   h.clock,
		Backend: h.mem,
		Events:  h.sink,
	})
	return h
}

// step advances the monotonic clock and runs one Update.
func (h *harness) step(d time.Duration) {
	h.clock.Advance(d)
	h.ctrl.Update(context.Background())
}
