package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valvectl/internal/control"
	"valvectl/internal/eventbus"
	"valvectl/internal/irrigation"
	logx "valvectl/pkg/logx"
)

type fakeCtl struct {
	mu     sync.Mutex
	calls  []string
	added  control.ScheduleInput
	setT   time.Time
	manual int
	err    error

	stopCtx context.Context
}

func (f *fakeCtl) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakeCtl) Start(_ context.Context, ch, min int) error {
	return f.record("start")
}
func (f *fakeCtl) StartDefault(_ context.Context, ch int) error { return f.record("start_default") }
func (f *fakeCtl) Stop(ctx context.Context, ch int) error {
	f.mu.Lock()
	f.stopCtx = ctx
	f.mu.Unlock()
	return f.record("stop")
}
func (f *fakeCtl) AddSchedule(_ context.Context, in control.ScheduleInput) (int, error) {
	f.added = in
	return 3, f.record("add")
}
func (f *fakeCtl) UpdateSchedule(_ context.Context, i int, in control.ScheduleInput) error {
	f.added = in
	return f.record("update")
}
func (f *fakeCtl) RemoveSchedule(_ context.Context, i int) error { return f.record("remove") }
func (f *fakeCtl) EnableSchedule(_ context.Context, i int, on bool) error {
	return f.record("enable")
}
func (f *fakeCtl) SetTime(_ context.Context, t time.Time) error {
	f.setT = t
	return f.record("set_time")
}
func (f *fakeCtl) SetManualDuration(m int) int {
	f.manual = irrigation.ClampDuration(m)
	return f.manual
}
func (f *fakeCtl) ManualDuration() int              { return f.manual }
func (f *fakeCtl) Status() irrigation.Status        { return irrigation.Status{} }
func (f *fakeCtl) Schedules() []irrigation.Schedule { return nil }
func (f *fakeCtl) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

type fakeMsg struct {
	topic   string
	payload []byte
}

func (m fakeMsg) Duplicate() bool   { return false }
func (m fakeMsg) Qos() byte         { return 0 }
func (m fakeMsg) Retained() bool    { return false }
func (m fakeMsg) Topic() string     { return m.topic }
func (m fakeMsg) MessageID() uint16 { return 0 }
func (m fakeMsg) Payload() []byte   { return m.payload }
func (m fakeMsg) Ack()              {}

func newTestBridge(ctl Controller) *Bridge {
	return New(Config{BaseTopic: "garden/", CommandRatePerSec: 100}, ctl, eventbus.New(), logx.Nop())
}

func TestHandleCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		payload  string
		wantCall string
		wantOK   bool
		wantIdx  *int
	}{
		{name: "start default", payload: `{"action":"start","channel":1}`, wantCall: "start_default", wantOK: true},
		{name: "start minutes", payload: `{"action":"START","channel":1,"minutes":5}`, wantCall: "start", wantOK: true},
		{name: "stop all", payload: `{"action":"stop","channel":0}`, wantCall: "stop", wantOK: true},
		{name: "add", payload: `{"action":"add_schedule","schedule":{"channel":2,"at":"06:30","duration":20,"days":"mon,fri"}}`, wantCall: "add", wantOK: true, wantIdx: ptr(3)},
		{name: "update needs index", payload: `{"action":"update_schedule","schedule":{"channel":2,"duration":20}}`},
		{name: "enable", payload: `{"action":"enable_schedule","index":1,"enabled":false}`, wantCall: "enable", wantOK: true, wantIdx: ptr(1)},
		{name: "remove", payload: `{"action":"remove_schedule","index":2}`, wantCall: "remove", wantOK: true, wantIdx: ptr(2)},
		{name: "set time", payload: `{"action":"set_time","time":"1741000000"}`, wantCall: "set_time", wantOK: true},
		{name: "bad time", payload: `{"action":"set_time","time":"soon"}`},
		{name: "unknown", payload: `{"action":"water_everything"}`},
		{name: "malformed", payload: `{"action":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctl := &fakeCtl{}
			b := newTestBridge(ctl)
			res := b.handleCommand(context.Background(), []byte(tt.payload))
			assert.Equal(t, tt.wantOK, res.OK, res.Error)
			assert.Equal(t, tt.wantCall, ctl.last())
			assert.Equal(t, tt.wantIdx, res.Index)
			if !tt.wantOK {
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestAddScheduleParsesDays(t *testing.T) {
	t.Parallel()
	ctl := &fakeCtl{}
	b := newTestBridge(ctl)
	res := b.handleCommand(context.Background(), []byte(`{"action":"add_schedule","schedule":{"channel":2,"at":"6:05","duration":20,"days":"weekends"}}`))
	require.True(t, res.OK, res.Error)
	assert.Equal(t, control.ScheduleInput{Channel: 2, Hour: 6, Minute: 5, Duration: 20, Weekdays: irrigation.WeekendDays}, ctl.added)

	res = b.handleCommand(context.Background(), []byte(`{"action":"add_schedule","schedule":{"channel":1,"hour":7,"duration":10,"weekdays":200}}`))
	assert.False(t, res.OK)
}

func TestSetTimeZeroClears(t *testing.T) {
	t.Parallel()
	ctl := &fakeCtl{setT: time.Now()}
	b := newTestBridge(ctl)
	res := b.handleCommand(context.Background(), []byte(`{"action":"set_time","time":"0"}`))
	require.True(t, res.OK)
	assert.True(t, ctl.setT.IsZero())
}

func TestOnMessageRoutesTopics(t *testing.T) {
	t.Parallel()
	ctl := &fakeCtl{}
	b := newTestBridge(ctl)

	b.onMessage(nil, fakeMsg{topic: "garden/channel/2/set", payload: []byte("on")})
	assert.Equal(t, "start_default", ctl.last())
	b.onMessage(nil, fakeMsg{topic: "garden/channel/2/set", payload: []byte("OFF")})
	assert.Equal(t, "stop", ctl.last())
	b.onMessage(nil, fakeMsg{topic: "garden/channel/2/set", payload: []byte("maybe")})
	assert.Equal(t, "stop", ctl.last())

	b.onMessage(nil, fakeMsg{topic: "garden/duration/set", payload: []byte("500")})
	assert.Equal(t, irrigation.MaxDuration, ctl.manual)

	handled, rejected := b.Counters()
	assert.EqualValues(t, 4, handled)
	assert.Zero(t, rejected)
}

func TestHandlersUseRunContext(t *testing.T) {
	t.Parallel()
	ctl := &fakeCtl{}
	b := New(Config{
		Broker:            "tcp://127.0.0.1:1",
		ConnectTimeout:    200 * time.Millisecond,
		ConnectRetries:    1,
		CommandRatePerSec: 1000,
	}, ctl, eventbus.New(), logx.Nop())

	// before any Run, handlers fall back to a live context
	b.onMessage(nil, fakeMsg{topic: "valvectl/channel/1/set", payload: []byte("OFF")})
	ctl.mu.Lock()
	require.NotNil(t, ctl.stopCtx)
	assert.NoError(t, ctl.stopCtx.Err())
	ctl.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// restarts store a new Run context while paho handlers read it
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Run(ctx))
		}()
		go func() {
			defer wg.Done()
			b.onMessage(nil, fakeMsg{topic: "valvectl/channel/1/set", payload: []byte("OFF")})
		}()
	}
	wg.Wait()

	b.onMessage(nil, fakeMsg{topic: "valvectl/channel/1/set", payload: []byte("OFF")})
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.ErrorIs(t, ctl.stopCtx.Err(), context.Canceled)
}

func TestOnMessageRateLimited(t *testing.T) {
	t.Parallel()
	ctl := &fakeCtl{}
	b := New(Config{CommandRatePerSec: 1}, ctl, eventbus.New(), logx.Nop())
	b.onMessage(nil, fakeMsg{topic: "valvectl/channel/1/set", payload: []byte("ON")})
	b.onMessage(nil, fakeMsg{topic: "valvectl/channel/1/set", payload: []byte("ON")})
	_, rejected := b.Counters()
	assert.EqualValues(t, 1, rejected)
}

func TestTopics(t *testing.T) {
	t.Parallel()
	tp := newTopics("garden")
	ch, ok := tp.channelOf("garden/channel/3/set")
	assert.True(t, ok)
	assert.Equal(t, 3, ch)
	for _, bad := range []string{"garden/channel/x/set", "garden/channel/0/set", "garden/channel/3/state", "other/channel/3/set"} {
		_, ok := tp.channelOf(bad)
		assert.False(t, ok, bad)
	}
	assert.Equal(t, "garden/channel/4/state", tp.channelState(4))
}

func TestSendLogWithoutConnection(t *testing.T) {
	t.Parallel()
	b := newTestBridge(&fakeCtl{})
	assert.ErrorIs(t, b.SendLog(context.Background(), "warn", "x"), ErrNotConnected)
}

func TestScheduleListSkipsDisabled(t *testing.T) {
	t.Parallel()
	list := []irrigation.Schedule{
		{Enabled: true, Channel: 1, Hour: 6, Minute: 0, Duration: 10, Weekdays: irrigation.AllDays},
		{Channel: 1, Duration: 30, Weekdays: irrigation.AllDays},
		{Enabled: true, Channel: 2, Hour: 18, Minute: 45, Duration: 5, Weekdays: irrigation.Monday},
	}
	views := scheduleList(list)
	require.Len(t, views, 2)
	assert.Equal(t, 2, views[1].Index)
	assert.Equal(t, "18:45", views[1].At)
	assert.Equal(t, "Mon", views[1].Days)
}

func ptr(i int) *int { return &i }
