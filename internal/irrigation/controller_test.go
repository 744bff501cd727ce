package irrigation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduledSessionRunsToCompletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.ctrl.SetCurrentTime(monday(6, 0))
	require.ErrorIs(t, h.ctrl.Begin(ctx), ErrNotFound)
	idx, err := h.ctrl.AddSchedule(ctx, 1, 6, 0, 30, AllDays)
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	h.step(0)
	st := h.ctrl.Status()
	require.True(t, st.Irrigating)
	ch1, _ := st.Channel(1)
	assert.True(t, ch1.Running)
	assert.Equal(t, OriginSchedule, ch1.Origin)
	assert.Equal(t, 30, ch1.RequestedMinutes)
	assert.Equal(t, 30, st.CurrentDuration)
	assert.True(t, h.act.state[1])
	assert.False(t, st.ManualMode)

	h.step(29 * time.Minute)
	assert.True(t, h.ctrl.Status().Irrigating)
	assert.Equal(t, 1, h.ctrl.TimeRemaining())

	h.step(time.Minute)
	st = h.ctrl.Status()
	assert.False(t, st.Irrigating)
	assert.False(t, h.act.state[1])
	assert.True(t, st.LastIrrigationTime.Equal(monday(6, 30)), st.LastIrrigationTime)
	assert.Equal(t, 0, st.CurrentDuration)
	assert.Empty(t, st.LastError)

	assert.Contains(t, h.sink.types(), EventSessionStarted)
	assert.Contains(t, h.sink.types(), EventSessionStopped)
}

func TestManualStartClampsDuration(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.NoError(t, h.ctrl.StartIrrigation(1, 5000))
	ch1, _ := h.ctrl.Status().Channel(1)
	assert.Equal(t, MaxDuration, ch1.RequestedMinutes)
	assert.True(t, h.ctrl.Status().ManualMode)

	require.NoError(t, h.ctrl.StartIrrigation(2, 0))
	ch2, _ := h.ctrl.Status().Channel(2)
	assert.Equal(t, MinDuration, ch2.RequestedMinutes)
}

func TestSafetyTimeoutStopsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SafetyTimeout: 2 * time.Minute})

	require.NoError(t, h.ctrl.StartIrrigation(1, 10))
	h.step(time.Minute)
	assert.True(t, h.ctrl.Status().Irrigating)

	h.step(time.Minute)
	st := h.ctrl.Status()
	assert.False(t, st.Irrigating)
	assert.Equal(t, "Safety timeout triggered", st.LastError)
	assert.False(t, st.ManualMode)
	assert.False(t, h.act.state[1])
	assert.Contains(t, h.sink.types(), EventSafetyTimeout)
}

func TestSafetyCheckedBeforeCompletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SafetyTimeout: 5 * time.Minute})

	require.NoError(t, h.ctrl.StartIrrigation(1, 5))
	h.step(5 * time.Minute)
	assert.Equal(t, "Safety timeout triggered", h.ctrl.Status().LastError)
}

func TestEmptyWeekdayMaskNeverTriggers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{CheckInterval: time.Second})
	ctx := context.Background()

	h.ctrl.SetCurrentTime(monday(6, 0))
	_, err := h.ctrl.AddSchedule(ctx, 1, 6, 0, 30, NoDays)
	require.NoError(t, err)

	h.step(0)
	assert.False(t, h.ctrl.Status().Irrigating)
	_, ok := h.ctrl.NextScheduledTime()
	assert.False(t, ok)
}

func TestSameMinuteSchedulesOnDifferentChannels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.ctrl.SetCurrentTime(monday(6, 0))
	_, err := h.ctrl.AddSchedule(ctx, 1, 6, 0, 30, AllDays)
	require.NoError(t, err)
	_, err = h.ctrl.AddSchedule(ctx, 2, 6, 0, 15, Monday)
	require.NoError(t, err)

	h.step(0)
	st := h.ctrl.Status()
	ch1, _ := st.Channel(1)
	ch2, _ := st.Channel(2)
	assert.True(t, ch1.Running)
	assert.True(t, ch2.Running)
	assert.Equal(t, 15, ch2.RequestedMinutes)
	assert.Equal(t, 1, ch2.Slot)
}

func TestScheduleFiresOncePerMinute(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{CheckInterval: time.Second})
	ctx := context.Background()

	h.ctrl.SetCurrentTime(monday(6, 0))
	_, err := h.ctrl.AddSchedule(ctx, 1, 6, 0, 30, AllDays)
	require.NoError(t, err)

	h.step(0)
	require.True(t, h.ctrl.Status().Irrigating)
	require.NoError(t, h.ctrl.StopIrrigation(1))

	h.step(20 * time.Second)
	assert.False(t, h.ctrl.Status().Irrigating, "must not fire twice in 06:00")

	// Editing the schedule clears its marker.
	require.NoError(t, h.ctrl.UpdateSchedule(ctx, 0, 1, 6, 0, 10, AllDays))
	h.step(time.Second)
	assert.True(t, h.ctrl.Status().Irrigating)
}

func TestScheduleSkippedWhileChannelBusy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{CheckInterval: time.Second})
	ctx := context.Background()

	h.ctrl.SetCurrentTime(monday(5, 50))
	_, err := h.ctrl.AddSchedule(ctx, 1, 6, 0, 30, AllDays)
	require.NoError(t, err)

	// A schedule-started session on ch1 that is still running at 06:00.
	_, err = h.ctrl.AddSchedule(ctx, 1, 5, 50, 20, AllDays)
	require.NoError(t, err)
	h.step(0)
	ch1, _ := h.ctrl.Status().Channel(1)
	require.Equal(t, 1, ch1.Slot)

	h.step(10 * time.Minute)
	ch1, _ = h.ctrl.Status().Channel(1)
	assert.Equal(t, 1, ch1.Slot, "running session is not replaced")
	assert.Equal(t, 20, ch1.RequestedMinutes)
}

func TestManualModeSuppressesSchedules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{CheckInterval: time.Second})
	ctx := context.Background()

	h.ctrl.SetCurrentTime(monday(5, 59))
	_, err := h.ctrl.AddSchedule(ctx, 2, 6, 0, 30, AllDays)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.StartIrrigation(1, 10))

	h.step(time.Minute)
	ch2, _ := h.ctrl.Status().Channel(2)
	assert.False(t, ch2.Running)
	assert.True(t, h.ctrl.Status().ManualMode)
}

func TestNoValidTimeNoScheduling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.ctrl.AddSchedule(ctx, 1, 0, 0, 30, AllDays)
	require.NoError(t, err)
	h.step(0)
	st := h.ctrl.Status()
	assert.False(t, st.TimeValid)
	assert.False(t, st.Irrigating)
	assert.False(t, st.HasNext)

	// Manual control still works.
	require.NoError(t, h.ctrl.StartIrrigation(1, 1))
	h.step(time.Minute)
	assert.False(t, h.ctrl.Status().Irrigating)
	assert.True(t, h.ctrl.Status().LastIrrigationTime.IsZero())
}

func TestEpochTimeIsNotValid(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.ctrl.AddSchedule(ctx, 1, 0, 0, 30, AllDays)
	require.NoError(t, err)

	h.ctrl.SetCurrentTime(time.Unix(0, 0))
	h.step(0)
	st := h.ctrl.Status()
	assert.False(t, st.TimeValid)
	assert.True(t, st.CurrentTime.IsZero())
	assert.False(t, st.Irrigating)
	assert.False(t, h.act.state[1])

	// a valid push followed by the epoch drops back to no valid time
	h.ctrl.SetCurrentTime(monday(5, 0))
	h.step(time.Minute)
	require.True(t, h.ctrl.Status().TimeValid)
	h.ctrl.SetCurrentTime(time.Unix(0, 0))
	h.step(time.Minute)
	assert.False(t, h.ctrl.Status().TimeValid)
	assert.False(t, h.ctrl.Status().Irrigating)
}

func TestCheckCadence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{CheckInterval: 30 * time.Second})
	ctx := context.Background()

	h.ctrl.SetCurrentTime(monday(5, 59))
	h.step(0) // first evaluation at 05:59:00
	_, err := h.ctrl.AddSchedule(ctx, 1, 6, 0, 30, AllDays)
	require.NoError(t, err)

	h.step(61 * time.Second) // 06:00:01, due
	assert.True(t, h.ctrl.Status().Irrigating)
}

func TestManualStartErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.ErrorIs(t, h.ctrl.StartIrrigation(0, 10), ErrInvalidParameter)
	require.ErrorIs(t, h.ctrl.StartIrrigation(5, 10), ErrInvalidParameter)

	require.NoError(t, h.ctrl.StartIrrigation(1, 10))
	calls := h.act.calls
	require.ErrorIs(t, h.ctrl.StartIrrigation(1, 20), ErrChannelBusy)
	assert.Equal(t, calls, h.act.calls, "busy start must not touch outputs")
	ch1, _ := h.ctrl.Status().Channel(1)
	assert.Equal(t, 10, ch1.RequestedMinutes)
}

func TestActuationFailureAbortsStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.act.fail[3] = true

	require.Error(t, h.ctrl.StartIrrigation(3, 10))
	st := h.ctrl.Status()
	assert.False(t, st.Irrigating)
	assert.Equal(t, "Valve actuation failed", st.LastError)
	assert.False(t, h.act.state[3])
}

func TestFailedStopWriteIsRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.NoError(t, h.ctrl.StartIrrigation(2, 10))
	h.act.failOff[2] = true
	require.NoError(t, h.ctrl.StopIrrigation(2))

	st := h.ctrl.Status()
	ch2, _ := st.Channel(2)
	assert.False(t, ch2.Running)
	assert.True(t, ch2.OffPending)
	assert.Equal(t, "Valve actuation failed", st.LastError)
	assert.True(t, h.act.state[2], "relay still reports on")

	h.step(time.Second)
	ch2, _ = h.ctrl.Status().Channel(2)
	assert.True(t, ch2.OffPending)
	assert.True(t, h.act.state[2])

	h.act.failOff[2] = false
	h.step(time.Second)
	ch2, _ = h.ctrl.Status().Channel(2)
	assert.False(t, ch2.OffPending)
	assert.False(t, h.act.state[2])

	calls := h.act.calls
	h.step(time.Second)
	assert.Equal(t, calls, h.act.calls, "no writes once the output is confirmed off")
}

func TestStopAllChannels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.NoError(t, h.ctrl.StartIrrigation(1, 10))
	require.NoError(t, h.ctrl.StartIrrigation(3, 10))
	require.NoError(t, h.ctrl.StopIrrigation(AllChannels))

	st := h.ctrl.Status()
	assert.False(t, st.Irrigating)
	assert.False(t, st.ManualMode)
	for ch := 1; ch <= DefaultMaxChannels; ch++ {
		assert.False(t, h.act.state[ch], "channel %d", ch)
	}

	require.ErrorIs(t, h.ctrl.StopIrrigation(9), ErrInvalidParameter)
	require.NoError(t, h.ctrl.StopIrrigation(2), "stopping an idle channel is a no-op")
}

func TestStopOneChannelKeepsOthers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.NoError(t, h.ctrl.StartIrrigation(1, 10))
	require.NoError(t, h.ctrl.StartIrrigation(2, 20))
	require.NoError(t, h.ctrl.StopIrrigation(1))

	st := h.ctrl.Status()
	assert.True(t, st.Irrigating)
	assert.True(t, st.ManualMode)
	assert.Equal(t, 20, h.ctrl.TimeRemaining())
	assert.Equal(t, 0, h.ctrl.ChannelTimeRemaining(1))
}

func TestStorageFailureIsRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{CheckInterval: time.Second})
	ctx := context.Background()

	h.mem.SetFail(true)
	idx, err := h.ctrl.AddSchedule(ctx, 1, 7, 0, 30, AllDays)
	require.NoError(t, err, "mutations succeed in memory")
	st := h.ctrl.Status()
	assert.True(t, st.StorageDirty)
	assert.Equal(t, "Storage unavailable", st.LastError)
	assert.Contains(t, h.sink.types(), EventStorageFailed)
	got, err := h.ctrl.GetSchedule(idx)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	h.mem.SetFail(false)
	h.step(0)
	assert.False(t, h.ctrl.Status().StorageDirty)
	recs, err := h.mem.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 7, recs[0].Hour)
}

func TestBeginRestoresAndTurnsOutputsOff(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.act.state[2] = true

	_, err := h.ctrl.AddSchedule(ctx, 2, 18, 30, 45, WorkDays)
	require.NoError(t, err)

	next := New(Config{}, h.act, Options{Clock: h.clock, Backend: h.mem})
	require.NoError(t, next.Begin(ctx))
	assert.False(t, h.act.state[2])
	assert.Equal(t, 1, next.ScheduleCount())
	sc, err := next.GetSchedule(0)
	require.NoError(t, err)
	assert.Equal(t, Schedule{Enabled: true, Channel: 2, Hour: 18, Minute: 30, Duration: 45, Weekdays: WorkDays}, sc)
}

func TestLocationAppliedToWallTime(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*60*60)
	h := newHarness(t, Config{Location: loc})
	ctx := context.Background()

	// 04:00 UTC is 06:00 local.
	h.ctrl.SetCurrentTime(monday(4, 0))
	_, err := h.ctrl.AddSchedule(ctx, 1, 6, 0, 30, AllDays)
	require.NoError(t, err)
	h.step(0)
	assert.True(t, h.ctrl.Status().Irrigating)
}

func TestReconfigureSafetyTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.NoError(t, h.ctrl.StartIrrigation(1, 30))
	h.ctrl.Reconfigure(time.Minute, 0)
	h.step(time.Minute)
	assert.Equal(t, "Safety timeout triggered", h.ctrl.Status().LastError)

	h.ctrl.ClearError()
	assert.Empty(t, h.ctrl.Status().LastError)
}

func TestShutdownForcesOutputsOff(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.NoError(t, h.ctrl.StartIrrigation(4, 30))
	h.ctrl.Shutdown()
	assert.False(t, h.ctrl.Status().Irrigating)
	assert.False(t, h.act.state[4])
}

func TestStatusIsACopy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	require.NoError(t, h.ctrl.StartIrrigation(1, 30))
	st := h.ctrl.Status()
	st.Channels[0].Running = false
	ch1, _ := h.ctrl.Status().Channel(1)
	assert.True(t, ch1.Running)
}
