package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valvectl/internal/eventbus"
	"valvectl/internal/irrigation"
)

func TestObserveEvents(t *testing.T) {
	t.Parallel()
	c := New(nil)

	c.Observe(eventbus.Event{Type: irrigation.EventSessionStarted, Data: irrigation.SessionEvent{Channel: 2, Origin: irrigation.OriginSchedule}})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsStarted.WithLabelValues("schedule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.channelRunning.WithLabelValues("2")))

	c.Observe(eventbus.Event{Type: irrigation.EventSafetyTimeout, Data: irrigation.SessionEvent{Channel: 2}})
	c.Observe(eventbus.Event{Type: irrigation.EventSessionStopped, Data: irrigation.SessionEvent{Channel: 2, Reason: irrigation.ReasonSafetyTimeout}})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.safetyTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsStopped.WithLabelValues("safety_timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.channelRunning.WithLabelValues("2")))

	c.Observe(eventbus.Event{Type: irrigation.EventStorageFailed, Data: "disk"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storageFailures))
}

func TestObserveStatus(t *testing.T) {
	t.Parallel()
	c := New(nil)
	tick := time.Unix(1_700_000_000, 0)
	c.ObserveStatus(irrigation.Status{
		TimeValid:     true,
		ScheduleCount: 3,
		Channels:      []irrigation.ChannelStatus{{Channel: 1, Running: true}, {Channel: 2}},
	}, tick)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.timeValid))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.schedulesEnabled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.channelRunning.WithLabelValues("1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.channelRunning.WithLabelValues("2")))
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(c.lastTick))
}

func TestHandlerExposesNamespace(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := New(bus)
	c.ObserveStatus(irrigation.Status{TimeValid: true}, time.Time{})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "valvectl_time_valid 1"), body)
	assert.Contains(t, body, "valvectl_eventbus_dropped 0")
}
