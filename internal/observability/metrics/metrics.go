// Package metrics exports controller state as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"valvectl/internal/eventbus"
	"valvectl/internal/irrigation"
)

const namespace = "valvectl"

// StatusSource is read on every refresh. *control.Loop implements it.
type StatusSource interface {
	Status() irrigation.Status
	LastTick() time.Time
}

type Collector struct {
	reg *prometheus.Registry

	channelRunning   *prometheus.GaugeVec
	sessionsStarted  *prometheus.CounterVec
	sessionsStopped  *prometheus.CounterVec
	safetyTimeouts   prometheus.Counter
	storageFailures  prometheus.Counter
	schedulesEnabled prometheus.Gauge
	timeValid        prometheus.Gauge
	lastTick         prometheus.Gauge
	busDropped       prometheus.GaugeFunc
}

// New builds a collector on its own registry, with Go and process
// collectors included. bus may be nil.
func New(bus eventbus.Bus) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		channelRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channel_running",
			Help: "1 while the channel's valve is open.",
		}, []string{"channel"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_started_total",
			Help: "Irrigation sessions started, by origin.",
		}, []string{"origin"}),
		sessionsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_stopped_total",
			Help: "Irrigation sessions stopped, by reason.",
		}, []string{"reason"}),
		safetyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "safety_timeouts_total",
			Help: "Sessions forced off by the safety timeout.",
		}),
		storageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_failures_total",
			Help: "Failed schedule persist attempts.",
		}),
		schedulesEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "schedules_enabled",
			Help: "Enabled schedule slots.",
		}),
		timeValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "time_valid",
			Help: "1 when wall time is valid and schedules are evaluated.",
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_tick_timestamp_seconds",
			Help: "Unix time of the last controller update.",
		}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.channelRunning, c.sessionsStarted, c.sessionsStopped,
		c.safetyTimeouts, c.storageFailures,
		c.schedulesEnabled, c.timeValid, c.lastTick,
	)
	if bus != nil {
		c.busDropped = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "eventbus_dropped",
			Help: "Events dropped for slow subscribers.",
		}, func() float64 { return float64(bus.Dropped()) })
		c.reg.MustRegister(c.busDropped)
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Observe folds one controller event into the counters.
func (c *Collector) Observe(ev eventbus.Event) {
	switch ev.Type {
	case irrigation.EventSessionStarted:
		if se, ok := ev.Data.(irrigation.SessionEvent); ok {
			c.sessionsStarted.WithLabelValues(string(se.Origin)).Inc()
			c.channelRunning.WithLabelValues(strconv.Itoa(se.Channel)).Set(1)
		}
	case irrigation.EventSessionStopped:
		if se, ok := ev.Data.(irrigation.SessionEvent); ok {
			c.sessionsStopped.WithLabelValues(string(se.Reason)).Inc()
			c.channelRunning.WithLabelValues(strconv.Itoa(se.Channel)).Set(0)
		}
	case irrigation.EventSafetyTimeout:
		c.safetyTimeouts.Inc()
	case irrigation.EventStorageFailed:
		c.storageFailures.Inc()
	}
}

// ObserveStatus sets the gauges from a status snapshot.
func (c *Collector) ObserveStatus(st irrigation.Status, tick time.Time) {
	for _, ch := range st.Channels {
		c.channelRunning.WithLabelValues(strconv.Itoa(ch.Channel)).Set(b2f(ch.Running))
	}
	c.schedulesEnabled.Set(float64(st.ScheduleCount))
	c.timeValid.Set(b2f(st.TimeValid))
	if !tick.IsZero() {
		c.lastTick.Set(float64(tick.UnixNano()) / 1e9)
	}
}

// Run consumes bus events and refreshes gauges from src every interval
// until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus, src StatusSource, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	events, unsubscribe := bus.Subscribe(64, "irrigation.")
	defer unsubscribe()

	t := time.NewTicker(interval)
	defer t.Stop()
	c.ObserveStatus(src.Status(), src.LastTick())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Observe(ev)
		case <-t.C:
			c.ObserveStatus(src.Status(), src.LastTick())
		}
	}
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
