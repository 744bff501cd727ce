package irrigation

import (
	"context"
	"errors"
	"time"

	"valvectl/internal/eventbus"
	logx "valvectl/pkg/logx"
)

// Config sizes and times the controller. Zero fields take the package
// defaults.
type Config struct {
	MaxSchedules  int
	MaxChannels   int
	SafetyTimeout time.Duration
	CheckInterval time.Duration
	// Location converts wall time before schedules are evaluated. Nil keeps
	// the time source's location.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.MaxSchedules <= 0 {
		c.MaxSchedules = DefaultMaxSchedules
	}
	if c.MaxChannels <= 0 {
		c.MaxChannels = DefaultMaxChannels
	}
	if c.SafetyTimeout <= 0 {
		c.SafetyTimeout = DefaultSafetyTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// Options carries the controller's ports. Actuator is required.
type Options struct {
	Clock      Clock
	TimeSource TimeSource // default: a WallClock fed by SetCurrentTime
	Backend    ScheduleBackend
	Events     EventSink
	Log        logx.Logger
}

// Controller composes the schedule store, evaluator and session manager
// behind the command surface. It is not safe for concurrent use.
type Controller struct {
	cfg    Config
	clock  Clock
	time   TimeSource
	store  *Store
	sess   *sessions
	events EventSink
	log    logx.Logger

	lastCheck time.Time
	checked   bool
}

func New(cfg Config, act Actuator, opt Options) *Controller {
	cfg = cfg.withDefaults()
	if opt.Clock == nil {
		opt.Clock = SystemClock{}
	}
	if opt.TimeSource == nil {
		opt.TimeSource = NewWallClock(opt.Clock)
	}
	if opt.Events == nil {
		opt.Events = nopSink{}
	}
	log := opt.Log.With(logx.String("comp", "irrigation"))

	c := &Controller{
		cfg:    cfg,
		clock:  opt.Clock,
		time:   opt.TimeSource,
		events: opt.Events,
		log:    log,
	}
	c.store = NewStore(cfg.MaxSchedules, cfg.MaxChannels, opt.Backend, log)
	c.sess = newSessions(cfg.MaxChannels, cfg.MaxSchedules, act, opt.Clock, c.wallNow, opt.Events, log, cfg.SafetyTimeout)
	return c
}

// Begin drives every output off and restores persisted schedules. A missing
// schedule file is not an error; the returned error is ErrNotFound only so
// callers can seed defaults.
func (c *Controller) Begin(ctx context.Context) error {
	for ch := 1; ch <= c.cfg.MaxChannels; ch++ {
		if err := c.sess.forceOff(ch); err != nil {
			c.log.Warn("initial valve off failed", logx.Int("channel", ch), logx.Err(err))
		}
	}
	c.checked = false

	err := c.store.Restore(ctx)
	switch {
	case err == nil:
		for i := range c.sess.markers {
			c.sess.resetMarker(i)
		}
		c.publishSchedules(-1, "restored")
		return nil
	case errors.Is(err, ErrNotFound):
		c.log.Info("no stored schedules")
		return ErrNotFound
	default:
		c.log.Warn("schedule restore failed; starting empty", logx.Err(err))
		if errors.Is(err, ErrStorageUnavailable) {
			c.sess.lastError = msgStorageUnavailable
		}
		return err
	}
}

// Update advances the controller by one tick.
func (c *Controller) Update(ctx context.Context) {
	c.sess.advance()

	now := c.clock.Now()
	if c.checked && now.Sub(c.lastCheck) < c.cfg.CheckInterval {
		return
	}
	c.checked = true
	c.lastCheck = now

	if c.store.Dirty() {
		if err := c.store.Persist(ctx); err != nil {
			c.storageFailed(err)
			c.log.Warn("schedule persist retry failed", logx.Err(err))
		} else {
			c.log.Info("schedule persist recovered")
		}
	}

	wall, ok := c.wallNow()
	if !ok || c.sess.manualMode {
		return
	}
	c.checkSchedules(wall)
}

func (c *Controller) checkSchedules(now time.Time) {
	for i, s := range c.store.slots {
		if !ShouldTrigger(s, now, c.sess.marker(i)) {
			continue
		}
		if c.sess.active(s.Channel) {
			c.log.Debug("schedule due but channel busy", logx.Int("index", i), logx.Int("channel", s.Channel))
			continue
		}
		c.log.Info("schedule triggered", logx.Int("index", i), logx.String("schedule", s.String()))
		if err := c.sess.start(s.Channel, s.Duration, OriginSchedule, i); err != nil {
			c.log.Warn("scheduled start failed", logx.Int("index", i), logx.Err(err))
		}
	}
}

// wallNow returns the current wall time in the configured location.
func (c *Controller) wallNow() (time.Time, bool) {
	t, ok := c.time.Now()
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	if c.cfg.Location != nil {
		t = t.In(c.cfg.Location)
	}
	return t, true
}

// StartIrrigation starts a manual session. minutes is clamped into range.
func (c *Controller) StartIrrigation(channel, minutes int) error {
	err := c.sess.start(channel, minutes, OriginManual, -1)
	if err != nil && !errors.Is(err, ErrChannelBusy) {
		c.log.Warn("manual start rejected", logx.Int("channel", channel), logx.Err(err))
	}
	return err
}

// StopIrrigation stops one channel, or every channel for AllChannels.
func (c *Controller) StopIrrigation(channel int) error {
	if channel == AllChannels {
		c.sess.stopAll(ReasonManualStop)
		return nil
	}
	if !c.sess.validChannel(channel) {
		c.log.Warn("manual stop rejected", logx.Int("channel", channel))
		return ErrInvalidParameter
	}
	c.sess.stop(channel, ReasonManualStop)
	return nil
}

// Shutdown stops every session and forces every output off.
func (c *Controller) Shutdown() {
	c.sess.stopAll(ReasonShutdown)
	for ch := 1; ch <= c.cfg.MaxChannels; ch++ {
		_ = c.sess.forceOff(ch)
	}
}

func (c *Controller) AddSchedule(ctx context.Context, channel, hour, minute, duration int, days Weekdays) (int, error) {
	i, err := c.store.Add(ctx, channel, hour, minute, duration, days)
	if err != nil {
		return i, err
	}
	c.sess.resetMarker(i)
	c.afterMutation(i, "added")
	return i, nil
}

func (c *Controller) UpdateSchedule(ctx context.Context, index, channel, hour, minute, duration int, days Weekdays) error {
	if err := c.store.Update(ctx, index, channel, hour, minute, duration, days); err != nil {
		return err
	}
	c.sess.resetMarker(index)
	c.afterMutation(index, "updated")
	return nil
}

func (c *Controller) RemoveSchedule(ctx context.Context, index int) error {
	if err := c.store.Remove(ctx, index); err != nil {
		return err
	}
	c.afterMutation(index, "removed")
	return nil
}

func (c *Controller) EnableSchedule(ctx context.Context, index int, enabled bool) error {
	if err := c.store.SetEnabled(ctx, index, enabled); err != nil {
		return err
	}
	action := "disabled"
	if enabled {
		action = "enabled"
	}
	c.afterMutation(index, action)
	return nil
}

func (c *Controller) afterMutation(index int, action string) {
	if c.store.Dirty() {
		c.storageFailed(ErrStorageUnavailable)
	}
	c.publishSchedules(index, action)
}

func (c *Controller) storageFailed(err error) {
	c.sess.lastError = msgStorageUnavailable
	c.events.Publish(eventbus.Event{Type: EventStorageFailed, Data: err.Error()})
}

func (c *Controller) publishSchedules(index int, action string) {
	ev := ScheduleEvent{Index: index, Action: action}
	if index >= 0 {
		ev.Schedule, _ = c.store.Get(index)
	}
	c.events.Publish(eventbus.Event{Type: EventSchedulesChange, Data: ev})
}

func (c *Controller) GetSchedule(index int) (Schedule, error) { return c.store.Get(index) }

func (c *Controller) ListSchedules() []Schedule { return c.store.List() }

func (c *Controller) ScheduleCount() int { return c.store.Count() }

// TimeRemaining returns the largest remaining minutes over all channels.
func (c *Controller) TimeRemaining() int {
	best := 0
	for ch := 1; ch <= c.cfg.MaxChannels; ch++ {
		best = max(best, c.sess.remaining(ch))
	}
	return best
}

func (c *Controller) ChannelTimeRemaining(channel int) int { return c.sess.remaining(channel) }

func (c *Controller) NextScheduledTime() (time.Time, bool) {
	now, ok := c.wallNow()
	if !ok {
		return time.Time{}, false
	}
	return NextOccurrence(c.store.slots, now)
}

// SetCurrentTime pushes wall time into the default time source. A zero or
// epoch t marks time invalid. It is ignored when an external TimeSource was
// configured.
func (c *Controller) SetCurrentTime(t time.Time) {
	w, ok := c.time.(*WallClock)
	if !ok {
		c.log.Debug("set time ignored; external time source in use")
		return
	}
	w.Set(t)
	c.log.Info("wall time set", logx.Time("time", t), logx.Bool("valid", ValidWallTime(t)))
	c.events.Publish(eventbus.Event{Type: EventTimeChanged, Data: t})
}

// Reconfigure changes timing at runtime. Zero values keep the current value.
func (c *Controller) Reconfigure(safety, check time.Duration) {
	if safety > 0 {
		c.cfg.SafetyTimeout = safety
		c.sess.safety = safety
	}
	if check > 0 {
		c.cfg.CheckInterval = check
	}
	c.log.Info("controller timing updated",
		logx.Duration("safety_timeout", c.cfg.SafetyTimeout),
		logx.Duration("check_interval", c.cfg.CheckInterval),
	)
}

// ClearError resets Status.LastError.
func (c *Controller) ClearError() { c.sess.lastError = "" }

func (c *Controller) Channels() int { return c.cfg.MaxChannels }
