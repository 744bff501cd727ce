package control

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"valvectl/internal/irrigation"
	logx "valvectl/pkg/logx"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("control loop stopped")

type Config struct {
	Tick           time.Duration
	CommandBuffer  int
	ManualDuration int // minutes used by StartDefault
}

type command struct {
	fn  func(*irrigation.Controller) error
	res chan error
}

// Loop owns a Controller on a single goroutine. Adapters submit closures
// with Do and read snapshots published after every tick and command.
type Loop struct {
	ctrl *irrigation.Controller
	cfg  Config
	log  logx.Logger

	cmds chan command
	done chan struct{}

	status    atomic.Pointer[irrigation.Status]
	schedules atomic.Pointer[[]irrigation.Schedule]
	lastTick  atomic.Int64
	manualMin atomic.Int32

	// notify is daemon.SdNotify; replaced in tests.
	notify       func(state string) (bool, error)
	watchdog     time.Duration
	lastWatchdog time.Time
}

func New(ctrl *irrigation.Controller, cfg Config, log logx.Logger) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 16
	}
	if cfg.ManualDuration <= 0 {
		cfg.ManualDuration = irrigation.DefaultDuration
	}
	l := &Loop{
		ctrl:   ctrl,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "control")),
		cmds:   make(chan command, cfg.CommandBuffer),
		done:   make(chan struct{}),
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	l.manualMin.Store(int32(irrigation.ClampDuration(cfg.ManualDuration)))
	l.refresh()
	return l
}

// Run ticks the controller until ctx is done, then shuts every channel
// down. Run must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	if wd, err := daemon.SdWatchdogEnabled(false); err == nil && wd > 0 {
		l.watchdog = wd
	}
	if ok, err := l.notify(daemon.SdNotifyReady); err != nil {
		l.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		l.log.Debug("sd_notify ready sent", logx.Duration("watchdog", l.watchdog))
	}

	t := time.NewTicker(l.cfg.Tick)
	defer t.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case cmd := <-l.cmds:
			cmd.res <- l.exec(cmd.fn)
			l.refresh()
		case <-t.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.ctrl.Update(ctx)
	l.lastTick.Store(time.Now().UnixNano())
	l.refresh()

	if l.watchdog > 0 && time.Since(l.lastWatchdog) >= l.watchdog/2 {
		l.lastWatchdog = time.Now()
		if _, err := l.notify(daemon.SdNotifyWatchdog); err != nil {
			l.log.Debug("watchdog ping failed", logx.Err(err))
		}
	}
}

// exec runs fn with panic capture so one bad command cannot take the
// valves down with the loop.
func (l *Loop) exec(fn func(*irrigation.Controller) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("command panicked", logx.Any("panic", r))
			err = errors.New("command panicked")
		}
	}()
	return fn(l.ctrl)
}

func (l *Loop) shutdown() {
	_, _ = l.notify(daemon.SdNotifyStopping)
	l.ctrl.Shutdown()
	l.refresh()
	for {
		select {
		case cmd := <-l.cmds:
			cmd.res <- ErrStopped
		default:
			l.log.Info("control loop stopped")
			return
		}
	}
}

func (l *Loop) refresh() {
	st := l.ctrl.Status()
	l.status.Store(&st)
	list := l.ctrl.ListSchedules()
	l.schedules.Store(&list)
}

// Do runs fn on the control goroutine and returns its error.
func (l *Loop) Do(ctx context.Context, fn func(*irrigation.Controller) error) error {
	cmd := command{fn: fn, res: make(chan error, 1)}
	select {
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case l.cmds <- cmd:
	}
	select {
	case err := <-cmd.res:
		return err
	case <-l.done:
		// shutdown drains queued commands; prefer their result
		select {
		case err := <-cmd.res:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) Status() irrigation.Status { return *l.status.Load() }

func (l *Loop) Schedules() []irrigation.Schedule { return *l.schedules.Load() }

// LastTick is the wall time of the last Update, zero before the first.
func (l *Loop) LastTick() time.Time {
	n := l.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (l *Loop) Channels() int { return len(l.Status().Channels) }

// ManualDuration is the default length of StartDefault sessions.
func (l *Loop) ManualDuration() int { return int(l.manualMin.Load()) }

// SetManualDuration clamps and stores the default manual duration.
func (l *Loop) SetManualDuration(minutes int) int {
	m := irrigation.ClampDuration(minutes)
	l.manualMin.Store(int32(m))
	return m
}
