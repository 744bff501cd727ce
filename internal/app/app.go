package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"valvectl/internal/control"
	"valvectl/internal/eventbus"
	"valvectl/internal/hal"
	"valvectl/internal/history"
	"valvectl/internal/irrigation"
	"valvectl/internal/observability/httpapi"
	"valvectl/internal/observability/metrics"
	"valvectl/internal/storage"
	"valvectl/internal/transport/mqtt"
	logx "valvectl/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	outputs hal.Driver
	ctrl    *irrigation.Controller
	loop    *control.Loop
	tick    time.Duration

	bridge   *mqtt.Bridge
	metrics  *metrics.Collector
	http     *httpapi.Server
	recorder *history.Recorder
	influx   *history.Influx
}

func New(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; remote logging waits until the MQTT
	// sink exists so Apply does not warn about a missing sink.
	baseLogCfg := mapLoggingConfig(cfg)
	baseLogCfg.Remote.Enabled = false
	logSvc, root := logx.New(baseLogCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	cs, err := mapControllerConfig(cfg)
	if err != nil {
		return nil, err
	}
	ts, err := mapTimeSource(cfg)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, bc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		storeLog := root.With(logx.String("comp", "storage"))
		st, err := storage.Open(sc, storeLog)
		if err != nil {
			return nil, err
		}
		store = storage.WithBreaker(st, bc, storeLog)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; schedules will not survive a restart")
	}

	outputs, err := hal.Open(mapOutputsConfig(cfg), root.With(logx.String("comp", "hal")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	opts := irrigation.Options{TimeSource: ts, Events: bus, Log: root}
	if store != nil {
		opts.Backend = store
	}
	ctrl := irrigation.New(cs.core, outputs, opts)
	loop := control.New(ctrl, cs.loop, root)

	var bridge *mqtt.Bridge
	if mc, enabled, err := mapMQTTConfig(cfg); err != nil {
		_ = outputs.Close()
		return nil, err
	} else if enabled {
		bridge = mqtt.New(mc, loop, bus, root)
		logSvc.SetSink(bridge)
	}
	finalLogCfg := mapLoggingConfig(cfg)
	if bridge == nil && finalLogCfg.Remote.Enabled {
		log.Warn("logging.remote needs mqtt; remote logging stays off")
		finalLogCfg.Remote.Enabled = false
	}
	logSvc.Apply(finalLogCfg)

	collector := metrics.New(bus)

	hc, err := mapHTTPConfig(cfg, cs.loop.Tick)
	if err != nil {
		_ = outputs.Close()
		return nil, err
	}
	deps := httpapi.Deps{Source: loop, Metrics: collector.Handler()}
	if store != nil {
		deps.Sessions = store
	}
	httpSrv := httpapi.New(hc, deps, root)

	var sinks []history.Sink
	if store != nil {
		sinks = append(sinks, history.Journal{Store: store})
	}
	var influx *history.Influx
	if ic, enabled := mapInfluxConfig(cfg); enabled {
		influx, err = history.NewInflux(ic)
		if err != nil {
			_ = outputs.Close()
			return nil, fmt.Errorf("influx: %w", err)
		}
		sinks = append(sinks, influx)
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		outputs:  outputs,
		ctrl:     ctrl,
		loop:     loop,
		tick:     cs.loop.Tick,
		bridge:   bridge,
		metrics:  collector,
		http:     httpSrv,
		recorder: history.NewRecorder(root, sinks...),
		influx:   influx,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate rejects a hot reload before it is committed.
func validate(_ context.Context, cfg *Config) error {
	if _, err := mapControllerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTimeSource(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapMQTTConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg, time.Second); err != nil {
		return err
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	err := a.ctrl.Begin(ctx)
	switch {
	case errors.Is(err, irrigation.ErrNotFound):
		if seeds := a.cfgm.Get().Controller.SeedSchedules; len(seeds) > 0 {
			n := seedSchedules(ctx, a.ctrl, seeds, a.log)
			a.log.Info("seed schedules installed", logx.Int("count", n))
		}
	case err != nil:
		// the controller keeps running on an empty table
		a.log.Warn("starting without stored schedules", logx.Err(err))
	}
	scheduled := a.ctrl.ScheduleCount()

	a.sup.Go("control.loop", a.loop.Run)

	if a.bridge != nil {
		// broker outages are routine; the bridge never gives up
		a.sup.GoRestart("mqtt.bridge", a.bridge.Run, WithRestartBackoff(5*time.Second, 2*time.Minute))
	}
	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus, a.loop, 15*time.Second)
	})
	if !a.recorder.Empty() {
		a.sup.Go("history", func(c context.Context) error {
			return a.recorder.Run(c, a.bus)
		})
	}
	a.http.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("channels", a.loop.Channels()),
		logx.Int("schedules", scheduled),
		logx.Bool("mqtt", a.bridge != nil),
		logx.Bool("history", !a.recorder.Empty()),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if slices.Contains(sections, "logging") {
		lc := mapLoggingConfig(newCfg)
		if a.bridge == nil {
			lc.Remote.Enabled = false
		}
		a.logs.Apply(lc)
	}

	if slices.Contains(sections, "controller.timing") {
		cs, err := mapControllerConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid controller config; keeping previous", logx.Err(err))
		} else if err := a.loop.Reconfigure(ctx, cs.core.SafetyTimeout, cs.core.CheckInterval); err != nil {
			a.log.Warn("controller reconfigure failed", logx.Err(err))
		}
	}

	if slices.Contains(sections, "http") {
		hc, err := mapHTTPConfig(newCfg, a.tick)
		if err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, hc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first; the control loop turns every valve off
	// as it unwinds.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("control", 3*time.Second, func(c context.Context) error {
		select {
		case <-a.loop.Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })

	// Wait for supervised goroutines (bridge, recorder, config watch/reload).
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	step("outputs", time.Second, func(context.Context) error { return a.outputs.Close() })
	step("influx", time.Second, func(context.Context) error {
		if a.influx != nil {
			a.influx.Close()
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
