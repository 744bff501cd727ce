// Package mqtt bridges the controller to an MQTT broker: retained state
// topics out, switch and JSON commands in.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"valvectl/internal/control"
	"valvectl/internal/eventbus"
	"valvectl/internal/irrigation"
	logx "valvectl/pkg/logx"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	BaseTopic         string
	QoS               byte
	PublishInterval   time.Duration
	ConnectTimeout    time.Duration
	ConnectRetries    int
	CommandRatePerSec int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseTopic) == "" {
		c.BaseTopic = "valvectl"
	}
	c.BaseTopic = strings.TrimSuffix(c.BaseTopic, "/")
	if c.ClientID == "" {
		c.ClientID = "valvectl"
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 5
	}
	if c.CommandRatePerSec <= 0 {
		c.CommandRatePerSec = 5
	}
	return c
}

// Controller is the command surface the bridge drives. *control.Loop
// implements it.
type Controller interface {
	Start(ctx context.Context, channel, minutes int) error
	StartDefault(ctx context.Context, channel int) error
	Stop(ctx context.Context, channel int) error
	AddSchedule(ctx context.Context, in control.ScheduleInput) (int, error)
	UpdateSchedule(ctx context.Context, index int, in control.ScheduleInput) error
	RemoveSchedule(ctx context.Context, index int) error
	EnableSchedule(ctx context.Context, index int, enabled bool) error
	SetTime(ctx context.Context, t time.Time) error
	SetManualDuration(minutes int) int
	ManualDuration() int
	Status() irrigation.Status
	Schedules() []irrigation.Schedule
}

type Bridge struct {
	cfg    Config
	topics topics
	ctl    Controller
	bus    eventbus.Bus
	log    logx.Logger

	limiter   *rate.Limiter
	mu        sync.RWMutex
	client    paho.Client
	connected atomic.Bool
	handled   atomic.Uint64
	rejected  atomic.Uint64

	// runCtx holds the current Run context; paho handlers use it for
	// controller calls.
	runCtx atomic.Pointer[context.Context]
}

func New(cfg Config, ctl Controller, bus eventbus.Bus, log logx.Logger) *Bridge {
	cfg = cfg.withDefaults()
	return &Bridge{
		cfg:     cfg,
		topics:  newTopics(cfg.BaseTopic),
		ctl:     ctl,
		bus:     bus,
		log:     log.With(logx.String("comp", "mqtt")),
		limiter: rate.NewLimiter(rate.Limit(cfg.CommandRatePerSec), cfg.CommandRatePerSec),
	}
}

// baseContext returns the context of the running Run call, or Background
// before the first one.
func (b *Bridge) baseContext() context.Context {
	if p := b.runCtx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

func (b *Bridge) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(b.cfg.ConnectTimeout)
	opts.SetMaxReconnectInterval(time.Minute)
	// handlers block on the control loop
	opts.SetOrderMatters(false)
	opts.SetWill(b.topics.availability, "offline", b.cfg.QoS, true)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.connected.Store(false)
		b.log.Warn("mqtt connection lost", logx.Err(err))
	})
	return opts
}

// connect dials the broker with exponential backoff.
func (b *Bridge) connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(b.cfg.ConnectRetries-1)), ctx)

	return backoff.Retry(func() error {
		client := paho.NewClient(b.clientOptions())
		b.setClient(client)
		tok := client.Connect()
		if !tok.WaitTimeout(b.cfg.ConnectTimeout) {
			return fmt.Errorf("connect %s: timeout", b.cfg.Broker)
		}
		if err := tok.Error(); err != nil {
			b.log.Warn("mqtt connect failed", logx.String("broker", b.cfg.Broker), logx.Err(err))
			return err
		}
		return nil
	}, policy)
}

// Run connects, serves commands and publishes state until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.runCtx.Store(&ctx)
	if err := b.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.log.Info("mqtt connected", logx.String("broker", b.cfg.Broker), logx.String("base", b.cfg.BaseTopic))

	events, unsubscribe := b.bus.Subscribe(32, "irrigation.")
	defer unsubscribe()

	t := time.NewTicker(b.cfg.PublishInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			b.disconnect()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.onEvent(ev)
		case <-t.C:
			b.publishState()
		}
	}
}

func (b *Bridge) setClient(c paho.Client) {
	b.mu.Lock()
	b.client = c
	b.mu.Unlock()
}

func (b *Bridge) cli() paho.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *Bridge) disconnect() {
	c := b.cli()
	if c == nil {
		return
	}
	if c.IsConnected() {
		b.publish(b.topics.availability, "offline", true)
		c.Disconnect(250)
	}
	b.connected.Store(false)
	b.log.Info("mqtt disconnected")
}

func (b *Bridge) onConnect(c paho.Client) {
	b.connected.Store(true)
	subs := map[string]byte{
		b.topics.channelSet:  b.cfg.QoS,
		b.topics.durationSet: b.cfg.QoS,
		b.topics.command:     b.cfg.QoS,
	}
	tok := c.SubscribeMultiple(subs, b.onMessage)
	if tok.WaitTimeout(b.cfg.ConnectTimeout) && tok.Error() != nil {
		b.log.Error("mqtt subscribe failed", logx.Err(tok.Error()))
	}
	b.publish(b.topics.availability, "online", true)
	b.publishState()
}

func (b *Bridge) onEvent(ev eventbus.Event) {
	switch ev.Type {
	case irrigation.EventSafetyTimeout:
		if se, ok := ev.Data.(irrigation.SessionEvent); ok {
			b.publish(b.topics.alert, fmt.Sprintf("safety timeout on channel %d", se.Channel), false)
		}
	case irrigation.EventStorageFailed:
		b.publish(b.topics.alert, "storage unavailable", false)
	}
	b.publishState()
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	topic, payload := msg.Topic(), msg.Payload()
	if !b.limiter.Allow() {
		b.rejected.Add(1)
		b.log.Warn("mqtt command rate limited", logx.String("topic", topic))
		return
	}
	b.handled.Add(1)

	ctx, cancel := context.WithTimeout(b.baseContext(), 5*time.Second)
	defer cancel()

	switch {
	case topic == b.topics.command:
		res := b.handleCommand(ctx, payload)
		body, _ := json.Marshal(res)
		b.publish(b.topics.commandResult, string(body), false)
	case topic == b.topics.durationSet:
		n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil {
			b.log.Warn("bad duration payload", logx.String("payload", truncate(payload)))
			return
		}
		m := b.ctl.SetManualDuration(n)
		b.publish(b.topics.duration, strconv.Itoa(m), true)
	default:
		ch, ok := b.topics.channelOf(topic)
		if !ok {
			return
		}
		on, err := parseSwitch(payload)
		if err != nil {
			b.log.Warn("bad switch payload", logx.String("topic", topic), logx.String("payload", truncate(payload)))
			return
		}
		if on {
			err = b.ctl.StartDefault(ctx, ch)
		} else {
			err = b.ctl.Stop(ctx, ch)
		}
		if err != nil && !errors.Is(err, irrigation.ErrChannelBusy) {
			b.log.Warn("switch command failed", logx.Int("channel", ch), logx.Err(err))
		}
		// the state event usually covers this; rejected commands need a refresh
		b.publishState()
	}
}

func (b *Bridge) publishState() {
	if !b.connected.Load() {
		return
	}
	st := b.ctl.Status()
	for _, cs := range st.Channels {
		b.publish(b.topics.channelState(cs.Channel), onOff(cs.Running), true)
	}
	b.publish(b.topics.state, onOff(st.Irrigating), true)
	b.publish(b.topics.duration, strconv.Itoa(b.ctl.ManualDuration()), true)
	if body, err := json.Marshal(st); err == nil {
		b.publish(b.topics.status, string(body), true)
	}
	if body, err := json.Marshal(scheduleList(b.ctl.Schedules())); err == nil {
		b.publish(b.topics.schedules, string(body), true)
	}
}

func (b *Bridge) publish(topic, payload string, retained bool) {
	c := b.cli()
	if c == nil {
		return
	}
	tok := c.Publish(topic, b.cfg.QoS, retained, payload)
	// QoS 0 completes immediately; otherwise wait in the background
	go func() {
		if tok.WaitTimeout(b.cfg.ConnectTimeout) && tok.Error() != nil {
			b.log.Debug("mqtt publish failed", logx.String("topic", topic), logx.Err(tok.Error()))
		}
	}()
}

// SendLog implements logx.Sink by publishing to <base>/log.
func (b *Bridge) SendLog(ctx context.Context, level, line string) error {
	c := b.cli()
	if c == nil || !b.connected.Load() {
		return ErrNotConnected
	}
	tok := c.Publish(b.topics.log, 0, false, line)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether the broker session is up.
func (b *Bridge) Connected() bool { return b.connected.Load() }

// Counters returns handled and rate-limited inbound message counts.
func (b *Bridge) Counters() (handled, rejected uint64) {
	return b.handled.Load(), b.rejected.Load()
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func truncate(p []byte) string {
	if len(p) > 64 {
		return string(p[:64]) + "..."
	}
	return string(p)
}
