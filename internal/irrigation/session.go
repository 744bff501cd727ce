package irrigation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"valvectl/internal/eventbus"
	logx "valvectl/pkg/logx"
)

// Actuator drives the valve outputs. Only the session manager calls it.
type Actuator interface {
	SetChannelOutput(channel int, on bool) error
}

// Origin says who started a session.
type Origin string

const (
	OriginManual   Origin = "manual"
	OriginSchedule Origin = "schedule"
)

// StopReason says why a session ended.
type StopReason string

const (
	ReasonCompleted     StopReason = "completed"
	ReasonSafetyTimeout StopReason = "safety_timeout"
	ReasonManualStop    StopReason = "manual_stop"
	ReasonShutdown      StopReason = "shutdown"
)

type session struct {
	active      bool
	id          string
	origin      Origin
	slot        int
	requested   int
	startedMono time.Time
	startedWall time.Time
}

// sessions is the per-channel state machine. It owns the outputs and every
// status field except the schedule-derived ones.
type sessions struct {
	channels []session
	act      Actuator
	clock    Clock
	wall     func() (time.Time, bool)
	events   EventSink
	log      logx.Logger
	safety   time.Duration

	manualMode      bool
	currentDuration int
	lastIrrigation  time.Time
	lastError       string

	// markers holds the wall minute each schedule slot last started a session.
	markers []time.Time

	// offPending marks idle channels whose last off-write failed. advance
	// retries them until the output is confirmed off.
	offPending []bool
}

func newSessions(channels, slots int, act Actuator, clock Clock, wall func() (time.Time, bool), events EventSink, log logx.Logger, safety time.Duration) *sessions {
	return &sessions{
		channels: make([]session, channels),
		act:      act,
		clock:    clock,
		wall:     wall,
		events:   events,
		log:      log,
		safety:   safety,
		markers:  make([]time.Time, slots),

		offPending: make([]bool, channels),
	}
}

func (m *sessions) validChannel(ch int) bool { return ch >= 1 && ch <= len(m.channels) }

func (m *sessions) active(ch int) bool { return m.validChannel(ch) && m.channels[ch-1].active }

// forceOff writes ch off and records whether the write must be retried.
func (m *sessions) forceOff(ch int) error {
	if err := m.act.SetChannelOutput(ch, false); err != nil {
		m.offPending[ch-1] = true
		return err
	}
	m.offPending[ch-1] = false
	return nil
}

func (m *sessions) anyActive() bool {
	for _, s := range m.channels {
		if s.active {
			return true
		}
	}
	return false
}

// start moves channel ch from Idle to Running. slot is the schedule index for
// OriginSchedule and -1 otherwise.
func (m *sessions) start(ch, minutes int, origin Origin, slot int) error {
	if !m.validChannel(ch) {
		return fmt.Errorf("%w: channel %d not in 1..%d", ErrInvalidParameter, ch, len(m.channels))
	}
	if m.channels[ch-1].active {
		return fmt.Errorf("%w: channel %d", ErrChannelBusy, ch)
	}
	minutes = ClampDuration(minutes)

	if err := m.act.SetChannelOutput(ch, true); err != nil {
		m.lastError = msgActuationFailed
		// Leave the output in a known state.
		_ = m.forceOff(ch)
		m.log.Error("valve activation failed", logx.Int("channel", ch), logx.Err(err))
		return fmt.Errorf("activate channel %d: %w", ch, err)
	}
	m.offPending[ch-1] = false

	wall, _ := m.wall()
	s := session{
		active:      true,
		id:          uuid.NewString(),
		origin:      origin,
		slot:        slot,
		requested:   minutes,
		startedMono: m.clock.Now(),
		startedWall: wall,
	}
	m.channels[ch-1] = s
	m.currentDuration = minutes
	if origin == OriginManual {
		m.manualMode = true
	}
	if origin == OriginSchedule && slot >= 0 && slot < len(m.markers) && !wall.IsZero() {
		m.markers[slot] = minuteOf(wall)
	}

	m.log.Info("irrigation started",
		logx.Int("channel", ch),
		logx.Int("minutes", minutes),
		logx.String("origin", string(origin)),
		logx.String("session", s.id),
	)
	m.events.Publish(eventbus.Event{Type: EventSessionStarted, Data: m.eventFor(ch, s, "", time.Time{}, 0)})
	return nil
}

// stop moves channel ch to Idle. It is a no-op on an idle channel.
func (m *sessions) stop(ch int, reason StopReason) {
	if !m.active(ch) {
		return
	}
	s := m.channels[ch-1]
	elapsed := m.clock.Now().Sub(s.startedMono)
	m.channels[ch-1] = session{}

	if err := m.forceOff(ch); err != nil {
		m.lastError = msgActuationFailed
		m.log.Error("valve deactivation failed; retrying on next tick", logx.Int("channel", ch), logx.Err(err))
	}

	wall, ok := m.wall()
	if ok {
		m.lastIrrigation = wall
	}
	if !m.anyActive() {
		m.manualMode = false
		m.currentDuration = 0
	}

	m.log.Info("irrigation stopped",
		logx.Int("channel", ch),
		logx.String("reason", string(reason)),
		logx.Duration("elapsed", elapsed),
		logx.String("session", s.id),
	)
	m.events.Publish(eventbus.Event{Type: EventSessionStopped, Data: m.eventFor(ch, s, reason, wall, elapsed)})
}

func (m *sessions) stopAll(reason StopReason) {
	for ch := 1; ch <= len(m.channels); ch++ {
		m.stop(ch, reason)
	}
}

// advance retries pending off-writes, then runs the safety check and
// natural completion for every running channel.
func (m *sessions) advance() {
	m.retryOff()
	now := m.clock.Now()
	for i := range m.channels {
		s := m.channels[i]
		if !s.active {
			continue
		}
		ch := i + 1
		elapsed := now.Sub(s.startedMono)
		if elapsed >= m.safety {
			m.lastError = msgSafetyTimeout
			m.log.Error("safety timeout; stopping irrigation",
				logx.Int("channel", ch),
				logx.Duration("elapsed", elapsed),
				logx.Duration("limit", m.safety),
			)
			m.events.Publish(eventbus.Event{Type: EventSafetyTimeout, Data: m.eventFor(ch, s, ReasonSafetyTimeout, time.Time{}, elapsed)})
			m.stop(ch, ReasonSafetyTimeout)
			continue
		}
		if elapsed >= time.Duration(s.requested)*time.Minute {
			m.stop(ch, ReasonCompleted)
		}
	}
}

func (m *sessions) retryOff() {
	for i, pending := range m.offPending {
		if !pending || m.channels[i].active {
			continue
		}
		ch := i + 1
		if err := m.forceOff(ch); err != nil {
			m.log.Warn("valve deactivation retry failed", logx.Int("channel", ch), logx.Err(err))
			continue
		}
		m.log.Info("valve deactivation retry succeeded", logx.Int("channel", ch))
	}
}

// remaining returns whole minutes left on ch, 0 when idle.
func (m *sessions) remaining(ch int) int {
	if !m.active(ch) {
		return 0
	}
	s := m.channels[ch-1]
	left := s.requested - m.elapsedMinutes(s)
	return max(left, 0)
}

func (m *sessions) elapsedMinutes(s session) int {
	return int(m.clock.Now().Sub(s.startedMono) / time.Minute)
}

func (m *sessions) marker(slot int) time.Time {
	if slot < 0 || slot >= len(m.markers) {
		return time.Time{}
	}
	return m.markers[slot]
}

func (m *sessions) resetMarker(slot int) {
	if slot >= 0 && slot < len(m.markers) {
		m.markers[slot] = time.Time{}
	}
}

func (m *sessions) eventFor(ch int, s session, reason StopReason, ended time.Time, elapsed time.Duration) SessionEvent {
	return SessionEvent{
		ID:               s.id,
		Channel:          ch,
		Origin:           s.origin,
		Slot:             s.slot,
		RequestedMinutes: s.requested,
		Reason:           reason,
		StartedAt:        s.startedWall,
		EndedAt:          ended,
		Elapsed:          elapsed,
	}
}
