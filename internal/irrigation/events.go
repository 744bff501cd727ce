package irrigation

import (
	"time"

	"valvectl/internal/eventbus"
)

// Event types published by the controller.
const (
	EventSessionStarted  = "irrigation.session.started"
	EventSessionStopped  = "irrigation.session.stopped"
	EventSafetyTimeout   = "irrigation.safety_timeout"
	EventSchedulesChange = "irrigation.schedules.changed"
	EventTimeChanged     = "irrigation.time.changed"
	EventStorageFailed   = "irrigation.storage.failed"
)

// EventSink receives controller events. eventbus.Bus satisfies it. Publish
// must not block.
type EventSink interface {
	Publish(e eventbus.Event)
}

type nopSink struct{}

func (nopSink) Publish(eventbus.Event) {}

// SessionEvent is the Data of session events.
type SessionEvent struct {
	ID               string        `json:"id"`
	Channel          int           `json:"channel"`
	Origin           Origin        `json:"origin"`
	Slot             int           `json:"slot"`
	RequestedMinutes int           `json:"requested_minutes"`
	Reason           StopReason    `json:"reason,omitempty"`
	StartedAt        time.Time     `json:"started_at,omitzero"`
	EndedAt          time.Time     `json:"ended_at,omitzero"`
	Elapsed          time.Duration `json:"elapsed,omitempty"`
}

// ScheduleEvent is the Data of EventSchedulesChange.
type ScheduleEvent struct {
	Index    int      `json:"index"` // -1 after a restore
	Schedule Schedule `json:"schedule"`
	Action   string   `json:"action"`
}
