package irrigation

import "time"

// ChannelStatus describes one channel.
type ChannelStatus struct {
	Channel          int       `json:"channel"`
	Running          bool      `json:"running"`
	Origin           Origin    `json:"origin,omitempty"`
	Slot             int       `json:"slot"`
	RequestedMinutes int       `json:"requested_minutes"`
	ElapsedMinutes   int       `json:"elapsed_minutes"`
	RemainingMinutes int       `json:"remaining_minutes"`
	SessionID        string    `json:"session_id,omitempty"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	// OffPending is set on an idle channel whose off-write has not yet
	// succeeded.
	OffPending       bool      `json:"off_pending,omitempty"`
}

// Status is a snapshot of the controller. It shares no memory with it.
type Status struct {
	Irrigating         bool            `json:"irrigating"`
	ManualMode         bool            `json:"manual_mode"`
	CurrentDuration    int             `json:"current_duration"`
	LastIrrigationTime time.Time       `json:"last_irrigation_time,omitzero"`
	LastError          string          `json:"last_error,omitempty"`
	TimeValid          bool            `json:"time_valid"`
	CurrentTime        time.Time       `json:"current_time,omitzero"`
	NextScheduledTime  time.Time       `json:"next_scheduled_time,omitzero"`
	HasNext            bool            `json:"has_next"`
	ScheduleCount      int             `json:"schedule_count"`
	StorageDirty       bool            `json:"storage_dirty"`
	Channels           []ChannelStatus `json:"channels"`
}

// Channel returns the status of channel ch (1-based).
func (s Status) Channel(ch int) (ChannelStatus, bool) {
	if ch < 1 || ch > len(s.Channels) {
		return ChannelStatus{}, false
	}
	return s.Channels[ch-1], true
}

func (c *Controller) Status() Status {
	now, ok := c.wallNow()
	st := Status{
		Irrigating:         c.sess.anyActive(),
		ManualMode:         c.sess.manualMode,
		CurrentDuration:    c.sess.currentDuration,
		LastIrrigationTime: c.sess.lastIrrigation,
		LastError:          c.sess.lastError,
		TimeValid:          ok,
		ScheduleCount:      c.store.Count(),
		StorageDirty:       c.store.Dirty(),
		Channels:           make([]ChannelStatus, len(c.sess.channels)),
	}
	if ok {
		st.CurrentTime = now
		st.NextScheduledTime, st.HasNext = NextOccurrence(c.store.slots, now)
	}
	for i, s := range c.sess.channels {
		cs := ChannelStatus{Channel: i + 1, Slot: -1, OffPending: c.sess.offPending[i]}
		if s.active {
			cs.Running = true
			cs.Origin = s.origin
			cs.Slot = s.slot
			cs.RequestedMinutes = s.requested
			cs.ElapsedMinutes = c.sess.elapsedMinutes(s)
			cs.RemainingMinutes = c.sess.remaining(i + 1)
			cs.SessionID = s.id
			cs.StartedAt = s.startedWall
		}
		st.Channels[i] = cs
	}
	return st
}
