package control

import (
	"context"
	"time"

	"valvectl/internal/irrigation"
)

// ScheduleInput is the editable part of a schedule.
type ScheduleInput struct {
	Channel  int                 `json:"channel"`
	Hour     int                 `json:"hour"`
	Minute   int                 `json:"minute"`
	Duration int                 `json:"duration"`
	Weekdays irrigation.Weekdays `json:"weekdays"`
}

func (l *Loop) Start(ctx context.Context, channel, minutes int) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		return c.StartIrrigation(channel, minutes)
	})
}

// StartDefault starts channel for the current manual duration.
func (l *Loop) StartDefault(ctx context.Context, channel int) error {
	return l.Start(ctx, channel, l.ManualDuration())
}

// Stop stops channel, or every channel for irrigation.AllChannels.
func (l *Loop) Stop(ctx context.Context, channel int) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		return c.StopIrrigation(channel)
	})
}

func (l *Loop) AddSchedule(ctx context.Context, in ScheduleInput) (int, error) {
	idx := -1
	err := l.Do(ctx, func(c *irrigation.Controller) error {
		i, err := c.AddSchedule(ctx, in.Channel, in.Hour, in.Minute, in.Duration, in.Weekdays)
		idx = i
		return err
	})
	return idx, err
}

func (l *Loop) UpdateSchedule(ctx context.Context, index int, in ScheduleInput) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		return c.UpdateSchedule(ctx, index, in.Channel, in.Hour, in.Minute, in.Duration, in.Weekdays)
	})
}

func (l *Loop) RemoveSchedule(ctx context.Context, index int) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		return c.RemoveSchedule(ctx, index)
	})
}

func (l *Loop) EnableSchedule(ctx context.Context, index int, enabled bool) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		return c.EnableSchedule(ctx, index, enabled)
	})
}

// SetTime pushes wall time. A zero t marks time invalid.
func (l *Loop) SetTime(ctx context.Context, t time.Time) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		c.SetCurrentTime(t)
		return nil
	})
}

func (l *Loop) Reconfigure(ctx context.Context, safety, check time.Duration) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		c.Reconfigure(safety, check)
		return nil
	})
}

func (l *Loop) ClearError(ctx context.Context) error {
	return l.Do(ctx, func(c *irrigation.Controller) error {
		c.ClearError()
		return nil
	})
}
