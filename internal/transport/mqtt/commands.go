package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"valvectl/internal/control"
	"valvectl/internal/irrigation"
	logx "valvectl/pkg/logx"
)

// Command is the JSON body of <base>/command.
//
//	{"id":"1","action":"start","channel":2,"minutes":15}
//	{"action":"add_schedule","schedule":{"channel":1,"at":"06:30","duration":20,"days":"mon,wed,fri"}}
//	{"action":"set_time","time":"2025-03-03T06:00:00Z"}
type Command struct {
	ID       string        `json:"id,omitempty"`
	Action   string        `json:"action"`
	Channel  int           `json:"channel,omitempty"`
	Minutes  int           `json:"minutes,omitempty"`
	Index    *int          `json:"index,omitempty"`
	Enabled  *bool         `json:"enabled,omitempty"`
	Schedule *ScheduleBody `json:"schedule,omitempty"`
	Time     string        `json:"time,omitempty"`
}

// ScheduleBody accepts either at ("HH:MM") or hour/minute, and either days
// (names) or a weekdays mask.
type ScheduleBody struct {
	Channel  int    `json:"channel"`
	At       string `json:"at,omitempty"`
	Hour     int    `json:"hour,omitempty"`
	Minute   int    `json:"minute,omitempty"`
	Duration int    `json:"duration"`
	Days     string `json:"days,omitempty"`
	Weekdays *int   `json:"weekdays,omitempty"`
}

// Result is published to <base>/command/result.
type Result struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Index  *int   `json:"index,omitempty"`
}

func (b *Bridge) handleCommand(ctx context.Context, payload []byte) Result {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Result{Action: "invalid", Error: "malformed json"}
	}
	res := Result{ID: cmd.ID, Action: cmd.Action}
	idx, err := b.dispatch(ctx, cmd)
	if err != nil {
		res.Error = err.Error()
		b.log.Warn("mqtt command failed", logx.String("action", cmd.Action), logx.Err(err))
		return res
	}
	res.OK = true
	res.Index = idx
	return res
}

func (b *Bridge) dispatch(ctx context.Context, cmd Command) (*int, error) {
	switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
	case "start":
		if cmd.Minutes <= 0 {
			return nil, b.ctl.StartDefault(ctx, cmd.Channel)
		}
		return nil, b.ctl.Start(ctx, cmd.Channel, cmd.Minutes)
	case "stop":
		return nil, b.ctl.Stop(ctx, cmd.Channel)
	case "add_schedule":
		in, err := scheduleInput(cmd.Schedule)
		if err != nil {
			return nil, err
		}
		i, err := b.ctl.AddSchedule(ctx, in)
		if err != nil {
			return nil, err
		}
		return &i, nil
	case "update_schedule":
		if cmd.Index == nil {
			return nil, fmt.Errorf("%w: index required", irrigation.ErrInvalidParameter)
		}
		in, err := scheduleInput(cmd.Schedule)
		if err != nil {
			return nil, err
		}
		return cmd.Index, b.ctl.UpdateSchedule(ctx, *cmd.Index, in)
	case "remove_schedule":
		if cmd.Index == nil {
			return nil, fmt.Errorf("%w: index required", irrigation.ErrInvalidParameter)
		}
		return cmd.Index, b.ctl.RemoveSchedule(ctx, *cmd.Index)
	case "enable_schedule":
		if cmd.Index == nil || cmd.Enabled == nil {
			return nil, fmt.Errorf("%w: index and enabled required", irrigation.ErrInvalidParameter)
		}
		return cmd.Index, b.ctl.EnableSchedule(ctx, *cmd.Index, *cmd.Enabled)
	case "set_time":
		t, err := parseTime(cmd.Time)
		if err != nil {
			return nil, err
		}
		return nil, b.ctl.SetTime(ctx, t)
	default:
		return nil, fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func scheduleInput(s *ScheduleBody) (control.ScheduleInput, error) {
	if s == nil {
		return control.ScheduleInput{}, fmt.Errorf("%w: schedule required", irrigation.ErrInvalidParameter)
	}
	in := control.ScheduleInput{Channel: s.Channel, Hour: s.Hour, Minute: s.Minute, Duration: s.Duration}
	if s.At != "" {
		t, err := time.Parse("15:04", strings.TrimSpace(s.At))
		if err != nil {
			return in, fmt.Errorf("%w: at %q", irrigation.ErrInvalidParameter, s.At)
		}
		in.Hour, in.Minute = t.Hour(), t.Minute()
	}
	switch {
	case s.Weekdays != nil:
		if *s.Weekdays < 0 || *s.Weekdays > int(irrigation.AllDays) {
			return in, fmt.Errorf("%w: weekdays %d", irrigation.ErrInvalidParameter, *s.Weekdays)
		}
		in.Weekdays = irrigation.Weekdays(*s.Weekdays)
	default:
		days, err := irrigation.ParseWeekdays(s.Days)
		if err != nil {
			return in, err
		}
		in.Weekdays = days
	}
	return in, nil
}

// parseTime accepts RFC 3339 or unix seconds. Empty or "0" clears time.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: time %q", irrigation.ErrInvalidParameter, s)
}

func parseSwitch(p []byte) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(string(p))) {
	case "ON", "1", "TRUE":
		return true, nil
	case "OFF", "0", "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("%w: switch payload %q", irrigation.ErrInvalidParameter, truncate(p))
}

type scheduleView struct {
	Index int `json:"index"`
	irrigation.Schedule
	At   string `json:"at"`
	Days string `json:"days"`
}

// scheduleList renders enabled slots for <base>/schedules.
func scheduleList(list []irrigation.Schedule) []scheduleView {
	out := make([]scheduleView, 0, len(list))
	for i, s := range list {
		if !s.Enabled {
			continue
		}
		out = append(out, scheduleView{Index: i, Schedule: s, At: s.At(), Days: s.Weekdays.String()})
	}
	return out
}
