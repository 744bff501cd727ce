package irrigation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxSchedules = 16
	DefaultMaxChannels  = 4

	MinDuration     = 1
	MaxDuration     = 240
	DefaultDuration = 30

	DefaultSafetyTimeout = 300 * time.Minute
	DefaultCheckInterval = 30 * time.Second

	// AllChannels selects every channel in StopIrrigation.
	AllChannels = 0
)

// Weekdays is a day-of-week bitmask; bit 0 is Sunday.
type Weekdays uint8

const (
	Sunday Weekdays = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday

	NoDays      Weekdays = 0
	AllDays     Weekdays = 0x7F
	WorkDays             = Monday | Tuesday | Wednesday | Thursday | Friday
	WeekendDays          = Saturday | Sunday
)

var dayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Has reports whether d is set.
func (w Weekdays) Has(d time.Weekday) bool { return w&(1<<uint(d)) != 0 }

func (w Weekdays) String() string {
	switch w & AllDays {
	case AllDays:
		return "daily"
	case NoDays:
		return "never"
	}
	var parts []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			parts = append(parts, dayNames[d])
		}
	}
	return strings.Join(parts, ",")
}

// cronField renders the mask as a cron day-of-week list ("1,3,5").
func (w Weekdays) cronField() string {
	var parts []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			parts = append(parts, strconv.Itoa(int(d)))
		}
	}
	return strings.Join(parts, ",")
}

// ParseWeekdays accepts "daily", "weekdays", "weekends", "never", comma
// separated day names ("mon,wed,fri" or "monday") or a numeric mask ("0x7F",
// "127"). Empty input means every day.
func ParseWeekdays(s string) (Weekdays, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "daily", "all", "*":
		return AllDays, nil
	case "never", "none":
		return NoDays, nil
	case "weekdays", "workdays":
		return WorkDays, nil
	case "weekends", "weekend":
		return WeekendDays, nil
	}
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		if Weekdays(n)&^AllDays != 0 {
			return 0, fmt.Errorf("%w: weekday mask %q out of range", ErrInvalidParameter, s)
		}
		return Weekdays(n), nil
	}

	var w Weekdays
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if len(part) < 3 {
			return 0, fmt.Errorf("%w: unknown day %q", ErrInvalidParameter, part)
		}
		found := false
		for i, name := range dayNames {
			if strings.HasPrefix(part, strings.ToLower(name)) {
				w |= 1 << uint(i)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown day %q", ErrInvalidParameter, part)
		}
	}
	return w, nil
}

// Schedule is one weekly trigger. Disabled slots keep their fields.
type Schedule struct {
	Enabled  bool     `json:"enabled"`
	Channel  int      `json:"channel"`
	Hour     int      `json:"hour"`
	Minute   int      `json:"minute"`
	Duration int      `json:"duration"`
	Weekdays Weekdays `json:"weekdays"`
}

// At renders the trigger time as HH:MM.
func (s Schedule) At() string { return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute) }

func (s Schedule) String() string {
	state := "off"
	if s.Enabled {
		state = "on"
	}
	return fmt.Sprintf("ch%d %s %dmin %s (%s)", s.Channel, s.At(), s.Duration, s.Weekdays, state)
}

func validateSchedule(channel, hour, minute, duration int, days Weekdays, maxChannels int) error {
	switch {
	case channel < 1 || channel > maxChannels:
		return fmt.Errorf("%w: channel %d not in 1..%d", ErrInvalidParameter, channel, maxChannels)
	case hour < 0 || hour > 23:
		return fmt.Errorf("%w: hour %d", ErrInvalidParameter, hour)
	case minute < 0 || minute > 59:
		return fmt.Errorf("%w: minute %d", ErrInvalidParameter, minute)
	case duration < MinDuration || duration > MaxDuration:
		return fmt.Errorf("%w: duration %d not in %d..%d", ErrInvalidParameter, duration, MinDuration, MaxDuration)
	case days&^AllDays != 0:
		return fmt.Errorf("%w: weekday mask %#x", ErrInvalidParameter, uint8(days))
	}
	return nil
}

// ClampDuration bounds minutes to [MinDuration, MaxDuration].
func ClampDuration(minutes int) int {
	return min(max(minutes, MinDuration), MaxDuration)
}
