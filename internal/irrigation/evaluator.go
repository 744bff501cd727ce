package irrigation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// minuteOf truncates t to its wall-clock minute in t's location.
func minuteOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// ShouldTrigger reports whether s fires at now. lastRun is the minute the
// schedule last started a session (zero if never); a schedule fires at most
// once per wall-clock minute.
func ShouldTrigger(s Schedule, now, lastRun time.Time) bool {
	if !s.Enabled || !s.Weekdays.Has(now.Weekday()) {
		return false
	}
	if now.Hour() != s.Hour || now.Minute() != s.Minute {
		return false
	}
	return lastRun.IsZero() || !minuteOf(lastRun).Equal(minuteOf(now))
}

// NextOccurrence returns the earliest upcoming trigger across schedules,
// strictly after now, in now's location. The lowest slot wins ties. It
// returns false when no enabled schedule has a weekday set.
func NextOccurrence(schedules []Schedule, now time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, s := range schedules {
		next, ok := nextFor(s, now)
		if !ok {
			continue
		}
		if !found || next.Before(best) {
			best, found = next, true
		}
	}
	return best, found
}

// nextFor delegates the calendar walk to a cron day-of-week spec, which
// covers at most the next seven days for any non-empty mask.
func nextFor(s Schedule, now time.Time) (time.Time, bool) {
	if !s.Enabled || s.Weekdays&AllDays == 0 {
		return time.Time{}, false
	}
	spec, err := cron.ParseStandard(cronSpec(s))
	if err != nil {
		return time.Time{}, false
	}
	next := spec.Next(now)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func cronSpec(s Schedule) string {
	return fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, (s.Weekdays & AllDays).cronField())
}
