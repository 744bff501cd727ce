package irrigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldTrigger(t *testing.T) {
	t.Parallel()

	daily := Schedule{Enabled: true, Channel: 1, Hour: 6, Minute: 0, Duration: 30, Weekdays: AllDays}
	at := monday(6, 0).Add(15 * time.Second)

	cases := []struct {
		name    string
		s       Schedule
		now     time.Time
		lastRun time.Time
		want    bool
	}{
		{name: "match", s: daily, now: at, want: true},
		{name: "disabled", s: Schedule{Hour: 6, Weekdays: AllDays}, now: at},
		{name: "wrong minute", s: daily, now: monday(6, 1)},
		{name: "wrong hour", s: daily, now: monday(7, 0)},
		{name: "weekday not set", s: Schedule{Enabled: true, Hour: 6, Weekdays: Sunday | Tuesday}, now: at},
		{name: "monday only", s: Schedule{Enabled: true, Hour: 6, Weekdays: Monday}, now: at, want: true},
		{name: "empty mask", s: Schedule{Enabled: true, Hour: 6, Weekdays: NoDays}, now: at},
		{name: "already ran this minute", s: daily, now: at, lastRun: monday(6, 0)},
		{name: "ran yesterday", s: daily, now: at, lastRun: monday(6, 0).AddDate(0, 0, -1), want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ShouldTrigger(tc.s, tc.now, tc.lastRun))
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()

	daily6 := Schedule{Enabled: true, Channel: 1, Hour: 6, Minute: 0, Duration: 30, Weekdays: AllDays}

	cases := []struct {
		name      string
		schedules []Schedule
		now       time.Time
		want      time.Time
		ok        bool
	}{
		{
			name:      "later today",
			schedules: []Schedule{daily6},
			now:       monday(5, 59),
			want:      monday(6, 0),
			ok:        true,
		},
		{
			name:      "exactly now rolls to tomorrow",
			schedules: []Schedule{daily6},
			now:       monday(6, 0),
			want:      monday(6, 0).AddDate(0, 0, 1),
			ok:        true,
		},
		{
			name:      "next allowed weekday",
			schedules: []Schedule{{Enabled: true, Hour: 6, Weekdays: Sunday}},
			now:       monday(7, 0),
			want:      time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC),
			ok:        true,
		},
		{
			name:      "same weekday next week",
			schedules: []Schedule{{Enabled: true, Hour: 6, Weekdays: Monday}},
			now:       monday(6, 30),
			want:      monday(6, 0).AddDate(0, 0, 7),
			ok:        true,
		},
		{
			name: "earliest wins",
			schedules: []Schedule{
				{Enabled: true, Hour: 18, Minute: 0, Weekdays: AllDays},
				{Enabled: true, Hour: 7, Minute: 15, Weekdays: AllDays},
				{Enabled: false, Hour: 6, Minute: 5, Weekdays: AllDays},
			},
			now:  monday(6, 0),
			want: monday(7, 15),
			ok:   true,
		},
		{
			name:      "empty mask excluded",
			schedules: []Schedule{{Enabled: true, Hour: 6, Weekdays: NoDays}},
			now:       monday(5, 0),
		},
		{
			name: "nothing enabled",
			now:  monday(5, 0),
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextOccurrence(tc.schedules, tc.now)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, got.Equal(tc.want), "got %s want %s", got, tc.want)
			}
		})
	}
}

func TestNextOccurrenceKeepsLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("X", -5*60*60)
	now := time.Date(2025, 3, 3, 23, 0, 0, 0, loc)

	got, ok := NextOccurrence([]Schedule{{Enabled: true, Hour: 6, Weekdays: AllDays}}, now)
	assert.True(t, ok)
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 6, got.Hour())
	assert.Equal(t, 4, got.Day())
}

func TestCronSpec(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "30 6 * * 1,3,5", cronSpec(Schedule{Hour: 6, Minute: 30, Weekdays: Monday | Wednesday | Friday}))
	assert.Equal(t, "0 0 * * 0,1,2,3,4,5,6", cronSpec(Schedule{Weekdays: AllDays}))
}
