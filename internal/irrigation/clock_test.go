package irrigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWallClockExtrapolates(t *testing.T) {
	t.Parallel()
	fc := newFakeClock()
	w := NewWallClock(fc)

	_, ok := w.Now()
	assert.False(t, ok)

	w.Set(monday(6, 0))
	fc.Advance(90 * time.Second)
	now, ok := w.Now()
	assert.True(t, ok)
	assert.True(t, now.Equal(monday(6, 1).Add(30*time.Second)))

	w.Set(time.Time{})
	_, ok = w.Now()
	assert.False(t, ok)

	w.Set(monday(6, 0))
	w.Set(time.Unix(0, 0))
	_, ok = w.Now()
	assert.False(t, ok)

	w.Set(time.Unix(-3600, 0))
	_, ok = w.Now()
	assert.False(t, ok)
}

func TestSystemTimeFloor(t *testing.T) {
	t.Parallel()

	_, ok := SystemTime{MinValid: time.Now().Add(time.Hour)}.Now()
	assert.False(t, ok)

	_, ok = SystemTime{}.Now()
	assert.True(t, ok)
}
