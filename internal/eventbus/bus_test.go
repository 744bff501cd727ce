package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixFiltering(t *testing.T) {
	t.Parallel()
	b := New()

	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	sessions, unsubSessions := b.Subscribe(4, "irrigation.session.")
	defer unsubSessions()

	b.Publish(Event{Type: "irrigation.session.started"})
	b.Publish(Event{Type: "irrigation.schedules.changed"})

	assert.Len(t, all, 2)
	require.Len(t, sessions, 1)
	e := <-sessions
	assert.Equal(t, "irrigation.session.started", e.Type)
	assert.False(t, e.Time.IsZero())
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}
