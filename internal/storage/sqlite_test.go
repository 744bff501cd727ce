package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "valvectl/pkg/logx"
)

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "valvectl.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second, JournalMax: 10}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	_, err = st.LoadSchedules(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveSchedules(ctx, nil))
	got, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	recs := []Record{
		{Enabled: true, Channel: 3, Hour: 21, Minute: 15, Duration: 240, Weekdays: 0x41},
		{Enabled: true, Channel: 1, Hour: 6, Minute: 0, Duration: 1, Weekdays: 0x01},
	}
	require.NoError(t, st.SaveSchedules(ctx, recs))
	got, err = st.LoadSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	ended := time.Date(2025, 3, 3, 6, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendSession(ctx, SessionEntry{
			ID:               fmt.Sprintf("id-%d", i),
			Channel:          i + 1,
			Origin:           "schedule",
			Slot:             i,
			Reason:           "completed",
			EndedAt:          ended,
			RequestedMinutes: 30,
			ElapsedSeconds:   1800,
		}))
	}
	sessions, err := st.RecentSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "id-2", sessions[0].ID)
	assert.True(t, sessions[0].StartedAt.IsZero())
	assert.True(t, sessions[0].EndedAt.Equal(ended))
}

func TestSQLiteReopenKeepsSchedules(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "valvectl.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.SaveSchedules(ctx, []Record{{Enabled: true, Channel: 2, Hour: 5, Duration: 10, Weekdays: 0x7F}}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Channel)
}
