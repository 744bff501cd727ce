package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "valvectl/pkg/logx"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	mem := NewMemory(0)
	st := WithBreaker(mem, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Hour}, logx.Nop())
	ctx := context.Background()

	require.NoError(t, st.SaveSchedules(ctx, nil))
	assert.Equal(t, "closed", BreakerState(st))

	mem.SetFail(true)
	require.ErrorIs(t, st.SaveSchedules(ctx, nil), ErrUnavailable)
	require.ErrorIs(t, st.SaveSchedules(ctx, nil), ErrUnavailable)
	assert.Equal(t, "open", BreakerState(st))

	// Open: the backend is not called even once it recovers.
	mem.SetFail(false)
	require.ErrorIs(t, st.SaveSchedules(ctx, nil), ErrUnavailable)
	assert.Equal(t, 1, mem.SaveCount())

	// Reads bypass the breaker.
	_, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
}

func TestBreakerStateUnwrapped(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", BreakerState(NewMemory(0)))
	assert.Nil(t, WithBreaker(nil, BreakerConfig{}, logx.Nop()))
}
