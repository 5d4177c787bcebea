package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	// 3 failures, 100ms timeout
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	require.Equal(t, StateClosed, cb.State())
	require.True(t, cb.Allow(), "closed breaker must allow requests")

	cb.Failure()
	cb.Failure()
	require.Equal(t, StateClosed, cb.State(), "should remain closed after 2 failures")

	cb.Failure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow(), "open breaker must reject requests")

	time.Sleep(150 * time.Millisecond)

	require.True(t, cb.Allow(), "should allow a probe after timeout")
	require.Equal(t, StateHalfOpen, cb.State())
	require.False(t, cb.Allow(), "only one probe at a time")

	// Probe fails -> open again
	cb.Failure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(150 * time.Millisecond)
	require.True(t, cb.Allow())

	// Probe succeeds -> closed
	cb.Success()
	require.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.failures)
	assert.True(t, cb.Allow())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
