package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing() error { return errors.New("embedder unreachable") }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker tolerating 3 failures
	cb := NewCircuitBreaker("embedder:test",
		WithMaxFailures(3),
		WithResetTimeout(time.Second),
	)

	// When: three calls fail in a row
	for i := 0; i < 3; i++ {
		_ = cb.Execute(failing)
	}

	// Then: the circuit is open and further calls are rejected untried
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_BelowThresholdStaysClosed(t *testing.T) {
	cb := NewCircuitBreaker("embedder:test", WithMaxFailures(3))

	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	// Given: an open circuit past its reset timeout
	cb := NewCircuitBreaker("embedder:test",
		WithMaxFailures(2),
		WithResetTimeout(50*time.Millisecond),
	)
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// When: the probe call succeeds
	executed := false
	err := cb.Execute(func() error { executed = true; return nil })

	// Then: the circuit closes again
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("embedder:test",
		WithMaxFailures(2),
		WithResetTimeout(50*time.Millisecond),
	)
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(failing)

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("embedder:test", WithMaxFailures(3))

	// Two failures, then a success, then two more failures: the success
	// must have reset the count, so the circuit stays closed.
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("embedder:test",
		WithMaxFailures(50),
		WithResetTimeout(time.Second),
	)

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return errors.New("flaky")
			})
			completed.Add(1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), completed.Load())
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("embedder:text-embedding-3-small")

	assert.Equal(t, 5, cb.maxFailures)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
