package semerr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(2), WithResetTimeout(10*time.Millisecond))

	boom := errors.New("provider unreachable")
	require.Error(t, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpensAfterReset(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(1), WithResetTimeout(5*time.Millisecond))

	require.Error(t, cb.Execute(func() error { return errors.New("fail") }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteWithResultFallsBackWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(1), WithResetTimeout(time.Hour))
	require.Error(t, cb.Execute(func() error { return errors.New("fail") }))

	got, err := ExecuteWithResult(cb,
		func() ([]float32, error) { return []float32{1, 2, 3}, nil },
		func() ([]float32, error) { return nil, errors.New("fallback used") },
	)
	require.Error(t, err)
	assert.Nil(t, got)
}
