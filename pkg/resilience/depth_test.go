package resilience

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthBudget_EnterLeave(t *testing.T) {
	d := NewDepthBudget(10, 2)

	require.NoError(t, d.Enter())
	require.NoError(t, d.Enter())
	assert.Equal(t, 2, d.Depth())
	assert.Equal(t, 6, d.Remaining())

	d.Leave()
	assert.Equal(t, 1, d.Depth())
	d.Leave()
	assert.Equal(t, 0, d.Depth())
}

func TestDepthBudget_FailsInsideBuffer(t *testing.T) {
	d := NewDepthBudget(10, 2)

	// Enter succeeds up to limit minus buffer
	for i := 0; i < 8; i++ {
		require.NoError(t, d.Enter())
	}
	assert.Equal(t, 0, d.Remaining())
	assert.True(t, d.Exceeded())

	// The buffer levels are never granted
	err := d.Enter()
	require.Error(t, err)
	assert.True(t, IsDepthLimit(err))

	var depthErr *DepthLimitError
	require.True(t, errors.As(err, &depthErr))
	assert.Equal(t, 8, depthErr.Depth)
	assert.Equal(t, 10, depthErr.Limit)
	assert.Equal(t, 2, depthErr.Buffer)

	// A failed Enter claims nothing
	assert.Equal(t, 8, d.Depth())

	// Leaving one level makes room again
	d.Leave()
	require.NoError(t, d.Enter())
}

func TestDepthBudget_Defaults(t *testing.T) {
	d := NewDepthBudget(0, 0)

	assert.Equal(t, DefaultDepthLimit, d.Limit())
	assert.Equal(t, DefaultDepthBuffer, d.Buffer())
	assert.Equal(t, DefaultDepthLimit-DefaultDepthBuffer, d.Remaining())
}

func TestDepthBudget_BufferClampedBelowLimit(t *testing.T) {
	d := NewDepthBudget(5, 50)

	assert.Equal(t, 5, d.Limit())
	assert.Equal(t, 4, d.Buffer())
	require.NoError(t, d.Enter())
	require.Error(t, d.Enter())
}

func TestDepthBudget_LeaveNeverGoesNegative(t *testing.T) {
	d := NewDepthBudget(10, 2)

	d.Leave()
	d.Leave()
	assert.Equal(t, 0, d.Depth())
}

func TestDepthBudget_Reset(t *testing.T) {
	d := NewDepthBudget(4, 1)

	require.NoError(t, d.Enter())
	require.NoError(t, d.Enter())
	require.NoError(t, d.Enter())
	require.Error(t, d.Enter())

	d.Reset()
	assert.Equal(t, 0, d.Depth())
	require.NoError(t, d.Enter())
}

func TestDepthBudget_ConcurrentEnter(t *testing.T) {
	d := NewDepthBudget(100, 50)

	// 100 goroutines race for 50 grantable levels
	var wg sync.WaitGroup
	grantedCh := make(chan struct{}, 100)
	deniedCh := make(chan struct{}, 100)

	wg.Add(100)
	for i := 0; i < 100; i++ {
		go func() {
			defer wg.Done()
			if err := d.Enter(); err != nil {
				deniedCh <- struct{}{}
			} else {
				grantedCh <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(grantedCh)
	close(deniedCh)

	assert.Equal(t, 50, len(grantedCh))
	assert.Equal(t, 50, len(deniedCh))
	assert.Equal(t, 50, d.Depth())
}

func TestIsDepthLimit(t *testing.T) {
	assert.True(t, IsDepthLimit(&DepthLimitError{Depth: 1, Limit: 2, Buffer: 1}))
	assert.False(t, IsDepthLimit(errors.New("regular error")))
	assert.False(t, IsDepthLimit(nil))
}
