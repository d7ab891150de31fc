package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateEnforcesMinInterval(t *testing.T) {
	const interval = 50 * time.Millisecond
	g := NewGate(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(ctx))
		g.Release()
	}
	elapsed := time.Since(start)

	// First admission is free; the next two each wait out the interval.
	assert.GreaterOrEqual(t, elapsed, 2*interval)
}

func TestGateAdmitsWaitersInOrder(t *testing.T) {
	g := NewGate(10 * time.Millisecond)
	ctx := context.Background()

	// Hold the gate so subsequent acquirers queue up.
	require.NoError(t, g.Acquire(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, g.Acquire(ctx))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			g.Release()
		}(i)
		// Stagger the goroutines so queue positions are deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	g.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestGateAcquireHonorsCancellation(t *testing.T) {
	g := NewGate(0)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The holder can still release and a fresh acquire succeeds.
	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
}

func TestNilGateIsNoOp(t *testing.T) {
	var g *Gate
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
}
