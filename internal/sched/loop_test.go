package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopRunsPostedTasksSerially(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	var order []int
	done := make(chan struct{})

	l.Post(func() { order = append(order, 1) })
	l.Post(func() {
		order = append(order, 2)
		close(done)
	})

	go l.Run(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tasks")
	}
	cancel()

	require.Equal(t, []int{1, 2}, order)
}

func TestLoopAfterFuncFiresOnLoopGoroutine(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Run(ctx)

	var fired atomic.Bool
	done := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	require.True(t, fired.Load())
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
