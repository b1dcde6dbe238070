package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAsyncQueue_RunsTasks(t *testing.T) {
	queue := NewAsyncQueue(4, nil)
	queue.Start()

	var executed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, queue.Enqueue(AsyncTask{
			Model: "todos",
			Hook:  "count",
			Fn: func(ctx context.Context) error {
				defer wg.Done()
				executed.Add(1)
				return nil
			},
		}))
	}

	wg.Wait()
	require.NoError(t, queue.Shutdown(context.Background()))
	assert.Equal(t, int32(20), executed.Load())
}

func TestAsyncQueue_ShutdownDrains(t *testing.T) {
	queue := NewAsyncQueue(1, nil)
	queue.Start()

	var executed atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Enqueue(AsyncTask{Hook: "slow", Fn: func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			executed.Add(1)
			return nil
		}}))
	}

	require.NoError(t, queue.Shutdown(context.Background()))
	assert.Equal(t, int32(5), executed.Load())
}

func TestAsyncQueue_NotStarted(t *testing.T) {
	queue := NewAsyncQueue(1, nil)
	err := queue.Enqueue(AsyncTask{Hook: "x", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueNotStarted)
}

func TestAsyncQueue_AfterShutdown(t *testing.T) {
	queue := NewAsyncQueue(1, nil)
	queue.Start()
	require.NoError(t, queue.Shutdown(context.Background()))
	require.NoError(t, queue.Shutdown(context.Background()))

	err := queue.Enqueue(AsyncTask{Hook: "x", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestAsyncQueue_LogsFailuresAndPanics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	queue := NewAsyncQueue(1, zap.New(core))
	queue.Start()

	require.NoError(t, queue.Enqueue(AsyncTask{Model: "todos", Hook: "fails", Fn: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, queue.Enqueue(AsyncTask{Model: "todos", Hook: "panics", Fn: func(context.Context) error {
		panic("bad")
	}}))

	done := make(chan struct{})
	require.NoError(t, queue.Enqueue(AsyncTask{Hook: "last", Fn: func(context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after a panicking task")
	}
	require.NoError(t, queue.Shutdown(context.Background()))

	failed := logs.FilterMessage("async hook failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "fails", failed[0].ContextMap()["hook"])
	assert.Equal(t, 1, logs.FilterMessage("async hook panicked").Len())
}

func TestAsyncQueue_ShutdownDeadline(t *testing.T) {
	queue := NewAsyncQueue(1, nil)
	queue.Start()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, queue.Enqueue(AsyncTask{Hook: "wait", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queue.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("running task was not cancelled")
	}
}

func TestAsyncQueue_ShutdownReleasesBlockedProducers(t *testing.T) {
	queue := NewAsyncQueue(1, nil)
	queue.Start()

	running := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, queue.Enqueue(AsyncTask{Hook: "slow", Fn: func(context.Context) error {
		close(running)
		<-release
		return nil
	}}))
	<-running
	for i := 0; i < defaultQueueSize; i++ {
		require.NoError(t, queue.Enqueue(AsyncTask{Hook: "noop", Fn: func(context.Context) error { return nil }}))
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- queue.Enqueue(AsyncTask{Hook: "late", Fn: func(context.Context) error { return nil }})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, queue.Shutdown(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after shutdown")
	}
}
