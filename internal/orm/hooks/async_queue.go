package hooks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 100
)

var (
	// ErrQueueNotStarted is returned by Enqueue before Start
	ErrQueueNotStarted = errors.New("queue not started")
	// ErrQueueClosed is returned by Enqueue once Shutdown began
	ErrQueueClosed = errors.New("queue shutdown")
)

// AsyncTask is one deferred run of an after hook
type AsyncTask struct {
	Model string
	Hook  string
	Fn    func(ctx context.Context) error
}

// AsyncQueue runs after-stage hooks marked async on a worker pool. Tasks
// outlive the write that queued them; their failures are only logged.
type AsyncQueue struct {
	workers int
	logger  *zap.Logger
	tasks   chan AsyncTask
	wg      sync.WaitGroup

	// closing releases producers blocked on a full buffer; tasks is closed
	// only once every producer has left
	closing chan struct{}
	senders sync.WaitGroup

	// ctx is handed to every task and cancelled when a shutdown deadline
	// passes
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewAsyncQueue creates a queue served by workers goroutines, 4 when
// workers is not positive
func NewAsyncQueue(workers int, logger *zap.Logger) *AsyncQueue {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncQueue{
		workers: workers,
		logger:  logger.Named("hooks"),
		tasks:   make(chan AsyncTask, defaultQueueSize),
		closing: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it again has no effect.
func (q *AsyncQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go func() {
			defer q.wg.Done()
			for task := range q.tasks {
				q.run(task)
			}
		}()
	}
}

func (q *AsyncQueue) run(task AsyncTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("async hook panicked",
				zap.String("model", task.Model),
				zap.String("hook", task.Hook),
				zap.Any("panic", r))
		}
	}()

	if err := task.Fn(q.ctx); err != nil {
		q.logger.Warn("async hook failed",
			zap.String("model", task.Model),
			zap.String("hook", task.Hook),
			zap.Error(err))
	}
}

// Enqueue hands a task to the workers. It blocks while the buffer is full,
// until Shutdown begins.
func (q *AsyncQueue) Enqueue(task AsyncTask) error {
	q.mu.RLock()
	switch {
	case q.closed:
		q.mu.RUnlock()
		return ErrQueueClosed
	case !q.started:
		q.mu.RUnlock()
		return ErrQueueNotStarted
	}
	q.senders.Add(1)
	q.mu.RUnlock()
	defer q.senders.Done()

	select {
	case q.tasks <- task:
		return nil
	case <-q.closing:
		return ErrQueueClosed
	}
}

// Shutdown stops accepting tasks and waits for the queued ones. When ctx
// ends first, running tasks see their context cancelled and the remaining
// ones are abandoned.
func (q *AsyncQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.senders.Wait()
		close(q.tasks)
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		q.logger.Warn("async hooks abandoned at shutdown", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
