package stubservice

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var (
	// ErrPoolClosed is returned by Do once Close has been called
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted is returned by Do before Start
	ErrPoolNotStarted = errors.New("worker pool is not started")
)

// WorkerPool bounds how many analyses decode and score images at once
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewWorkerPool creates a pool; workers <= 0 uses one worker per CPU
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

// Start launches the workers. Calling it again, or after Close, has no effect.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.closed {
		return
	}
	wp.started = true
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.jobQueue {
		job()
	}
}

// Do runs job on a worker and waits for it. If ctx ends while the job is still
// queued it is skipped; a running job always completes.
func (wp *WorkerPool) Do(ctx context.Context, job func()) error {
	done := make(chan struct{})
	var skipped bool
	var mu sync.Mutex

	wrapped := func() {
		defer close(done)
		mu.Lock()
		skip := skipped
		mu.Unlock()
		if !skip {
			job()
		}
	}

	if err := wp.enqueue(ctx, wrapped); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		mu.Lock()
		skipped = true
		mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// enqueue holds the read lock while sending so Close cannot close the queue
// under a pending send.
func (wp *WorkerPool) enqueue(ctx context.Context, job func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrPoolClosed
	}
	if !wp.started {
		return ErrPoolNotStarted
	}
	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the workers to drain the queue
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}
