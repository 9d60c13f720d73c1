package stubservice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_RunsEveryJob(t *testing.T) {
	pool := NewWorkerPool(3)
	pool.Start()
	pool.Start()
	defer pool.Close()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Do(context.Background(), func() { atomic.AddInt64(&counter, 1) }); err != nil {
				t.Errorf("Expected job to run, got %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != 10 {
		t.Errorf("Expected 10 jobs to run, got %d", counter)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	defer pool.Close()

	var running, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Do(context.Background(), func() {
				n := atomic.AddInt64(&running, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&running, -1)
			})
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent jobs, saw %d", peak)
	}
}

func TestWorkerPool_CanceledWhileQueued(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	defer pool.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go pool.Do(context.Background(), func() {
		close(started)
		<-release
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Do(ctx, func() { ran = true })
	}()

	time.Sleep(40 * time.Millisecond)
	close(release)

	if err := <-errCh; err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if ran {
		t.Error("Expected queued job to be skipped after cancellation")
	}
}

func TestWorkerPool_DefaultWorkers(t *testing.T) {
	pool := NewWorkerPool(0)
	if pool.workers < 1 {
		t.Errorf("Expected at least one worker, got %d", pool.workers)
	}
}

func TestWorkerPool_DoAfterClose(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Close()
	pool.Close()

	ran := false
	err := pool.Do(context.Background(), func() { ran = true })
	if err != ErrPoolClosed {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if ran {
		t.Error("Expected job not to run on a closed pool")
	}

	// Start after Close must not revive the pool
	pool.Start()
	if err := pool.Do(context.Background(), func() {}); err != ErrPoolClosed {
		t.Errorf("Expected ErrPoolClosed after restart attempt, got %v", err)
	}
}

func TestWorkerPool_DoBeforeStart(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	result := make(chan error, 1)
	go func() {
		result <- pool.Do(context.Background(), func() {})
	}()

	select {
	case err := <-result:
		if err != ErrPoolNotStarted {
			t.Errorf("Expected ErrPoolNotStarted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Do to return instead of blocking on an unstarted pool")
	}
}
