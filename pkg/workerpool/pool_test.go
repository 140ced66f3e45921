package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolProcessesTasks(t *testing.T) {
	var processed int64
	pool, err := New(Config{Workers: 4, QueueSize: 16}, func(ctx context.Context, task *Task) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pool.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		task := &Task{ID: "task", Done: func(err error) { wg.Done() }}
		if err := pool.Submit(task); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	wg.Wait()

	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if atomic.LoadInt64(&processed) != 10 {
		t.Errorf("expected 10 tasks processed, got %d", processed)
	}
}

func TestPoolReportsFailureWithoutRetrying(t *testing.T) {
	var attempts int64
	taskErr := errors.New("dispatch failed")
	pool, err := New(Config{Workers: 1, QueueSize: 4}, func(ctx context.Context, task *Task) error {
		atomic.AddInt64(&attempts, 1)
		return taskErr
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pool.Start()

	done := make(chan error, 1)
	if err := pool.Submit(&Task{ID: "t-1", Done: func(err error) { done <- err }}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, taskErr) {
			t.Errorf("expected task error delivered to Done, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task never completed")
	}

	pool.Stop()
	if got := atomic.LoadInt64(&attempts); got != 1 {
		t.Errorf("a failed task must run exactly once, ran %d times", got)
	}
}

func TestPoolBackpressure(t *testing.T) {
	block := make(chan struct{})
	pool, err := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) error {
		<-block
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// Fill the single worker plus the queue, then expect rejection.
	submitted := 0
	for i := 0; i < 10; i++ {
		if err := pool.Submit(&Task{ID: "t"}); err != nil {
			break
		}
		submitted++
		time.Sleep(10 * time.Millisecond)
	}
	if submitted >= 10 {
		t.Error("expected a full queue to reject further submissions")
	}
}

func TestSubmitRacingStopDoesNotPanic(t *testing.T) {
	pool, err := New(Config{Workers: 2, QueueSize: 4, GracefulShutdownTimeout: time.Second},
		func(ctx context.Context, task *Task) error { return nil }, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pool.Start()

	// Hammer Submit from several goroutines while Stop closes the channel;
	// late submissions must be rejected, never panic on a closed channel.
	quit := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-quit:
					return
				default:
					pool.Submit(&Task{ID: "t"})
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(quit)
	wg.Wait()

	if err := pool.Stop(); err != nil {
		t.Fatalf("second Stop must be a no-op, got %v", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) error {
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Error("expected submission to a stopped pool to fail")
	}
}
