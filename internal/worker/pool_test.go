package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(3, 16, time.Second)
	p.Start()

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		if !p.Submit("inc", func(ctx context.Context) error {
			count.Add(1)
			return nil
		}) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := count.Load(); got != 10 {
		t.Errorf("ran %d tasks, want 10", got)
	}
}

func TestPoolRecoversPanicsAndErrors(t *testing.T) {
	p := NewPool(1, 4, time.Second)
	p.Start()

	var ran atomic.Bool
	p.Submit("panic", func(ctx context.Context) error { panic("boom") })
	p.Submit("error", func(ctx context.Context) error { return errors.New("failed") })
	p.Submit("after", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !ran.Load() {
		t.Error("worker died after a panicking task")
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	p := NewPool(1, 1, time.Second)
	p.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	p.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if !p.Submit("queued", func(ctx context.Context) error { return nil }) {
		t.Fatal("first queued task should fit")
	}
	if p.Submit("dropped", func(ctx context.Context) error { return nil }) {
		t.Error("task should be dropped when the queue is full")
	}

	close(release)
	p.Shutdown(context.Background())

	if p.Submit("late", func(ctx context.Context) error { return nil }) {
		t.Error("submit after shutdown should be rejected")
	}
}

func TestTaskContextIsDetachedWithTimeout(t *testing.T) {
	p := NewPool(1, 1, 50*time.Millisecond)
	p.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	var taskErr error
	p.Submit("slow", func(ctx context.Context) error {
		defer wg.Done()
		select {
		case <-ctx.Done():
			taskErr = ctx.Err()
		case <-time.After(time.Second):
		}
		return taskErr
	})
	wg.Wait()
	p.Shutdown(context.Background())

	if !errors.Is(taskErr, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded, got %v", taskErr)
	}
}

func TestShutdownDeadline(t *testing.T) {
	p := NewPool(1, 1, 0)
	p.Start()

	release := make(chan struct{})
	defer close(release)
	p.Submit("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded, got %v", err)
	}
	if err := p.Shutdown(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("second shutdown: %v", err)
	}
}
