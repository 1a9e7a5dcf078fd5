// Package worker 运行与请求解耦的后台任务
// 任务提交后立即返回，失败和 panic 只记录日志，不影响调用方
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolClosed 池已关闭
var ErrPoolClosed = errors.New("worker pool closed")

// Task 后台任务，ctx 带有独立的超时
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Pool 固定数量的 worker + 有界队列
type Pool struct {
	workers int
	timeout time.Duration
	queue   chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool 创建任务池
// 参数:
//   - workers: 并发 worker 数，小于 1 时为 1
//   - queueSize: 队列长度，满时新任务被丢弃
//   - timeout: 单个任务的超时时间，0 表示不限制
func NewPool(workers, queueSize int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		workers: workers,
		timeout: timeout,
		queue:   make(chan job, queueSize),
	}
}

// Start 启动 worker
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task panic", "task", j.name, "panic", r)
		}
	}()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		slog.Warn("background task failed", "task", j.name, "error", err, "elapsed", time.Since(start))
		return
	}
	slog.Debug("background task done", "task", j.name, "elapsed", time.Since(start))
}

// Submit 非阻塞提交任务
// 返回 false 表示队列已满或池已关闭，任务被丢弃
func (p *Pool) Submit(name string, fn Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		slog.Warn("background task dropped, pool closed", "task", name)
		return false
	}

	select {
	case p.queue <- job{name: name, fn: fn}:
		return true
	default:
		slog.Warn("background task dropped, queue full", "task", name, "queue", cap(p.queue))
		return false
	}
}

// Shutdown 停止接收任务并等待队列执行完毕
// ctx 到期时返回 ctx.Err()，剩余任务在后台继续执行
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
