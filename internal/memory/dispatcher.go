package memory

import (
	"context"
	"fmt"

	"persona-chat/internal/provider"
	"persona-chat/internal/worker"
)

// Submitter 后台任务提交
type Submitter interface {
	Submit(name string, fn worker.Task) bool
}

// Dispatcher 把记忆更新交给后台任务池
type Dispatcher struct {
	updater *Updater
	pool    Submitter
}

// NewDispatcher 创建 Dispatcher
func NewDispatcher(updater *Updater, pool Submitter) *Dispatcher {
	return &Dispatcher{updater: updater, pool: pool}
}

// Schedule 提交一次更新，不阻塞调用方
// 历史会被复制，调用方之后修改切片不影响任务
func (d *Dispatcher) Schedule(job Job) bool {
	history := make([]provider.Message, len(job.History))
	copy(history, job.History)
	job.History = history

	name := fmt.Sprintf("memory:%d:%d", job.UserID, job.CharacterID)
	return d.pool.Submit(name, func(ctx context.Context) error {
		return d.updater.Update(ctx, job)
	})
}
