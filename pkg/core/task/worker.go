package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Worker 执行任务的工作协程标识（对外导出）
// 由执行器或主线程调度器持有并复用；作业记录通过它中断正在执行的调用
type Worker struct {
	id     string
	shared bool

	mu          sync.Mutex
	interrupted bool
	cancel      context.CancelFunc
}

// NewWorker 创建Worker，id为空时自动生成
func NewWorker(id string) *Worker {
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}
	return &Worker{id: id}
}

// NewSharedWorker 创建由执行器或主线程调度器持有、被多个作业轮流使用的Worker
// 空闲时收到的中断请求直接丢弃，不会影响下一个作业的调用
func NewSharedWorker(id string) *Worker {
	w := NewWorker(id)
	w.shared = true
	return w
}

// ID 返回Worker标识
func (w *Worker) ID() string {
	return w.id
}

// Interrupt 请求中断当前调用
// 独占的Worker空闲时，中断请求会保留到下一次调用开始；共享的Worker空闲时中断无效。
// 作业记录只应在调用进行中中断共享Worker，空闲时的中断由Worker的持有方发起。
func (w *Worker) Interrupt() {
	w.mu.Lock()
	cancel := w.cancel
	if cancel == nil && w.shared {
		w.mu.Unlock()
		return
	}
	w.interrupted = true
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Interrupted 是否存在未处理的中断请求
func (w *Worker) Interrupted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interrupted
}

// bind 为一次调用派生可中断的上下文
// 返回的release必须在调用结束时执行：清除中断标记，使Worker可被复用
func (w *Worker) bind(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	w.mu.Lock()
	w.cancel = cancel
	pending := w.interrupted
	w.mu.Unlock()

	if pending {
		cancel()
	}

	return ctx, func() {
		w.mu.Lock()
		w.cancel = nil
		w.interrupted = false
		w.mu.Unlock()
		cancel()
	}
}
