// Package executor 提供执行第一阶段（耗时操作）的工作协程池
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/core/task"
)

var (
	// ErrExecutorStopped 执行器未运行或已关闭
	ErrExecutorStopped = errors.New("executor stopped")
	// ErrNilInvocation 提交的调用不包含任务
	ErrNilInvocation = errors.New("invocation has no task")
)

const (
	maxGlobalWorkers = 1000  // 全局最大并发数上限
	defaultQueueSize = 10000 // 默认任务队列大小
)

// ErrorHandler 调用返回错误、panic或因关闭被丢弃时的回调
type ErrorHandler func(inv task.Invocation, err error)

// Options 执行器选项
type Options struct {
	QueueSize int
	Logger    *zap.Logger
	OnError   ErrorHandler
}

// Executor 执行器核心结构体（对外导出）
// Worker池本身就是并发令牌：取到Worker才能执行，执行完归还
type Executor struct {
	mu            sync.RWMutex
	maxWorkers    int
	workerPool    chan *task.Worker
	taskQueue     chan task.Invocation
	wg            sync.WaitGroup
	submitters    sync.WaitGroup
	running       bool
	shutdown      chan struct{}
	schedulerDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	onErr  ErrorHandler
}

// NewExecutor 创建执行器实例
func NewExecutor(maxWorkers int, opts Options) (*Executor, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10 // 默认值
	}
	if maxWorkers > maxGlobalWorkers {
		return nil, errors.Errorf("最大并发数不能超过 %d", maxGlobalWorkers)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	exec := &Executor{
		maxWorkers:    maxWorkers,
		workerPool:    make(chan *task.Worker, maxWorkers),
		taskQueue:     make(chan task.Invocation, opts.QueueSize),
		shutdown:      make(chan struct{}),
		schedulerDone: make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		logger:        opts.Logger,
		onErr:         opts.OnError,
	}
	for i := 0; i < maxWorkers; i++ {
		exec.workerPool <- task.NewSharedWorker(fmt.Sprintf("pool-%d", i+1))
	}

	// 启动任务调度器
	go exec.scheduler()

	return exec, nil
}

// Start 启动执行器
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.logger.Info("✅ [Executor] 执行器已启动", zap.Int("max_workers", e.maxWorkers))
}

// MaxWorkers 池大小
func (e *Executor) MaxWorkers() int {
	return e.maxWorkers
}

// ActiveCount 正在执行的调用数
func (e *Executor) ActiveCount() int {
	return e.maxWorkers - len(e.workerPool)
}

// Submit 提交调用到任务队列
// 队列已满时阻塞，直到有空间或执行器关闭
func (e *Executor) Submit(inv task.Invocation) error {
	if inv.Task == nil {
		return ErrNilInvocation
	}

	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return ErrExecutorStopped
	}
	// Shutdown在running置为false之后等待所有进行中的Submit结束，再清空队列
	e.submitters.Add(1)
	e.mu.RUnlock()
	defer e.submitters.Done()

	select {
	case e.taskQueue <- inv:
		return nil
	case <-e.shutdown:
		return ErrExecutorStopped
	}
}

// Shutdown 关闭执行器
// 停止调度新调用，已入队未执行的调用通过错误回调报告；
// 在ctx到期前等待正在执行的调用结束，到期后取消所有正在执行的调用（包括携带自身上下文的调用）
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.shutdown)
	e.mu.Unlock()

	// 调度器退出后不会再有wg.Add
	<-e.schedulerDone
	// 与关闭竞争的Submit可能在调度器清空队列之后才入队
	e.submitters.Wait()
	e.dropQueued()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.logger.Info("✅ [Executor] 执行器已关闭")
		return nil
	case <-ctx.Done():
		e.cancel()
		e.logger.Warn("[Executor] 关闭超时，已中断正在执行的调用")
		return ctx.Err()
	}
}

// scheduler 任务调度器（内部方法）
func (e *Executor) scheduler() {
	defer close(e.schedulerDone)
	for {
		select {
		case inv := <-e.taskQueue:
			if !e.dispatch(inv) {
				e.dropQueued()
				return
			}
		case <-e.shutdown:
			e.dropQueued()
			return
		}
	}
}

// dispatch 分配Worker并执行，执行器关闭时返回false
func (e *Executor) dispatch(inv task.Invocation) bool {
	select {
	case w := <-e.workerPool:
		e.wg.Add(1)
		go e.execute(inv, w)
		return true
	case <-e.shutdown:
		e.report(inv, ErrExecutorStopped)
		return false
	}
}

// dropQueued 关闭时通知仍在队列中的调用
func (e *Executor) dropQueued() {
	for {
		select {
		case inv := <-e.taskQueue:
			e.report(inv, ErrExecutorStopped)
		default:
			return
		}
	}
}

func (e *Executor) execute(inv task.Invocation, w *task.Worker) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic: %v", r)
			e.logger.Error("❌ [Executor] 调用发生panic", zap.String("worker", w.ID()), zap.Error(err))
			e.report(inv, err)
		}
		// 归还Worker
		e.workerPool <- w
		e.wg.Done()
	}()

	// 调用自带的上下文同样受执行器关闭的约束
	ctx := e.ctx
	if inv.Context != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(inv.Context)
		stop := context.AfterFunc(e.ctx, cancel)
		defer func() {
			stop()
			cancel()
		}()
	}

	if err := inv.Task.Execute(ctx, w, inv.Step); err != nil {
		e.logger.Warn("[Executor] 调用返回错误", zap.String("worker", w.ID()), zap.Stringer("step", inv.Step), zap.Error(err))
		e.report(inv, err)
	}
}

func (e *Executor) report(inv task.Invocation, err error) {
	if e.onErr != nil {
		e.onErr(inv, err)
	}
}
