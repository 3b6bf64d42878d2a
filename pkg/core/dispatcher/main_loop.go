// Package dispatcher 提供主线程调度器：单个协程按FIFO顺序执行结果投递
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/core/task"
)

// ErrLoopStopped 主线程调度器已停止
var ErrLoopStopped = errors.New("main loop stopped")

const defaultQueueSize = 1024

// Options 主线程调度器选项
type Options struct {
	QueueSize int
	WorkerID  string
	Logger    *zap.Logger
	// OnError 投递返回错误或panic时的回调（可选）
	OnError func(inv task.Invocation, err error)
}

// MainLoop 主线程调度器（对外导出）
// 所有投递都在同一个协程中串行执行，顺序与Post顺序一致
type MainLoop struct {
	mu      sync.RWMutex
	queue   chan task.Invocation
	stopped bool
	closed  chan struct{}
	done    chan struct{}
	started atomic.Bool

	worker  *task.Worker
	logger  *zap.Logger
	onError func(inv task.Invocation, err error)
}

// NewMainLoop 创建主线程调度器
func NewMainLoop(opts Options) *MainLoop {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "main"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &MainLoop{
		queue:   make(chan task.Invocation, opts.QueueSize),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		worker:  task.NewSharedWorker(opts.WorkerID),
		logger:  opts.Logger,
		onError: opts.OnError,
	}
}

// Worker 主线程的Worker标识
func (l *MainLoop) Worker() *task.Worker {
	return l.worker
}

// Pending 队列中待投递的调用数
func (l *MainLoop) Pending() int {
	return len(l.queue)
}

// Start 启动主线程协程，重复调用无效
func (l *MainLoop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.loop(ctx)
	l.logger.Info("✅ [MainLoop] 主线程调度器已启动", zap.String("worker", l.worker.ID()))
}

// Post 把调用排入主线程队列
// 队列满时阻塞到有空位；停止后返回ErrLoopStopped
func (l *MainLoop) Post(inv task.Invocation) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return ErrLoopStopped
	}
	l.queue <- inv
	return nil
}

// Stop 停止接收新调用，投递完已排队的调用后返回
func (l *MainLoop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	close(l.closed)
	l.mu.Unlock()

	if l.started.Load() {
		<-l.done
	}
	l.logger.Info("✅ [MainLoop] 主线程调度器已停止")
}

func (l *MainLoop) loop(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case inv := <-l.queue:
			l.deliver(ctx, inv)
		case <-l.closed:
			l.drain(ctx)
			return
		}
	}
}

// drain 停止后投递剩余调用，Stop已保证不会再有新的Post
func (l *MainLoop) drain(ctx context.Context) {
	for {
		select {
		case inv := <-l.queue:
			l.deliver(ctx, inv)
		default:
			return
		}
	}
}

func (l *MainLoop) deliver(ctx context.Context, inv task.Invocation) {
	if inv.Task == nil {
		return
	}
	if inv.Context != nil {
		ctx = inv.Context
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			l.logger.Error("❌ [MainLoop] 投递发生panic", zap.Stringer("step", inv.Step), zap.Error(err))
			l.report(inv, err)
		}
	}()

	if err := inv.Task.Execute(ctx, l.worker, inv.Step); err != nil {
		l.logger.Warn("[MainLoop] 投递返回错误", zap.Stringer("step", inv.Step), zap.Error(err))
		l.report(inv, err)
	}
}

func (l *MainLoop) report(inv task.Invocation, err error) {
	if l.onError != nil {
		l.onError(inv, err)
	}
}
