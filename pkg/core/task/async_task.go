package task

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrUnexpectedStep 调用步骤与当前阶段不匹配（调度方的使用错误）
	ErrUnexpectedStep = errors.New("unexpected step for current phase")
	// ErrNoDispatcher 任务未配置主线程调度器，无法交接第二阶段
	ErrNoDispatcher = errors.New("no dispatcher configured")
)

// LongOperation 在工作协程中执行的耗时操作，应当响应ctx的取消
type LongOperation[R any] func(ctx context.Context) (R, error)

// ResultCallback 未注册处理器时在主线程执行的回调
type ResultCallback[R any] func(result R)

// HandlerCallback 注册了处理器时在主线程执行的回调
type HandlerCallback[R any, H any] func(handler *H, result R)

// Option 任务选项
type Option func(*options)

type options struct {
	logger  *zap.Logger
	persist bool
}

// WithLogger 注入日志组件
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPersist 设置完成后是否希望被保留
func WithPersist(persist bool) Option {
	return func(o *options) {
		o.persist = persist
	}
}

// AsyncTask 两阶段异步任务（对外导出）
// 第一阶段在工作协程执行耗时操作，第二阶段由主线程调度器投递结果。
// 回调在任务的临界区内执行，回调中不能再调用同一任务的方法。
type AsyncTask[R any, H any] struct {
	mu          sync.Mutex
	state       *TaskState
	job         JobRecord
	handler     Handle[H]
	withHandler bool
	result      R
	// ready 第一阶段的结果已保存、等待投递
	ready bool

	op         LongOperation[R]
	onResult   ResultCallback[R]
	onHandler  HandlerCallback[R, H]
	dispatcher Dispatcher
	logger     *zap.Logger
	persist    atomic.Bool
}

// NewAsyncTask 创建不带结果处理器的任务
func NewAsyncTask[R any](op LongOperation[R], callback ResultCallback[R], dispatcher Dispatcher, opts ...Option) *AsyncTask[R, struct{}] {
	t := newAsyncTask[R, struct{}](op, dispatcher, opts)
	t.onResult = callback
	return t
}

// NewAsyncTaskWithHandler 创建带结果处理器的任务
// 任务只通过handler检查处理器是否存活，不会延长处理器的生命周期
func NewAsyncTaskWithHandler[R any, H any](op LongOperation[R], handler Handle[H], callback HandlerCallback[R, H], dispatcher Dispatcher, opts ...Option) *AsyncTask[R, H] {
	t := newAsyncTask[R, H](op, dispatcher, opts)
	t.handler = handler
	t.withHandler = true
	t.onHandler = callback
	return t
}

func newAsyncTask[R any, H any](op LongOperation[R], dispatcher Dispatcher, opts []Option) *AsyncTask[R, H] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	t := &AsyncTask[R, H]{
		state:      NewTaskState(),
		op:         op,
		dispatcher: dispatcher,
		logger:     o.logger,
	}
	t.persist.Store(o.persist)
	return t
}

// SetJob 设置所属作业记录
func (t *AsyncTask[R, H]) SetJob(job JobRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job = job
}

// ClaimJob 仅当任务处于Waiting且未绑定作业时绑定job，检查和绑定在同一临界区内完成
func (t *AsyncTask[R, H]) ClaimJob(job JobRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job != nil || t.state.Phase() != PhaseWaiting {
		return false
	}
	t.job = job
	return true
}

// Job 返回所属作业记录
func (t *AsyncTask[R, H]) Job() JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

// Phase 返回当前阶段
func (t *AsyncTask[R, H]) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Phase()
}

// ShouldPersist 完成后是否希望被保留（仅供外部调度方参考）
func (t *AsyncTask[R, H]) ShouldPersist() bool {
	return t.persist.Load()
}

// SetShouldPersist 设置保留标记
func (t *AsyncTask[R, H]) SetShouldPersist(persist bool) {
	t.persist.Store(persist)
}

// Run 根据当前阶段推导步骤并执行
func (t *AsyncTask[R, H]) Run(ctx context.Context, w *Worker) error {
	switch phase := t.Phase(); phase {
	case PhaseWaiting:
		return t.Execute(ctx, w, StepRunLongOperation)
	case PhaseStarted:
		return t.Execute(ctx, w, StepDeliverResult)
	default:
		return errors.Wrapf(ErrUnexpectedStep, "phase=%s", phase)
	}
}

// Execute 执行一次调用
// 步骤与阶段不匹配时返回ErrUnexpectedStep，不改变任务状态，也不通知作业记录。
// 被中断时任务转为Cancelled并返回nil；耗时操作或交接的错误原样返回。
// 步骤被接受后，无论以何种方式退出，都会执行清理并释放Worker的中断状态。
func (t *AsyncTask[R, H]) Execute(parent context.Context, w *Worker, step Step) error {
	if err := t.checkStep(step); err != nil {
		t.logger.Warn("[AsyncTask] 阶段不匹配，忽略本次调用", zap.Stringer("step", step), zap.Error(err))
		return err
	}
	if w == nil {
		w = NewWorker("")
	}
	ctx, release := w.bind(parent)
	defer release()
	ctx = WithWorkerID(ctx, w.ID())
	logger := t.logger.With(zap.String("worker", w.ID()), zap.Stringer("step", step))

	if job := t.Job(); job != nil {
		job.SetCurrentWorker(w)
		if identified, ok := job.(interface{ ID() string }); ok {
			ctx = WithJobID(ctx, identified.ID())
		}
	}

	proceed, err := t.enter(ctx, step)
	if err != nil {
		logger.Warn("[AsyncTask] 阶段不匹配，忽略本次调用", zap.Error(err))
		return err
	}
	defer t.cleanUp(logger)
	if !proceed {
		logger.Debug("[AsyncTask] 调用被中断，任务已取消")
		return nil
	}

	if step == StepRunLongOperation {
		return t.runLongOperation(ctx, parent, logger)
	}
	return t.deliverResult(ctx, logger)
}

func (t *AsyncTask[R, H]) checkStep(step Step) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stepMismatch(step)
}

// stepMismatch 调用方需持有t.mu
// 第一阶段要求Waiting；第二阶段要求Started且结果已就绪
func (t *AsyncTask[R, H]) stepMismatch(step Step) error {
	phase := t.state.Phase()
	switch step {
	case StepRunLongOperation:
		if phase == PhaseWaiting {
			return nil
		}
	case StepDeliverResult:
		if phase == PhaseStarted && t.ready {
			return nil
		}
	default:
		return errors.Wrapf(ErrUnexpectedStep, "step=%s", step)
	}
	return errors.Wrapf(ErrUnexpectedStep, "phase=%s step=%s", phase, step)
}

// enter 在同一临界区内校验步骤、检查中断并完成入口迁移
// proceed为false且err为nil表示调用已被中断，任务转为Cancelled
func (t *AsyncTask[R, H]) enter(ctx context.Context, step Step) (proceed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.stepMismatch(step); err != nil {
		return false, err
	}
	if ctx.Err() != nil {
		t.state.Cancelled()
		return false, nil
	}
	if step == StepRunLongOperation {
		t.state.Started()
	} else {
		// 认领本次投递，重复投递将被视为阶段不匹配
		t.ready = false
	}
	return true, nil
}

func (t *AsyncTask[R, H]) runLongOperation(ctx, parent context.Context, logger *zap.Logger) error {
	logger.Debug("[AsyncTask] 开始执行耗时操作")
	result, err := t.op(ctx)
	if ctx.Err() != nil {
		t.cancel(logger)
		return nil
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.result = result
	t.ready = true
	t.mu.Unlock()

	if t.dispatcher == nil {
		return ErrNoDispatcher
	}
	// 交接给主线程后立即返回，不等待投递
	return t.dispatcher.Post(Invocation{Task: t, Step: StepDeliverResult, Context: parent})
}

func (t *AsyncTask[R, H]) deliverResult(ctx context.Context, logger *zap.Logger) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ctx.Err() != nil {
		t.state.Cancelled()
		logger.Debug("[AsyncTask] 投递前被中断，任务已取消")
		return nil
	}

	switch {
	case t.job == nil:
		logger.Debug("[AsyncTask] 作业记录已释放，跳过回调")
	case !t.withHandler:
		if t.onResult != nil {
			t.onResult(t.result)
		}
	default:
		handler, alive := t.liveHandler()
		if !alive {
			logger.Debug("[AsyncTask] 结果处理器已不可达，跳过回调")
			break
		}
		if t.onHandler != nil {
			t.onHandler(handler, t.result)
		}
	}

	t.state.Completed()
	return nil
}

// liveHandler 调用方需持有t.mu
func (t *AsyncTask[R, H]) liveHandler() (*H, bool) {
	if t.handler == nil {
		return nil, false
	}
	return t.handler.Get()
}

func (t *AsyncTask[R, H]) cancel(logger *zap.Logger) {
	t.mu.Lock()
	t.state.Cancelled()
	t.mu.Unlock()
	logger.Debug("[AsyncTask] 调用被中断，任务已取消")
}

// cleanUp 幂等清理：仅在Completed/Cancelled时重置并通知作业记录
func (t *AsyncTask[R, H]) cleanUp(logger *zap.Logger) {
	t.mu.Lock()
	if !t.state.IsCleanable() {
		t.mu.Unlock()
		return
	}
	final := t.state.Phase()
	job := t.job
	var zero R
	t.state.Reset()
	t.result = zero
	t.ready = false
	t.handler = nil
	t.job = nil
	t.mu.Unlock()

	logger.Debug("[AsyncTask] 清理完成", zap.Stringer("final_phase", final))
	if job == nil {
		return
	}
	if observer, ok := job.(PhaseObserver); ok {
		observer.ObserveFinalPhase(final)
	}
	job.CompletedJob()
}
