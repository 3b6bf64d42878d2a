// Package manager 把两阶段任务提交到工作协程池，并跟踪每个任务的作业记录
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/core/cache"
	"github.com/LENAX/async-task/pkg/core/dispatcher"
	"github.com/LENAX/async-task/pkg/core/executor"
	"github.com/LENAX/async-task/pkg/core/task"
	"github.com/LENAX/async-task/pkg/storage"
)

var (
	// ErrManagerStopped 管理器未启动或已停止
	ErrManagerStopped = errors.New("manager not running")
	// ErrJobNotFound 作业不存在或已结束
	ErrJobNotFound = errors.New("job not found")
	// ErrTaskBusy 任务已绑定作业或不处于Waiting阶段
	ErrTaskBusy = errors.New("task is busy")
)

// Options 管理器选项
type Options struct {
	Workers           int
	ExecutorQueueSize int
	MainQueueSize     int
	// RetainTTL 完成后保留任务的时长
	RetainTTL     time.Duration
	CleanInterval time.Duration
	// Repository 作业记录存储（可选）
	Repository storage.JobRepository
	Logger     *zap.Logger
}

// Manager 后台作业管理器（对外导出）
// 第一阶段提交到Executor，第二阶段由MainLoop投递
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*BackgroundJob
	running bool

	executor *executor.Executor
	loop     *dispatcher.MainLoop
	retained *cache.RetainedTaskCache
	events   *EventBus
	repo     storage.JobRepository
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager 创建管理器
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Manager{
		jobs:     make(map[string]*BackgroundJob),
		retained: cache.NewRetainedTaskCache(opts.RetainTTL, opts.CleanInterval),
		events:   NewEventBus(opts.Logger),
		repo:     opts.Repository,
		logger:   opts.Logger,
	}

	exec, err := executor.NewExecutor(opts.Workers, executor.Options{
		QueueSize: opts.ExecutorQueueSize,
		Logger:    opts.Logger,
		OnError:   m.handleInvocationError,
	})
	if err != nil {
		return nil, errors.Wrap(err, "创建执行器失败")
	}
	m.executor = exec
	m.loop = dispatcher.NewMainLoop(dispatcher.Options{
		QueueSize: opts.MainQueueSize,
		Logger:    opts.Logger,
		OnError:   m.handleInvocationError,
	})
	return m, nil
}

// Dispatcher 任务交接第二阶段使用的主线程调度器
func (m *Manager) Dispatcher() task.Dispatcher {
	return m.loop
}

// Events 作业事件总线
func (m *Manager) Events() *EventBus {
	return m.events
}

// Start 启动主线程调度器和执行器
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if m.ctx != nil {
		return errors.Wrap(ErrManagerStopped, "管理器停止后不能重新启动")
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.loop.Start(m.ctx)
	m.executor.Start()
	m.running = true
	m.logger.Info("✅ [Manager] 作业管理器已启动", zap.Int("workers", m.executor.MaxWorkers()))
	return nil
}

// Submit 为任务创建作业并提交第一阶段
func (m *Manager) Submit(ctx context.Context, name string, runnable task.Runnable) (*BackgroundJob, error) {
	if runnable == nil {
		return nil, errors.New("任务不能为空")
	}
	m.mu.RLock()
	running, parent := m.running, m.ctx
	m.mu.RUnlock()
	if !running {
		return nil, ErrManagerStopped
	}

	id := uuid.NewString()
	if name == "" {
		name = "job-" + id[:8]
	}
	job := newBackgroundJob(parent, id, name, runnable, m)
	// 检查与绑定在任务的临界区内一次完成，并发提交同一任务时只有一个成功
	if !runnable.ClaimJob(job) {
		job.cancel()
		return nil, errors.Wrapf(ErrTaskBusy, "phase=%s", runnable.Phase())
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	m.persist(ctx, job.Snapshot(), func(rctx context.Context, snap JobSnapshot) error {
		return m.repo.SaveJob(rctx, snap.ToRecord())
	})
	m.publish(EventJobSubmitted, job.Snapshot())

	err := m.executor.Submit(task.Invocation{
		Task:    runnable,
		Step:    task.StepRunLongOperation,
		Context: job.Context(),
	})
	if err != nil {
		runnable.SetJob(nil)
		job.abort(err)
		return nil, errors.Wrap(err, "提交作业失败")
	}

	m.logger.Debug("[Manager] 作业已提交", zap.String("job_id", id), zap.String("name", name))
	return job, nil
}

// Cancel 取消作业：已排队的调用执行时直接转为Cancelled，正在执行的耗时操作收到ctx取消
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return errors.Wrap(ErrJobNotFound, id)
	}
	job.cancel()
	m.logger.Info("[Manager] 已请求取消作业", zap.String("job_id", id))
	return nil
}

// Get 查询进行中的作业
func (m *Manager) Get(id string) (*BackgroundJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// List 进行中作业的快照，按创建时间排序
func (m *Manager) List() []JobSnapshot {
	m.mu.RLock()
	jobs := make([]*BackgroundJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	snaps := make([]JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, job.Snapshot())
	}
	sort.Slice(snaps, func(i, k int) bool {
		if snaps[i].CreatedAt.Equal(snaps[k].CreatedAt) {
			return snaps[i].ID < snaps[k].ID
		}
		return snaps[i].CreatedAt.Before(snaps[k].CreatedAt)
	})
	return snaps
}

// History 已持久化的作业记录
func (m *Manager) History(ctx context.Context, status string, limit int) ([]*storage.JobRecord, error) {
	if m.repo == nil {
		return []*storage.JobRecord{}, nil
	}
	return m.repo.ListJobs(ctx, status, limit)
}

// Lookup 查询作业：先查进行中的作业，再查持久化记录
func (m *Manager) Lookup(ctx context.Context, id string) (*storage.JobRecord, error) {
	if job, ok := m.Get(id); ok {
		return job.Snapshot().ToRecord(), nil
	}
	if m.repo == nil {
		return nil, errors.Wrap(ErrJobNotFound, id)
	}
	rec, err := m.repo.GetJob(ctx, id)
	if errors.Is(err, storage.ErrJobNotFound) {
		return nil, errors.Wrap(ErrJobNotFound, id)
	}
	return rec, err
}

// Retained 完成后被保留的任务（ShouldPersist为true）
func (m *Manager) Retained(id string) (task.Runnable, bool) {
	return m.retained.Get(id)
}

// Resubmit 重新提交一个被保留的任务，成功后从保留缓存中移除
func (m *Manager) Resubmit(ctx context.Context, id, name string) (*BackgroundJob, error) {
	runnable, ok := m.retained.Get(id)
	if !ok {
		return nil, errors.Wrap(ErrJobNotFound, id)
	}
	job, err := m.Submit(ctx, name, runnable)
	if err != nil {
		return nil, err
	}
	m.retained.Delete(id)
	return job, nil
}

// PurgeHistory 删除在指定时间前结束的作业记录
func (m *Manager) PurgeHistory(ctx context.Context, before time.Time) (int64, error) {
	if m.repo == nil {
		return 0, nil
	}
	removed, err := m.repo.DeleteFinishedBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Info("[Manager] 已清理历史作业", zap.Int64("removed", removed))
	}
	return removed, nil
}

// Stop 停止管理器
// 在ctx到期前等待正在执行的耗时操作结束，到期后取消所有作业；最后投递完主线程队列
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	err := m.executor.Shutdown(ctx)
	if err != nil {
		m.cancel()
	}
	m.loop.Stop()
	m.cancel()
	m.retained.Stop()
	if cerr := m.events.Close(); cerr != nil {
		m.logger.Warn("[Manager] 关闭事件总线失败", zap.Error(cerr))
	}
	m.logger.Info("✅ [Manager] 作业管理器已停止")
	return err
}

// jobStarted 作业第一次被工作协程领取
func (m *Manager) jobStarted(job *BackgroundJob) {
	snap := job.Snapshot()
	m.persist(job.Context(), snap, func(ctx context.Context, snap JobSnapshot) error {
		return m.repo.MarkStarted(ctx, snap.ID, snap.Worker, *snap.StartedAt)
	})
	m.publish(EventJobStarted, snap)
}

// jobFinished 作业进入终态
func (m *Manager) jobFinished(job *BackgroundJob) {
	m.mu.Lock()
	delete(m.jobs, job.ID())
	m.mu.Unlock()

	snap := job.Snapshot()
	if snap.Status == StatusCompleted && job.Task().ShouldPersist() {
		m.retained.Set(snap.ID, job.Task(), 0)
	}

	m.persist(context.Background(), snap, func(ctx context.Context, snap JobSnapshot) error {
		return m.repo.MarkFinished(ctx, snap.ID, string(snap.Status), snap.Phase, snap.Error, *snap.FinishedAt)
	})

	eventType := EventJobCompleted
	switch snap.Status {
	case StatusCancelled:
		eventType = EventJobCancelled
	case StatusFailed:
		eventType = EventJobFailed
	}
	m.publish(eventType, snap)
	m.logger.Info("[Manager] 作业结束",
		zap.String("job_id", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.String("final_phase", snap.Phase))
}

// handleInvocationError Executor和MainLoop的错误回调
func (m *Manager) handleInvocationError(inv task.Invocation, err error) {
	if inv.Task == nil {
		return
	}
	job, ok := inv.Task.Job().(*BackgroundJob)
	if !ok || job == nil {
		m.logger.Warn("[Manager] 调用失败且没有关联作业", zap.Stringer("step", inv.Step), zap.Error(err))
		return
	}

	// 失败的任务不再被调度，断开与作业的关联
	inv.Task.SetJob(nil)
	if errors.Is(err, executor.ErrExecutorStopped) {
		job.abort(err)
		return
	}
	job.fail(err)
}

// persist 写入作业记录；存储失败只记录日志，不影响任务执行
func (m *Manager) persist(ctx context.Context, snap JobSnapshot, write func(ctx context.Context, snap JobSnapshot) error) {
	if m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := write(ctx, snap); err != nil {
		m.logger.Warn("[Manager] 保存作业记录失败", zap.String("job_id", snap.ID), zap.Error(err))
	}
}

func (m *Manager) publish(eventType EventType, snap JobSnapshot) {
	if err := m.events.Publish(NewJobEvent(eventType, snap)); err != nil {
		m.logger.Debug("[Manager] 发布事件失败", zap.String("type", string(eventType)), zap.Error(err))
	}
}
