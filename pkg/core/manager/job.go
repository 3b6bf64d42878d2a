package manager

import (
	"context"
	"sync"
	"time"

	"github.com/LENAX/async-task/pkg/core/task"
	"github.com/LENAX/async-task/pkg/storage"
)

// JobStatus 后台作业状态
type JobStatus string

const (
	StatusPending   JobStatus = "pending"   // 已提交，等待工作协程
	StatusRunning   JobStatus = "running"   // 耗时操作或结果投递进行中
	StatusCompleted JobStatus = "completed" // 结果已投递
	StatusCancelled JobStatus = "cancelled" // 被中断
	StatusFailed    JobStatus = "failed"    // 耗时操作、交接或投递失败
)

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// JobSnapshot 作业的只读快照
type JobSnapshot struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     JobStatus  `json:"status"`
	Phase      string     `json:"phase"`
	Worker     string     `json:"worker,omitempty"`
	Persist    bool       `json:"persist"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ToRecord 转换为持久化记录
func (s JobSnapshot) ToRecord() *storage.JobRecord {
	rec := &storage.JobRecord{
		ID:         s.ID,
		Name:       s.Name,
		Status:     string(s.Status),
		Worker:     s.Worker,
		Error:      s.Error,
		CreatedAt:  s.CreatedAt,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	if s.Status.IsTerminal() {
		rec.FinalPhase = s.Phase
	}
	return rec
}

// jobObserver 作业状态变化的接收方（Manager）
type jobObserver interface {
	jobStarted(job *BackgroundJob)
	jobFinished(job *BackgroundJob)
}

// BackgroundJob 管理器创建的作业记录，实现task.JobRecord
// 任务清理时通过CompletedJob通知作业结束
type BackgroundJob struct {
	id       string
	name     string
	runnable task.Runnable
	ctx      context.Context
	cancel   context.CancelFunc
	observer jobObserver
	done     chan struct{}

	mu         sync.RWMutex
	status     JobStatus
	worker     *task.Worker
	finalPhase task.Phase
	errMsg     string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

func newBackgroundJob(parent context.Context, id, name string, runnable task.Runnable, observer jobObserver) *BackgroundJob {
	ctx, cancel := context.WithCancel(parent)
	ctx = task.WithJobID(ctx, id)
	return &BackgroundJob{
		id:         id,
		name:       name,
		runnable:   runnable,
		ctx:        ctx,
		cancel:     cancel,
		observer:   observer,
		done:       make(chan struct{}),
		status:     StatusPending,
		finalPhase: task.PhaseWaiting,
		createdAt:  time.Now().UTC(),
	}
}

// ID 作业ID
func (j *BackgroundJob) ID() string { return j.id }

// Name 作业名称
func (j *BackgroundJob) Name() string { return j.name }

// Context 作业上下文，取消作业即取消该上下文
func (j *BackgroundJob) Context() context.Context { return j.ctx }

// Done 作业进入终态且记录、事件都已处理后关闭
func (j *BackgroundJob) Done() <-chan struct{} { return j.done }

// Status 当前状态
func (j *BackgroundJob) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Task 返回作业所属任务
func (j *BackgroundJob) Task() task.Runnable { return j.runnable }

// SetCurrentWorker 记录当前执行的Worker；第一次被工作协程领取时作业转为running
func (j *BackgroundJob) SetCurrentWorker(w *task.Worker) {
	j.mu.Lock()
	j.worker = w
	started := j.status == StatusPending
	if started {
		j.status = StatusRunning
		j.startedAt = time.Now().UTC()
	}
	j.mu.Unlock()

	if started && j.observer != nil {
		j.observer.jobStarted(j)
	}
}

// CurrentWorker 当前（或最后）执行的Worker
func (j *BackgroundJob) CurrentWorker() *task.Worker {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.worker
}

// ObserveFinalPhase 任务清理前报告的最终阶段
func (j *BackgroundJob) ObserveFinalPhase(phase task.Phase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finalPhase = phase
}

// CompletedJob 任务清理完成的通知
func (j *BackgroundJob) CompletedJob() {
	j.mu.RLock()
	phase := j.finalPhase
	j.mu.RUnlock()

	status := StatusCompleted
	if phase == task.PhaseCancelled {
		status = StatusCancelled
	}
	j.finish(status, "")
}

// fail 作业失败（耗时操作报错、交接失败、panic）
func (j *BackgroundJob) fail(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if j.runnable != nil {
		phase := j.runnable.Phase()
		j.mu.Lock()
		if !j.status.IsTerminal() {
			j.finalPhase = phase
		}
		j.mu.Unlock()
	}
	j.finish(StatusFailed, msg)
}

// abort 作业未能执行（执行器已关闭）
func (j *BackgroundJob) abort(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	j.finish(StatusCancelled, msg)
}

// finish 只有第一次进入终态生效
func (j *BackgroundJob) finish(status JobStatus, errMsg string) {
	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.status = status
	j.errMsg = errMsg
	j.finishedAt = time.Now().UTC()
	j.mu.Unlock()

	j.cancel()
	if j.observer != nil {
		j.observer.jobFinished(j)
	}
	close(j.done)
}

// Snapshot 返回作业快照
// 不读取任务自身的阶段，回调中查询作业不会与任务的临界区冲突
func (j *BackgroundJob) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := JobSnapshot{
		ID:        j.id,
		Name:      j.name,
		Status:    j.status,
		Phase:     j.finalPhase.String(),
		Error:     j.errMsg,
		CreatedAt: j.createdAt,
	}
	switch j.status {
	case StatusPending:
		snap.Phase = task.PhaseWaiting.String()
	case StatusRunning:
		snap.Phase = task.PhaseStarted.String()
	}
	if j.runnable != nil {
		snap.Persist = j.runnable.ShouldPersist()
	}
	if j.worker != nil {
		snap.Worker = j.worker.ID()
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		snap.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

var (
	_ task.JobRecord     = (*BackgroundJob)(nil)
	_ task.PhaseObserver = (*BackgroundJob)(nil)
)
