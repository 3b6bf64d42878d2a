package task

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeJob 记录通知次数的作业记录
type fakeJob struct {
	mu          sync.Mutex
	id          string
	worker      *Worker
	workers     []string
	task        Runnable
	completed   int
	finalPhases []Phase
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) SetCurrentWorker(w *Worker) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.worker = w
	j.workers = append(j.workers, w.ID())
}

func (j *fakeJob) CurrentWorker() *Worker {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.worker
}

func (j *fakeJob) Task() Runnable { return j.task }

func (j *fakeJob) CompletedJob() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed++
}

func (j *fakeJob) ObserveFinalPhase(p Phase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finalPhases = append(j.finalPhases, p)
}

func (j *fakeJob) Completed() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completed
}

// queueDispatcher 只排队不执行，由测试手动驱动第二阶段
type queueDispatcher struct {
	mu     sync.Mutex
	posted []Invocation
	err    error
}

func (d *queueDispatcher) Post(inv Invocation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.posted = append(d.posted, inv)
	return nil
}

func (d *queueDispatcher) pop(t *testing.T) Invocation {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.posted, "期望有待投递的调用")
	inv := d.posted[0]
	d.posted = d.posted[1:]
	return inv
}

func (d *queueDispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.posted)
}

type screen struct {
	title string
}

func answer(ctx context.Context) (int, error) {
	return 42, nil
}

func TestAsyncTask_FullRunWithHandler(t *testing.T) {
	host := &screen{title: "main"}
	dispatcher := &queueDispatcher{}

	var delivered []int
	var deliveredTo *screen
	at := NewAsyncTaskWithHandler(answer, NewWeakHandle(host), func(h *screen, result int) {
		deliveredTo = h
		delivered = append(delivered, result)
	}, dispatcher)

	job := &fakeJob{id: "job-1", task: at}
	at.SetJob(job)
	ctx := context.Background()

	// 第一阶段
	require.NoError(t, at.Execute(ctx, NewWorker("pool-1"), StepRunLongOperation))
	assert.Equal(t, PhaseStarted, at.Phase())
	assert.Equal(t, 42, at.result)
	assert.Equal(t, 0, job.Completed(), "第一阶段之后的清理不应生效")
	assert.Empty(t, delivered)

	inv := dispatcher.pop(t)
	assert.Equal(t, StepDeliverResult, inv.Step)
	assert.Same(t, at, inv.Task)

	// 第二阶段
	require.NoError(t, inv.Task.Execute(inv.Context, NewWorker("main"), inv.Step))
	assert.Equal(t, []int{42}, delivered)
	assert.Same(t, host, deliveredTo)

	assert.Equal(t, PhaseWaiting, at.Phase())
	assert.Equal(t, 1, job.Completed())
	assert.Equal(t, []Phase{PhaseCompleted}, job.finalPhases)
	assert.Equal(t, []string{"pool-1", "main"}, job.workers)
	assert.Nil(t, at.Job())
	assert.Nil(t, at.handler)
	assert.Zero(t, at.result)
	runtime.KeepAlive(host)
}

func TestAsyncTask_FullRunWithoutHandler(t *testing.T) {
	dispatcher := &queueDispatcher{}
	var delivered []int
	at := NewAsyncTask(answer, func(result int) {
		delivered = append(delivered, result)
	}, dispatcher, WithLogger(zap.NewNop()))
	job := &fakeJob{id: "job-2"}
	at.SetJob(job)

	require.NoError(t, at.Run(context.Background(), NewWorker("pool-1")))
	require.NoError(t, at.Run(context.Background(), NewWorker("main")))

	assert.Equal(t, []int{42}, delivered)
	assert.Equal(t, 1, job.Completed())
	assert.Equal(t, PhaseWaiting, at.Phase())
	// Run自行推导步骤，投递出去的调用未被消费
	assert.Equal(t, 1, dispatcher.len())
}

func TestAsyncTask_InterruptedBeforeLongOperation(t *testing.T) {
	dispatcher := &queueDispatcher{}
	opCalled := false
	callbacks := 0
	at := NewAsyncTaskWithHandler(func(ctx context.Context) (int, error) {
		opCalled = true
		return 42, nil
	}, NewWeakHandle(&screen{}), func(h *screen, result int) {
		callbacks++
	}, dispatcher)
	job := &fakeJob{id: "job-3"}
	at.SetJob(job)

	worker := NewWorker("pool-1")
	worker.Interrupt()

	require.NoError(t, at.Execute(context.Background(), worker, StepRunLongOperation))

	assert.False(t, opCalled)
	assert.Equal(t, 0, callbacks)
	assert.Equal(t, 0, dispatcher.len())
	assert.Equal(t, 1, job.Completed())
	assert.Equal(t, []Phase{PhaseCancelled}, job.finalPhases)
	assert.Equal(t, PhaseWaiting, at.Phase())
	assert.False(t, worker.Interrupted(), "退出后中断标记应被清除")
	assert.Same(t, worker, job.CurrentWorker())
}

func TestAsyncTask_InterruptedDuringLongOperation(t *testing.T) {
	dispatcher := &queueDispatcher{}
	worker := NewWorker("pool-1")
	started := make(chan struct{})

	at := NewAsyncTask(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, func(result int) {
		t.Error("被中断的任务不应回调")
	}, dispatcher)
	job := &fakeJob{id: "job-4"}
	at.SetJob(job)

	go func() {
		<-started
		worker.Interrupt()
	}()

	require.NoError(t, at.Execute(context.Background(), worker, StepRunLongOperation))
	assert.Equal(t, 0, dispatcher.len())
	assert.Equal(t, 1, job.Completed())
	assert.Equal(t, []Phase{PhaseCancelled}, job.finalPhases)
	assert.Equal(t, PhaseWaiting, at.Phase())
	assert.False(t, worker.Interrupted())
}

func TestAsyncTask_ParentContextCancelledBeforeDelivery(t *testing.T) {
	dispatcher := &queueDispatcher{}
	callbacks := 0
	at := NewAsyncTask(answer, func(result int) { callbacks++ }, dispatcher)
	job := &fakeJob{id: "job-5"}
	at.SetJob(job)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, at.Execute(ctx, NewWorker("pool-1"), StepRunLongOperation))
	inv := dispatcher.pop(t)

	cancel()
	require.NoError(t, inv.Task.Execute(inv.Context, NewWorker("main"), inv.Step))

	assert.Equal(t, 0, callbacks)
	assert.Equal(t, 1, job.Completed())
	assert.Equal(t, []Phase{PhaseCancelled}, job.finalPhases)
	assert.Equal(t, PhaseWaiting, at.Phase())
}

func TestAsyncTask_StaleHandlerSkipsCallback(t *testing.T) {
	dispatcher := &queueDispatcher{}
	registry := NewHandleRegistry[screen]()
	token := registry.Register(&screen{title: "closed soon"})

	callbacks := 0
	at := NewAsyncTaskWithHandler(answer, Handle[screen](token), func(h *screen, result int) {
		callbacks++
	}, dispatcher)
	job := &fakeJob{id: "job-6"}
	at.SetJob(job)

	require.NoError(t, at.Execute(context.Background(), NewWorker("pool-1"), StepRunLongOperation))

	// 界面在结果投递前关闭
	registry.Release(token)

	inv := dispatcher.pop(t)
	require.NoError(t, inv.Task.Execute(context.Background(), NewWorker("main"), inv.Step))

	assert.Equal(t, 0, callbacks)
	assert.Equal(t, 1, job.Completed())
	assert.Equal(t, []Phase{PhaseCompleted}, job.finalPhases)
	assert.Equal(t, PhaseWaiting, at.Phase())
}

func TestAsyncTask_NilHandleIsInactive(t *testing.T) {
	dispatcher := &queueDispatcher{}
	at := NewAsyncTaskWithHandler[int, screen](answer, nil, func(h *screen, result int) {
		t.Error("句柄为空时不应回调")
	}, dispatcher)
	job := &fakeJob{id: "job-7"}
	at.SetJob(job)

	require.NoError(t, at.Run(context.Background(), nil))
	require.NoError(t, at.Run(context.Background(), nil))
	assert.Equal(t, 1, job.Completed())
}

func TestAsyncTask_WithoutJobRecord(t *testing.T) {
	dispatcher := &queueDispatcher{}
	at := NewAsyncTask(answer, func(result int) {
		t.Error("没有作业记录时任务不处于活动状态")
	}, dispatcher)

	require.NoError(t, at.Run(context.Background(), NewWorker("pool-1")))
	require.NoError(t, at.Run(context.Background(), NewWorker("main")))
	assert.Equal(t, PhaseWaiting, at.Phase())
}

func TestAsyncTask_CleanUpIsIdempotent(t *testing.T) {
	dispatcher := &queueDispatcher{}
	at := NewAsyncTask(answer, func(result int) {}, dispatcher)
	job := &fakeJob{id: "job-8"}
	at.SetJob(job)

	worker := NewWorker("pool-1")
	worker.Interrupt()
	require.NoError(t, at.Execute(context.Background(), worker, StepRunLongOperation))
	at.cleanUp(zap.NewNop())
	at.cleanUp(zap.NewNop())

	assert.Equal(t, 1, job.Completed())
}

func TestAsyncTask_CleanUpNoopWhileStarted(t *testing.T) {
	dispatcher := &queueDispatcher{}
	at := NewAsyncTask(answer, func(result int) {}, dispatcher)
	job := &fakeJob{id: "job-9"}
	at.SetJob(job)

	require.NoError(t, at.Execute(context.Background(), NewWorker("pool-1"), StepRunLongOperation))
	at.cleanUp(zap.NewNop())

	assert.Equal(t, PhaseStarted, at.Phase())
	assert.Equal(t, 0, job.Completed())
	assert.Same(t, job, at.Job())
	assert.Equal(t, 42, at.result)
}

func TestAsyncTask_ThirdRunBehavesLikeFreshTask(t *testing.T) {
	dispatcher := &queueDispatcher{}
	var delivered []int
	at := NewAsyncTask(answer, func(result int) {
		delivered = append(delivered, result)
	}, dispatcher)
	first := &fakeJob{id: "job-10"}
	at.SetJob(first)

	ctx := context.Background()
	require.NoError(t, at.Run(ctx, NewWorker("pool-1")))
	require.NoError(t, at.Run(ctx, NewWorker("main")))
	assert.Equal(t, 1, first.Completed())

	// 第三次调用重新进入第一阶段
	second := &fakeJob{id: "job-11"}
	at.SetJob(second)
	require.NoError(t, at.Run(ctx, NewWorker("pool-2")))
	assert.Equal(t, PhaseStarted, at.Phase())
	assert.Equal(t, 2, dispatcher.len())

	require.NoError(t, at.Run(ctx, NewWorker("main")))
	assert.Equal(t, []int{42, 42}, delivered)
	assert.Equal(t, 1, first.Completed())
	assert.Equal(t, 1, second.Completed())
}

func TestAsyncTask_UnexpectedStep(t *testing.T) {
	dispatcher := &queueDispatcher{}
	at := NewAsyncTask(answer, func(result int) {
		t.Error("阶段不匹配时不应回调")
	}, dispatcher)
	job := &fakeJob{id: "job-12"}
	at.SetJob(job)

	err := at.Execute(context.Background(), NewWorker("main"), StepDeliverResult)
	assert.True(t, errors.Is(err, ErrUnexpectedStep))
	assert.Equal(t, PhaseWaiting, at.Phase())

	require.NoError(t, at.Execute(context.Background(), NewWorker("pool-1"), StepRunLongOperation))
	err = at.Execute(context.Background(), NewWorker("pool-2"), StepRunLongOperation)
	assert.True(t, errors.Is(err, ErrUnexpectedStep))
	assert.Equal(t, PhaseStarted, at.Phase())

	err = at.Execute(context.Background(), NewWorker("pool-2"), Step(7))
	assert.True(t, errors.Is(err, ErrUnexpectedStep))
	assert.Equal(t, 0, job.Completed())
}

func TestAsyncTask_MisuseDuringLongOperationLeavesTaskIntact(t *testing.T) {
	dispatcher := &queueDispatcher{}
	started := make(chan struct{})
	release := make(chan struct{})
	var delivered []int
	at := NewAsyncTask(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 7, nil
	}, func(result int) {
		delivered = append(delivered, result)
	}, dispatcher)
	job := &fakeJob{id: "job-17"}
	at.SetJob(job)

	done := make(chan error, 1)
	go func() {
		done <- at.Execute(context.Background(), NewWorker("pool-1"), StepRunLongOperation)
	}()
	<-started

	// 重复的第一阶段调用即使带着已取消的ctx，也只报告阶段不匹配
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	duplicate := NewWorker("pool-2")
	duplicate.Interrupt()
	err := at.Execute(cancelled, duplicate, StepRunLongOperation)
	assert.True(t, errors.Is(err, ErrUnexpectedStep))
	assert.Equal(t, PhaseStarted, at.Phase())
	assert.Equal(t, 0, job.Completed())
	assert.True(t, duplicate.Interrupted(), "被拒绝的调用不消耗Worker的中断请求")

	// 结果尚未就绪时的投递同样被拒绝
	err = at.Execute(context.Background(), NewWorker("main"), StepDeliverResult)
	assert.True(t, errors.Is(err, ErrUnexpectedStep))
	assert.Equal(t, PhaseStarted, at.Phase())

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, 1, dispatcher.len())

	inv := dispatcher.pop(t)
	require.NoError(t, inv.Task.Execute(inv.Context, NewWorker("main"), inv.Step))
	assert.Equal(t, []int{7}, delivered)
	assert.Equal(t, 1, job.Completed())
	assert.Equal(t, []Phase{PhaseCompleted}, job.finalPhases)
	assert.Equal(t, []string{"pool-1", "main"}, job.workers)
}

func TestAsyncTask_ClaimJob(t *testing.T) {
	dispatcher := &queueDispatcher{}
	at := NewAsyncTask(answer, func(result int) {}, dispatcher)
	first := &fakeJob{id: "job-18"}
	second := &fakeJob{id: "job-19"}

	assert.True(t, at.ClaimJob(first))
	assert.False(t, at.ClaimJob(second), "已绑定作业的任务不能再被认领")
	assert.Same(t, first, at.Job())

	require.NoError(t, at.Run(context.Background(), NewWorker("pool-1")))
	assert.False(t, at.ClaimJob(second), "第一阶段完成后任务仍处于Started")
	require.NoError(t, at.Run(context.Background(), NewWorker("main")))

	assert.Equal(t, 1, first.Completed())
	assert.True(t, at.ClaimJob(second))
	assert.Same(t, second, at.Job())

	unbound := NewAsyncTask(answer, func(result int) {}, dispatcher)
	require.NoError(t, unbound.Run(context.Background(), NewWorker("pool-1")))
	assert.False(t, unbound.ClaimJob(first), "Started阶段的任务即使没有作业也不能被认领")
}

func TestAsyncTask_LongOperationErrorPropagates(t *testing.T) {
	errBoom := errors.New("boom")
	dispatcher := &queueDispatcher{}
	at := NewAsyncTask(func(ctx context.Context) (int, error) {
		return 0, errBoom
	}, func(result int) {}, dispatcher)
	job := &fakeJob{id: "job-13"}
	at.SetJob(job)

	err := at.Execute(context.Background(), NewWorker("pool-1"), StepRunLongOperation)
	assert.Same(t, errBoom, err)
	assert.Equal(t, PhaseStarted, at.Phase())
	assert.Equal(t, 0, dispatcher.len())
	assert.Equal(t, 0, job.Completed())
}

func TestAsyncTask_HandoffErrorPropagates(t *testing.T) {
	errClosed := errors.New("dispatcher closed")
	dispatcher := &queueDispatcher{err: errClosed}
	at := NewAsyncTask(answer, func(result int) {}, dispatcher)
	at.SetJob(&fakeJob{id: "job-14"})

	err := at.Execute(context.Background(), NewWorker("pool-1"), StepRunLongOperation)
	assert.Same(t, errClosed, err)

	noDispatcher := NewAsyncTask(answer, func(result int) {}, nil)
	err = noDispatcher.Execute(context.Background(), NewWorker("pool-1"), StepRunLongOperation)
	assert.True(t, errors.Is(err, ErrNoDispatcher))
}

func TestAsyncTask_PanicStillReleasesWorker(t *testing.T) {
	worker := NewWorker("pool-1")
	at := NewAsyncTask(func(ctx context.Context) (int, error) {
		worker.Interrupt()
		panic("boom")
	}, func(result int) {}, &queueDispatcher{})
	at.SetJob(&fakeJob{id: "job-15"})

	assert.Panics(t, func() {
		_ = at.Execute(context.Background(), worker, StepRunLongOperation)
	})
	assert.False(t, worker.Interrupted())
}

func TestAsyncTask_ContextCarriesIdentity(t *testing.T) {
	var jobID, workerID string
	at := NewAsyncTask(func(ctx context.Context) (int, error) {
		jobID = GetJobID(ctx)
		workerID = GetWorkerID(ctx)
		return 1, nil
	}, func(result int) {}, &queueDispatcher{})
	at.SetJob(&fakeJob{id: "job-16"})

	require.NoError(t, at.Execute(context.Background(), NewWorker("pool-9"), StepRunLongOperation))
	assert.Equal(t, "job-16", jobID)
	assert.Equal(t, "pool-9", workerID)
}

func TestAsyncTask_ShouldPersist(t *testing.T) {
	at := NewAsyncTask(answer, func(result int) {}, &queueDispatcher{}, WithPersist(true))
	assert.True(t, at.ShouldPersist())

	at.SetShouldPersist(false)
	assert.False(t, at.ShouldPersist())
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "RunLongOperation", StepRunLongOperation.String())
	assert.Equal(t, "DeliverResult", StepDeliverResult.String())
	assert.Equal(t, "Step(5)", Step(5).String())
}
