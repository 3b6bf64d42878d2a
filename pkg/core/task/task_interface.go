package task

import (
	"context"
	"fmt"
)

// Step 单次调用要执行的阶段（封闭变体）
type Step int

const (
	// StepRunLongOperation 第一阶段：在工作协程中执行耗时操作
	StepRunLongOperation Step = iota
	// StepDeliverResult 第二阶段：在主线程投递结果
	StepDeliverResult
)

// String 返回步骤名称
func (s Step) String() string {
	switch s {
	case StepRunLongOperation:
		return "RunLongOperation"
	case StepDeliverResult:
		return "DeliverResult"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// Invocation 一次带步骤标签的任务调用，由执行器或调度器分发
// Context为空时由执行方使用自己的上下文；非空时其取消即视为中断
type Invocation struct {
	Task    Runnable
	Step    Step
	Context context.Context
}

// Runnable 执行器与主线程调度器看到的任务（对外导出）
type Runnable interface {
	// Execute 执行指定步骤
	Execute(ctx context.Context, w *Worker, step Step) error
	// Run 根据当前阶段推导步骤后执行（Waiting执行耗时操作，Started投递结果）
	Run(ctx context.Context, w *Worker) error
	// SetJob 由管理器设置所属作业记录
	SetJob(job JobRecord)
	// ClaimJob 任务空闲（Waiting且未绑定作业）时原子地绑定job，否则返回false
	ClaimJob(job JobRecord) bool
	// Job 返回所属作业记录，清理后为nil
	Job() JobRecord
	// Phase 当前阶段
	Phase() Phase
	// ShouldPersist 完成后是否希望被管理器保留
	ShouldPersist() bool
}

// JobRecord 所属作业记录（对外导出）
// 任务只持有它的引用用于完成通知，不拥有它
type JobRecord interface {
	// SetCurrentWorker 记录当前执行任务的Worker（诊断与中断用）
	SetCurrentWorker(w *Worker)
	// CurrentWorker 返回最近一次执行任务的Worker
	CurrentWorker() *Worker
	// Task 返回作业记录持有的任务
	Task() Runnable
	// CompletedJob 任务清理时通知，每轮生命周期恰好一次
	CompletedJob()
}

// PhaseObserver 作业记录的可选扩展
// 实现后会在CompletedJob之前收到任务的终态（Completed或Cancelled）
type PhaseObserver interface {
	ObserveFinalPhase(p Phase)
}

// Dispatcher 主线程调度器（对外导出）
// Post把调用按FIFO顺序排入主线程执行
type Dispatcher interface {
	Post(inv Invocation) error
}

// DispatcherFunc 函数适配器
type DispatcherFunc func(inv Invocation) error

// Post 实现Dispatcher
func (f DispatcherFunc) Post(inv Invocation) error {
	return f(inv)
}
