package task

import "fmt"

// Phase 任务阶段枚举（对外导出）
type Phase int

const (
	// PhaseWaiting 等待执行（初始状态，清理后也会回到该状态）
	PhaseWaiting Phase = iota
	// PhaseStarted 耗时操作已开始，等待主线程回调
	PhaseStarted
	// PhaseCompleted 回调已投递（终态，可清理）
	PhaseCompleted
	// PhaseCancelled 已被中断取消（终态，可清理）
	PhaseCancelled
)

// String 返回阶段名称
func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "Waiting"
	case PhaseStarted:
		return "Started"
	case PhaseCompleted:
		return "Completed"
	case PhaseCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// IsValid 检查阶段是否有效
func (p Phase) IsValid() bool {
	switch p {
	case PhaseWaiting, PhaseStarted, PhaseCompleted, PhaseCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo 检查是否可以转换到目标阶段
// 回到Waiting只允许由清理流程从终态发起
func (p Phase) CanTransitionTo(target Phase) bool {
	switch p {
	case PhaseWaiting:
		return target == PhaseStarted || target == PhaseCancelled
	case PhaseStarted:
		return target == PhaseCompleted || target == PhaseCancelled
	case PhaseCompleted, PhaseCancelled:
		return target == PhaseWaiting
	default:
		return false
	}
}

// TaskState 任务状态机（对外导出）
// 自身不加锁，由持有它的AsyncTask负责同步
type TaskState struct {
	phase Phase
}

// NewTaskState 创建处于Waiting阶段的状态机
func NewTaskState() *TaskState {
	return &TaskState{phase: PhaseWaiting}
}

// Phase 返回当前阶段
func (s *TaskState) Phase() Phase {
	return s.phase
}

// Started Waiting -> Started，非Waiting时不做任何改变
func (s *TaskState) Started() bool {
	return s.transition(PhaseStarted)
}

// Completed Started -> Completed
func (s *TaskState) Completed() bool {
	return s.transition(PhaseCompleted)
}

// Cancelled Waiting/Started -> Cancelled
func (s *TaskState) Cancelled() bool {
	return s.transition(PhaseCancelled)
}

// Reset 清理后重新进入Waiting
func (s *TaskState) Reset() {
	s.phase = PhaseWaiting
}

// IsWaiting 是否处于Waiting
func (s *TaskState) IsWaiting() bool {
	return s.phase == PhaseWaiting
}

// IsStarted 是否处于Started
func (s *TaskState) IsStarted() bool {
	return s.phase == PhaseStarted
}

// IsCleanable 只有Completed或Cancelled时才可以回收资源
func (s *TaskState) IsCleanable() bool {
	return s.phase == PhaseCompleted || s.phase == PhaseCancelled
}

func (s *TaskState) transition(target Phase) bool {
	if target == PhaseWaiting || !s.phase.CanTransitionTo(target) {
		return false
	}
	s.phase = target
	return true
}
