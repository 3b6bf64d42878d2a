package task

import "context"

// context key类型，用于类型安全的context.Value访问
type contextKey string

const (
	// JobIDKey 作业ID在context中的key
	JobIDKey contextKey = "job.id"
	// WorkerIDKey Worker ID在context中的key
	WorkerIDKey contextKey = "worker.id"
)

// WithJobID 将作业ID添加到context中（对外导出）
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// GetJobID 从context中获取作业ID（对外导出）
func GetJobID(ctx context.Context) string {
	if id, ok := ctx.Value(JobIDKey).(string); ok {
		return id
	}
	return ""
}

// WithWorkerID 将Worker ID添加到context中（对外导出）
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

// GetWorkerID 从context中获取Worker ID（对外导出）
func GetWorkerID(ctx context.Context) string {
	if id, ok := ctx.Value(WorkerIDKey).(string); ok {
		return id
	}
	return ""
}
