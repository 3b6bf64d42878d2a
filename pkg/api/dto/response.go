package dto

import (
	"time"

	"github.com/LENAX/async-task/pkg/core/manager"
	"github.com/LENAX/async-task/pkg/storage"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// JobListResponse 进行中作业列表
type JobListResponse struct {
	Jobs  []manager.JobSnapshot `json:"jobs"`
	Total int                   `json:"total"`
}

// JobHistoryResponse 作业历史列表
type JobHistoryResponse struct {
	Records []*storage.JobRecord `json:"records"`
	Total   int                  `json:"total"`
}

// CancelResponse 取消作业响应
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	ActiveJobs int    `json:"active_jobs"`
	Timestamp  string `json:"timestamp"`
}

// FormatUptime 格式化运行时长
func FormatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
