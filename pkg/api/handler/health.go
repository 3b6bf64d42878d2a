package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/async-task/pkg/api/dto"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version   string
	startTime time.Time
	jobs      JobService
}

// NewHealthHandler 创建HealthHandler
func NewHealthHandler(version string, jobs JobService) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		jobs:      jobs,
	}
}

// Health 健康检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Uptime:     dto.FormatUptime(time.Since(h.startTime)),
		ActiveJobs: len(h.jobs.List()),
		Timestamp:  time.Now().Format(time.RFC3339),
	}))
}
