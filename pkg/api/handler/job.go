package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/LENAX/async-task/pkg/api/dto"
	"github.com/LENAX/async-task/pkg/core/manager"
	"github.com/LENAX/async-task/pkg/storage"
)

// JobService Handler依赖的作业管理能力，由manager.Manager实现
type JobService interface {
	List() []manager.JobSnapshot
	Lookup(ctx context.Context, id string) (*storage.JobRecord, error)
	History(ctx context.Context, status string, limit int) ([]*storage.JobRecord, error)
	Cancel(id string) error
}

// JobHandler 作业API处理器
type JobHandler struct {
	jobs JobService
}

// NewJobHandler 创建JobHandler
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// List 列出进行中的作业
// GET /api/v1/jobs
func (h *JobHandler) List(c *gin.Context) {
	snaps := h.jobs.List()
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.JobListResponse{
		Jobs:  snaps,
		Total: len(snaps),
	}))
}

// History 查询已持久化的作业记录
// GET /api/v1/jobs/history?status=completed&limit=20
func (h *JobHandler) History(c *gin.Context) {
	var query dto.HistoryQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	records, err := h.jobs.History(c.Request.Context(), query.Status, query.GetDefaultLimit())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询作业历史失败: %v", err)))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.JobHistoryResponse{
		Records: records,
		Total:   len(records),
	}))
}

// Get 查询单个作业
// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.jobs.Lookup(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, manager.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, fmt.Sprintf("作业不存在: %s", id)))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询作业失败: %v", err)))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(rec))
}

// Cancel 取消作业
// POST /api/v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobs.Cancel(id); err != nil {
		if errors.Is(err, manager.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, fmt.Sprintf("作业不存在或已结束: %s", id)))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("取消作业失败: %v", err)))
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.CancelResponse{
		ID:     id,
		Status: "cancelling",
	}))
}
