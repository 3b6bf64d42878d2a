// Package mocks 提供用于测试的作业记录存储，支持模拟存储故障
package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/LENAX/async-task/pkg/storage"
)

// ErrInjected 模拟的存储故障
var ErrInjected = errors.New("模拟存储故障")

// MockJobRepository 内存版JobRepository
type MockJobRepository struct {
	mu               sync.RWMutex
	jobs             map[string]*storage.JobRecord
	shouldFailSave   bool
	shouldFailUpdate bool
	shouldFailGet    bool
	failCount        int
	currentFailCount int
	calls            map[string]int
}

// NewMockJobRepository 创建MockJobRepository
func NewMockJobRepository() *MockJobRepository {
	return &MockJobRepository{
		jobs:  make(map[string]*storage.JobRecord),
		calls: make(map[string]int),
	}
}

// SetShouldFailSave 设置SaveJob是否失败
func (m *MockJobRepository) SetShouldFailSave(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailSave = shouldFail
}

// SetShouldFailUpdate 设置MarkStarted/MarkFinished是否失败
func (m *MockJobRepository) SetShouldFailUpdate(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailUpdate = shouldFail
}

// SetShouldFailGet 设置读取操作是否失败
func (m *MockJobRepository) SetShouldFailGet(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailGet = shouldFail
}

// SetFailCount 前count次写操作失败（模拟部分失败）
func (m *MockJobRepository) SetFailCount(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = count
	m.currentFailCount = 0
}

// Calls 方法被调用的次数
func (m *MockJobRepository) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// writeFault 调用方需持有m.mu
func (m *MockJobRepository) writeFault(method string, forced bool) error {
	m.calls[method]++
	if forced {
		return errors.Wrap(ErrInjected, method)
	}
	if m.failCount > 0 && m.currentFailCount < m.failCount {
		m.currentFailCount++
		return errors.Wrapf(ErrInjected, "%s（第%d次）", method, m.currentFailCount)
	}
	return nil
}

// SaveJob 保存作业记录
func (m *MockJobRepository) SaveJob(ctx context.Context, job *storage.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeFault("SaveJob", m.shouldFailSave); err != nil {
		return err
	}
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// MarkStarted 记录开始执行
func (m *MockJobRepository) MarkStarted(ctx context.Context, id, worker string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeFault("MarkStarted", m.shouldFailUpdate); err != nil {
		return err
	}
	job, ok := m.jobs[id]
	if !ok {
		return errors.Wrap(storage.ErrJobNotFound, id)
	}
	job.Status = "running"
	job.Worker = worker
	job.StartedAt = &at
	return nil
}

// MarkFinished 记录终态
func (m *MockJobRepository) MarkFinished(ctx context.Context, id, status, finalPhase, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeFault("MarkFinished", m.shouldFailUpdate); err != nil {
		return err
	}
	job, ok := m.jobs[id]
	if !ok {
		return errors.Wrap(storage.ErrJobNotFound, id)
	}
	job.Status = status
	job.FinalPhase = finalPhase
	job.Error = errMsg
	job.FinishedAt = &at
	return nil
}

// GetJob 查询作业记录
func (m *MockJobRepository) GetJob(ctx context.Context, id string) (*storage.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetJob"]++
	if m.shouldFailGet {
		return nil, errors.Wrap(ErrInjected, "GetJob")
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.Wrap(storage.ErrJobNotFound, id)
	}
	cp := *job
	return &cp, nil
}

// ListJobs 按创建时间倒序列出作业记录
func (m *MockJobRepository) ListJobs(ctx context.Context, status string, limit int) ([]*storage.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListJobs"]++
	if m.shouldFailGet {
		return nil, errors.Wrap(ErrInjected, "ListJobs")
	}

	out := make([]*storage.JobRecord, 0, len(m.jobs))
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteFinishedBefore 删除在before之前结束的记录
func (m *MockJobRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeFault("DeleteFinishedBefore", m.shouldFailUpdate); err != nil {
		return 0, err
	}
	var removed int64
	for id, job := range m.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(before) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Close 无操作
func (m *MockJobRepository) Close() error {
	return nil
}

var _ storage.JobRepository = (*MockJobRepository)(nil)
