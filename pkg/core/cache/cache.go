// Package cache 保存完成后希望被保留的任务，供外部调度方复用
package cache

import (
	"sync"
	"time"

	"github.com/LENAX/async-task/pkg/core/task"
)

// TaskCache 保留任务缓存接口（对外导出）
type TaskCache interface {
	// Set 保留任务
	// jobID: 作业ID
	// ttl: 保留时长，<=0 表示使用默认值
	Set(jobID string, runnable task.Runnable, ttl time.Duration)

	// Get 获取保留的任务
	Get(jobID string) (task.Runnable, bool)

	Delete(jobID string)
	Clear()
	Len() int
}

// cacheEntry 缓存条目（内部使用）
type cacheEntry struct {
	runnable   task.Runnable
	expireTime time.Time
}

// RetainedTaskCache 内存保留任务缓存实现（对外导出）
type RetainedTaskCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	defaultTTL time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRetainedTaskCache 创建保留任务缓存
// cleanInterval<=0 时不启动后台清理协程，过期条目只在读取时剔除
func NewRetainedTaskCache(defaultTTL, cleanInterval time.Duration) *RetainedTaskCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	c := &RetainedTaskCache{
		entries:    make(map[string]*cacheEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cleanInterval > 0 {
		go c.cleanupExpired(cleanInterval)
	}
	return c
}

// Set 保留任务
func (c *RetainedTaskCache) Set(jobID string, runnable task.Runnable, ttl time.Duration) {
	if jobID == "" || runnable == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jobID] = &cacheEntry{
		runnable:   runnable,
		expireTime: c.now().Add(ttl),
	}
}

// Get 获取保留的任务，过期条目会被剔除
func (c *RetainedTaskCache) Get(jobID string) (task.Runnable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[jobID]
	if !exists {
		return nil, false
	}
	if c.now().After(entry.expireTime) {
		delete(c.entries, jobID)
		return nil, false
	}
	return entry.runnable, true
}

// Delete 删除保留的任务
func (c *RetainedTaskCache) Delete(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
}

// Clear 清空所有缓存
func (c *RetainedTaskCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len 当前条目数（包含尚未剔除的过期条目）
func (c *RetainedTaskCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys 未过期的作业ID
func (c *RetainedTaskCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for key, entry := range c.entries {
		if !now.After(entry.expireTime) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stop 停止后台清理协程，可重复调用
func (c *RetainedTaskCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// purge 剔除过期条目，返回剔除数量
func (c *RetainedTaskCache) purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expireTime) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// cleanupExpired 定期清理过期缓存（内部方法）
func (c *RetainedTaskCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purge()
		case <-c.stop:
			return
		}
	}
}

var _ TaskCache = (*RetainedTaskCache)(nil)
