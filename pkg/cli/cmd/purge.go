package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/core/manager"
)

// newHistoryPurger 按schedule定期删除结束时间早于ttl的作业记录
// schedule使用标准五段cron表达式或@every等描述符，返回的调度器需由调用方Start/Stop
func newHistoryPurger(ctx context.Context, m *manager.Manager, ttl time.Duration, schedule string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		removed, err := m.PurgeHistory(ctx, time.Now().UTC().Add(-ttl))
		if err != nil {
			logger.Warn("[CLI] 清理历史作业失败", zap.Error(err))
			return
		}
		logger.Debug("[CLI] 历史作业清理完成", zap.Int64("removed", removed))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "无效的清理计划: %s", schedule)
	}
	return c, nil
}
