package config

import (
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// ValidateFrameworkConfig 校验框架配置合法性
func ValidateFrameworkConfig(cfg *FrameworkConfig) error {
	if cfg == nil {
		return errors.New("配置不能为空")
	}
	c := &cfg.AsyncTask

	// 校验General
	if c.General.InstanceName == "" {
		return errors.New("instance_name不能为空")
	}
	if c.General.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.General.LogLevel] {
			return errors.New("log_level必须是debug/info/warn/error之一")
		}
	}

	// 校验Execution
	if c.Execution.WorkerConcurrency <= 0 {
		return errors.New("execution.worker_concurrency必须大于0")
	}
	if c.Execution.WorkerConcurrency > 1000 {
		return errors.New("execution.worker_concurrency不能超过1000")
	}
	if c.Execution.WorkerQueueSize < 0 || c.Execution.DispatcherQueueSize < 0 {
		return errors.New("execution的队列大小不能为负数")
	}

	// 校验Storage.Database
	validDBTypes := map[string]bool{
		"sqlite":     true,
		"postgres":   true,
		"postgresql": true,
		"mysql":      true,
	}
	if !validDBTypes[c.Storage.Database.Type] {
		return errors.New("database.type必须是sqlite/postgres/mysql之一")
	}
	if c.Storage.Database.DSN == "" {
		return errors.New("database.dsn不能为空")
	}
	if c.Storage.Database.MaxOpenConns < 0 {
		return errors.New("database.max_open_conns不能为负数")
	}
	if c.Storage.Database.MaxIdleConns < 0 {
		return errors.New("database.max_idle_conns不能为负数")
	}

	// 校验Retention
	if c.Storage.Retention.HistoryTTL < 0 {
		return errors.New("retention.history_ttl不能为负数")
	}
	if schedule := c.Storage.Retention.PurgeSchedule; schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return errors.Wrapf(err, "retention.purge_schedule无效: %s", schedule)
		}
	}

	// 校验API
	if c.API.Port < 0 || c.API.Port > 65535 {
		return errors.Errorf("api.port超出范围: %d", c.API.Port)
	}

	// 校验Notify
	if email := c.Notify.Email; email.Enabled {
		if email.SMTPHost == "" || email.From == "" || len(email.To) == 0 {
			return errors.New("notify.email启用时smtp_host、from、to不能为空")
		}
		validEvents := map[string]bool{
			"job.submitted": true,
			"job.started":   true,
			"job.completed": true,
			"job.cancelled": true,
			"job.failed":    true,
		}
		for _, event := range email.Events {
			if !validEvents[event] {
				return errors.Errorf("notify.email.events包含未知事件: %s", event)
			}
		}
	}
	return nil
}
