package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LENAX/async-task/pkg/storage"
)

// FrameworkConfig 异步任务框架配置（对外导出）
type FrameworkConfig struct {
	AsyncTask struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Execution struct {
			WorkerConcurrency   int           `yaml:"worker_concurrency"`
			WorkerQueueSize     int           `yaml:"worker_queue_size"`
			DispatcherQueueSize int           `yaml:"dispatcher_queue_size"`
			ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
		} `yaml:"execution"`
		Storage struct {
			Database struct {
				Type            string        `yaml:"type"`
				DSN             string        `yaml:"dsn"`
				MaxOpenConns    int           `yaml:"max_open_conns"`
				MaxIdleConns    int           `yaml:"max_idle_conns"`
				ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
			} `yaml:"database"`
			Retention struct {
				Enabled       bool          `yaml:"enabled"`
				DefaultTTL    time.Duration `yaml:"default_ttl"`
				CleanInterval time.Duration `yaml:"clean_interval"`
				// HistoryTTL 已结束作业记录的保存时长，0表示不清理
				HistoryTTL time.Duration `yaml:"history_ttl"`
				// PurgeSchedule 清理历史记录的cron表达式
				PurgeSchedule string `yaml:"purge_schedule"`
			} `yaml:"retention"`
		} `yaml:"storage"`
		API struct {
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"api"`
		Notify struct {
			Email struct {
				Enabled  bool     `yaml:"enabled"`
				SMTPHost string   `yaml:"smtp_host"`
				SMTPPort int      `yaml:"smtp_port"`
				Username string   `yaml:"username"`
				Password string   `yaml:"password"`
				From     string   `yaml:"from"`
				To       []string `yaml:"to"`
				// Events 触发通知的作业事件，默认只通知job.failed
				Events []string `yaml:"events"`
			} `yaml:"email"`
		} `yaml:"notify"`
	} `yaml:"async-task"`
}

// GetDatabaseType 获取数据库类型
func (c *FrameworkConfig) GetDatabaseType() string {
	return c.AsyncTask.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *FrameworkConfig) GetDatabaseDSN() string {
	return c.AsyncTask.Storage.Database.DSN
}

// GetPoolConfig 获取连接池配置
func (c *FrameworkConfig) GetPoolConfig() storage.PoolConfig {
	db := c.AsyncTask.Storage.Database
	return storage.PoolConfig{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}
}

// GetWorkerConcurrency 获取Worker并发数
func (c *FrameworkConfig) GetWorkerConcurrency() int {
	concurrency := c.AsyncTask.Execution.WorkerConcurrency
	if concurrency <= 0 {
		return 10 // 默认值
	}
	return concurrency
}

// GetAPIAddr 获取API监听地址
func (c *FrameworkConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.AsyncTask.API.Host, c.AsyncTask.API.Port)
}

// ApplyDefaults 应用默认值
func (c *FrameworkConfig) ApplyDefaults() {
	// General默认值
	if c.AsyncTask.General.InstanceName == "" {
		c.AsyncTask.General.InstanceName = "async-task"
	}
	if c.AsyncTask.General.LogLevel == "" {
		c.AsyncTask.General.LogLevel = "info"
	}
	if c.AsyncTask.General.Env == "" {
		c.AsyncTask.General.Env = "dev"
	}

	// Execution默认值
	if c.AsyncTask.Execution.WorkerConcurrency <= 0 {
		c.AsyncTask.Execution.WorkerConcurrency = 10
	}
	if c.AsyncTask.Execution.WorkerQueueSize <= 0 {
		c.AsyncTask.Execution.WorkerQueueSize = 10000
	}
	if c.AsyncTask.Execution.DispatcherQueueSize <= 0 {
		c.AsyncTask.Execution.DispatcherQueueSize = 1024
	}
	if c.AsyncTask.Execution.ShutdownTimeout <= 0 {
		c.AsyncTask.Execution.ShutdownTimeout = 30 * time.Second
	}

	// Database默认值
	if c.AsyncTask.Storage.Database.Type == "" {
		c.AsyncTask.Storage.Database.Type = "sqlite"
	}
	if c.AsyncTask.Storage.Database.DSN == "" && c.AsyncTask.Storage.Database.Type == "sqlite" {
		c.AsyncTask.Storage.Database.DSN = "./async-task.db"
	}
	if c.AsyncTask.Storage.Database.MaxOpenConns <= 0 {
		c.AsyncTask.Storage.Database.MaxOpenConns = 10
		if c.AsyncTask.Storage.Database.Type == "sqlite" || c.AsyncTask.Storage.Database.Type == "sqlite3" {
			// SQLite单写
			c.AsyncTask.Storage.Database.MaxOpenConns = 1
		}
	}
	if c.AsyncTask.Storage.Database.MaxIdleConns <= 0 {
		c.AsyncTask.Storage.Database.MaxIdleConns = 5
	}
	if c.AsyncTask.Storage.Database.ConnMaxLifetime <= 0 {
		c.AsyncTask.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}

	// Retention默认值
	if c.AsyncTask.Storage.Retention.DefaultTTL <= 0 {
		c.AsyncTask.Storage.Retention.DefaultTTL = 1 * time.Hour
	}
	if c.AsyncTask.Storage.Retention.CleanInterval <= 0 {
		c.AsyncTask.Storage.Retention.CleanInterval = 10 * time.Minute
	}
	if c.AsyncTask.Storage.Retention.PurgeSchedule == "" {
		c.AsyncTask.Storage.Retention.PurgeSchedule = "@every 1h"
	}

	// API默认值
	if c.AsyncTask.API.Host == "" {
		c.AsyncTask.API.Host = "0.0.0.0"
	}
	if c.AsyncTask.API.Port <= 0 {
		c.AsyncTask.API.Port = 8080
	}
	if c.AsyncTask.API.ReadTimeout <= 0 {
		c.AsyncTask.API.ReadTimeout = 15 * time.Second
	}
	if c.AsyncTask.API.WriteTimeout <= 0 {
		c.AsyncTask.API.WriteTimeout = 15 * time.Second
	}

	// Notify默认值
	email := &c.AsyncTask.Notify.Email
	if email.SMTPPort <= 0 {
		email.SMTPPort = 25
	}
	if email.Enabled && len(email.Events) == 0 {
		email.Events = []string{"job.failed"}
	}
}

// EmailPluginParams 邮件插件初始化参数
func (c *FrameworkConfig) EmailPluginParams() map[string]string {
	email := c.AsyncTask.Notify.Email
	return map[string]string{
		"smtp_host": email.SMTPHost,
		"smtp_port": strconv.Itoa(email.SMTPPort),
		"username":  email.Username,
		"password":  email.Password,
		"from":      email.From,
		"to":        strings.Join(email.To, ","),
	}
}
