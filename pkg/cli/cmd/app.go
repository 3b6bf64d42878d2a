package cmd

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	internalstorage "github.com/LENAX/async-task/internal/storage"
	"github.com/LENAX/async-task/pkg/cli/output"
	"github.com/LENAX/async-task/pkg/config"
	"github.com/LENAX/async-task/pkg/core/manager"
	"github.com/LENAX/async-task/pkg/logger"
	"github.com/LENAX/async-task/pkg/storage"
)

var defaultConfigPaths = []string{
	"./configs/async-task.yaml",
	"./config/async-task.yaml",
	"./async-task.yaml",
}

// loadConfig 读取--config指定的配置；未指定时尝试默认路径，都不存在则使用默认配置
func loadConfig() (*config.FrameworkConfig, error) {
	path := configPath
	if path == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return config.DefaultFrameworkConfig(), nil
	}

	cfg, err := config.LoadFrameworkConfig(path)
	if err != nil {
		return nil, err
	}
	if !outputJSON {
		output.Info("使用配置文件: %s", path)
	}
	return cfg, nil
}

// app 命令共用的组件
type app struct {
	cfg     *config.FrameworkConfig
	logger  *zap.Logger
	repo    storage.JobRepository
	manager *manager.Manager
}

// openRepository 按配置创建作业记录存储
func openRepository(cfg *config.FrameworkConfig) (storage.JobRepository, error) {
	return internalstorage.NewJobRepository(cfg.GetDatabaseType(), cfg.GetDatabaseDSN(), cfg.GetPoolConfig())
}

// newApp 构建日志、存储和作业管理器
func newApp(cfg *config.FrameworkConfig) (*app, error) {
	log, err := logger.New(cfg.AsyncTask.General.LogLevel, cfg.AsyncTask.General.Env)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("instance", cfg.AsyncTask.General.InstanceName))

	repo, err := openRepository(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "创建存储失败")
	}

	exec := cfg.AsyncTask.Execution
	retention := cfg.AsyncTask.Storage.Retention
	opts := manager.Options{
		Workers:           exec.WorkerConcurrency,
		ExecutorQueueSize: exec.WorkerQueueSize,
		MainQueueSize:     exec.DispatcherQueueSize,
		Repository:        repo,
		Logger:            log,
	}
	if retention.Enabled {
		opts.RetainTTL = retention.DefaultTTL
		opts.CleanInterval = retention.CleanInterval
	}

	m, err := manager.NewManager(opts)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: log, repo: repo, manager: m}, nil
}

// close 关闭存储并刷新日志
func (r *app) close() {
	if err := r.repo.Close(); err != nil {
		r.logger.Warn("[CLI] 关闭存储失败", zap.Error(err))
	}
	_ = r.logger.Sync()
}
