package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LENAX/async-task/pkg/api"
	"github.com/LENAX/async-task/pkg/cli/output"
	"github.com/LENAX/async-task/pkg/config"
	"github.com/LENAX/async-task/pkg/core/manager"
	"github.com/LENAX/async-task/pkg/plugin"
)

var (
	serveHost string
	servePort int
)

// serveCmd 启动作业管理器和HTTP API服务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动作业管理器和HTTP API服务",
	Long: `启动作业管理器和HTTP API服务，收到SIGINT/SIGTERM后优雅关闭。

示例：
  # 使用默认配置启动
  async-task serve

  # 指定配置文件和端口
  async-task serve --config ./configs/async-task.yaml --port 9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.AsyncTask.API.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.AsyncTask.API.Port = servePort
		}

		a, err := newApp(cfg)
		if err != nil {
			output.Error("初始化失败: %v", err)
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := a.manager.Start(ctx); err != nil {
			output.Error("启动作业管理器失败: %v", err)
			return err
		}

		apiCfg := cfg.AsyncTask.API
		apiServer := api.NewAPIServer(a.manager, api.ServerConfig{
			Host:         apiCfg.Host,
			Port:         apiCfg.Port,
			ReadTimeout:  apiCfg.ReadTimeout,
			WriteTimeout: apiCfg.WriteTimeout,
		}, Version, a.logger)

		shutdownTimeout := cfg.AsyncTask.Execution.ShutdownTimeout
		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return apiServer.Start()
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return apiServer.Shutdown(shutdownCtx)
		})
		if cfg.AsyncTask.Notify.Email.Enabled {
			plugins, err := newNotifyPlugins(cfg, a.logger)
			if err != nil {
				output.Error("初始化通知插件失败: %v", err)
				return err
			}
			events, err := a.manager.Events().Subscribe(gctx)
			if err != nil {
				return err
			}
			group.Go(func() error {
				plugins.Run(gctx, events)
				return nil
			})
		}
		if retention := cfg.AsyncTask.Storage.Retention; retention.HistoryTTL > 0 {
			purger, err := newHistoryPurger(gctx, a.manager, retention.HistoryTTL, retention.PurgeSchedule, a.logger)
			if err != nil {
				output.Error("初始化历史清理失败: %v", err)
				return err
			}
			purger.Start()
			a.logger.Info("✅ [CLI] 历史作业清理已启动",
				zap.String("schedule", retention.PurgeSchedule),
				zap.Duration("history_ttl", retention.HistoryTTL))
			group.Go(func() error {
				<-gctx.Done()
				<-purger.Stop().Done()
				return nil
			})
		}

		output.Success("Async Task Server started on %s:%d", apiCfg.Host, apiCfg.Port)
		serveErr := group.Wait()

		output.Info("正在关闭服务...")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.manager.Stop(stopCtx); err != nil {
			output.Warning("作业管理器关闭超时，未完成的作业已取消: %v", err)
		}

		if serveErr != nil {
			output.Error("服务异常退出: %v", serveErr)
			return serveErr
		}
		output.Success("服务已停止")
		return nil
	},
}

// newNotifyPlugins 按配置注册邮件插件并绑定事件
func newNotifyPlugins(cfg *config.FrameworkConfig, logger *zap.Logger) (*plugin.PluginManager, error) {
	pm := plugin.NewPluginManager(logger)
	if err := pm.RegisterWithInit(plugin.NewEmailPlugin(logger), cfg.EmailPluginParams()); err != nil {
		return nil, err
	}
	for _, event := range cfg.AsyncTask.Notify.Email.Events {
		if err := pm.Bind(plugin.PluginBinding{PluginName: plugin.EmailPluginName, Event: manager.EventType(event)}); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

func init() {
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "0.0.0.0", "监听地址（覆盖配置）")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "监听端口（覆盖配置）")
}
