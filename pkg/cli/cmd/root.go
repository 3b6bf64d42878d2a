package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	configPath string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "async-task",
	Short: "Async Task CLI - 两阶段异步任务运行器",
	Long: `Async Task CLI 在工作协程池中执行耗时操作，并在单个主线程协程中投递结果。

支持的功能：
  - 启动作业管理器和HTTP API服务
  - 运行演示作业（包括取消和处理器失效）
  - 查询持久化的作业历史

使用示例：
  # 启动服务
  async-task serve --config ./configs/async-task.yaml

  # 运行演示
  async-task demo --count 10 --cancel-every 3

  # 查询已完成的作业
  async-task history --status completed --limit 20`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}
