package cmd

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/async-task/pkg/cli/output"
	"github.com/LENAX/async-task/pkg/storage"
)

var (
	historyStatus string
	historyLimit  int
)

// historyCmd 查询持久化的作业历史
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查询作业历史",
	Long: `从配置的数据库读取作业记录，按创建时间倒序输出。

示例：
  async-task history
  async-task history --status failed --limit 20 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}

		repo, err := openRepository(cfg)
		if err != nil {
			output.Error("打开数据库失败: %v", err)
			return err
		}
		defer repo.Close()

		records, err := repo.ListJobs(cmd.Context(), historyStatus, historyLimit)
		if err != nil {
			output.Error("查询作业历史失败: %v", err)
			return err
		}

		if outputJSON {
			return output.WriteJSON(cmd.OutOrStdout(), records)
		}
		if len(records) == 0 {
			output.Info("没有作业记录")
			return nil
		}
		renderHistory(cmd.OutOrStdout(), records)
		return nil
	},
}

// renderHistory 以表格输出作业记录
func renderHistory(out io.Writer, records []*storage.JobRecord) {
	table := output.NewTableTo(out, []string{"ID", "NAME", "STATUS", "FINAL PHASE", "CREATED", "DURATION", "ERROR"})
	for _, r := range records {
		duration := "-"
		if r.StartedAt != nil && r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(*r.StartedAt).Round(time.Millisecond).String()
		}
		table.AddRow([]string{
			shortID(r.ID),
			r.Name,
			output.StatusColor(r.Status),
			r.FinalPhase,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			r.Error,
		})
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().StringVarP(&historyStatus, "status", "s", "", "按状态过滤 (pending|running|completed|cancelled|failed)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 50, "最多返回的记录数")
}
