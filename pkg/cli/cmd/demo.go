package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LENAX/async-task/pkg/cli/output"
	"github.com/LENAX/async-task/pkg/core/manager"
	"github.com/LENAX/async-task/pkg/core/task"
)

var (
	demoCount       int
	demoCancelEvery int
	demoDropEvery   int
	demoDelay       time.Duration
	demoPersist     bool
)

// demoCmd 运行一组演示作业
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "运行演示作业",
	Long: `提交一组模拟耗时操作的作业，部分作业在执行中被取消，部分作业的结果处理器在投递前被释放。

示例：
  async-task demo --count 10 --cancel-every 3 --drop-every 4 --delay 200ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}
		if !demoPersist {
			cfg.AsyncTask.Storage.Database.Type = "sqlite"
			cfg.AsyncTask.Storage.Database.DSN = ":memory:"
			cfg.AsyncTask.Storage.Database.MaxOpenConns = 1
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
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.AsyncTask.Execution.ShutdownTimeout)
			defer cancel()
			_ = a.manager.Stop(stopCtx)
		}()

		snaps, err := runDemo(ctx, a.manager, demoOptions{
			Count:       demoCount,
			CancelEvery: demoCancelEvery,
			DropEvery:   demoDropEvery,
			Delay:       demoDelay,
			Verbose:     !outputJSON,
		})
		if err != nil {
			output.Error("演示失败: %v", err)
			return err
		}

		if outputJSON {
			return output.WriteJSON(cmd.OutOrStdout(), snaps)
		}
		table := output.NewTableTo(cmd.OutOrStdout(), []string{"ID", "NAME", "STATUS", "FINAL PHASE", "WORKER", "ERROR"})
		for _, s := range snaps {
			table.AddRow([]string{shortID(s.ID), s.Name, output.StatusColor(string(s.Status)), s.Phase, s.Worker, s.Error})
		}
		table.Render()
		return nil
	},
}

// demoOptions 演示参数
type demoOptions struct {
	Count       int
	CancelEvery int // 每N个作业取消一个，0表示不取消
	DropEvery   int // 每N个作业在投递前释放处理器，0表示不释放
	Delay       time.Duration
	Verbose     bool
}

// demoScreen 演示用的结果处理器，模拟一个可能被关闭的界面
type demoScreen struct {
	name string

	mu      sync.Mutex
	results []string
}

func (s *demoScreen) show(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

// runDemo 提交演示作业并等待全部结束，返回按提交顺序排列的快照
func runDemo(ctx context.Context, m *manager.Manager, opts demoOptions) ([]manager.JobSnapshot, error) {
	if opts.Count <= 0 {
		return nil, errors.New("count必须大于0")
	}
	if opts.Delay <= 0 {
		opts.Delay = 100 * time.Millisecond
	}

	registry := task.NewHandleRegistry[demoScreen]()
	jobs := make([]*manager.BackgroundJob, 0, opts.Count)

	for i := 1; i <= opts.Count; i++ {
		n := i
		wait := opts.Delay * time.Duration(1+n%3)
		screen := &demoScreen{name: fmt.Sprintf("screen-%d", n)}
		token := registry.Register(screen)

		at := task.NewAsyncTaskWithHandler(func(ctx context.Context) (string, error) {
			select {
			case <-time.After(wait):
				return fmt.Sprintf("result-%d", n), nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}, token, func(s *demoScreen, result string) {
			s.show(result)
			if opts.Verbose {
				output.Success("%s 收到 %s", s.name, result)
			}
		}, m.Dispatcher())

		job, err := m.Submit(ctx, fmt.Sprintf("demo-%d", n), at)
		if err != nil {
			return nil, errors.Wrapf(err, "提交作业 demo-%d 失败", n)
		}
		jobs = append(jobs, job)

		if opts.DropEvery > 0 && n%opts.DropEvery == 0 {
			// 界面在结果返回前被关闭
			registry.Release(token)
		}
		if opts.CancelEvery > 0 && n%opts.CancelEvery == 0 {
			id := job.ID()
			time.AfterFunc(wait/2, func() {
				if err := m.Cancel(id); err == nil && opts.Verbose {
					output.Warning("已取消作业 %s", shortID(id))
				}
			})
		}
	}

	snaps := make([]manager.JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		select {
		case <-job.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		snaps = append(snaps, job.Snapshot())
	}
	return snaps, nil
}

func init() {
	demoCmd.Flags().IntVarP(&demoCount, "count", "n", 8, "提交的作业数量")
	demoCmd.Flags().IntVar(&demoCancelEvery, "cancel-every", 3, "每N个作业取消一个，0表示不取消")
	demoCmd.Flags().IntVar(&demoDropEvery, "drop-every", 4, "每N个作业在投递前释放结果处理器，0表示不释放")
	demoCmd.Flags().DurationVar(&demoDelay, "delay", 200*time.Millisecond, "模拟耗时操作的基础时长")
	demoCmd.Flags().BoolVar(&demoPersist, "persist", false, "把作业记录写入配置的数据库（默认使用内存SQLite）")
}
