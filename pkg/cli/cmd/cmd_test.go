package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/config"
	"github.com/LENAX/async-task/pkg/core/manager"
	"github.com/LENAX/async-task/pkg/plugin"
	"github.com/LENAX/async-task/pkg/storage"
	"github.com/LENAX/async-task/pkg/storage/sqlite"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetOut(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Version:    "+Version)
}

func TestRunDemo(t *testing.T) {
	m, err := manager.NewManager(manager.Options{Workers: 4})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	snaps, err := runDemo(context.Background(), m, demoOptions{
		Count:       6,
		CancelEvery: 3,
		DropEvery:   4,
		Delay:       100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, snaps, 6)

	for i, s := range snaps {
		n := i + 1
		if n%3 == 0 {
			assert.Equal(t, manager.StatusCancelled, s.Status, s.Name)
			continue
		}
		// 处理器被释放的作业同样正常结束，只是跳过回调
		assert.Equal(t, manager.StatusCompleted, s.Status, s.Name)
		assert.Equal(t, "main", s.Worker)
	}

	_, err = runDemo(context.Background(), m, demoOptions{})
	assert.Error(t, err)
}

func TestHistoryCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	cfgPath := filepath.Join(dir, "async-task.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
async-task:
  storage:
    database:
      type: "sqlite"
      dsn: "`+dbPath+`"
`), 0o644))

	repo, err := sqlite.NewJobRepoFromDSN(dbPath, storage.PoolConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.SaveJob(ctx, &storage.JobRecord{ID: "a", Name: "first", Status: "pending", CreatedAt: now}))
	require.NoError(t, repo.SaveJob(ctx, &storage.JobRecord{ID: "b", Name: "second", Status: "pending", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, repo.MarkFinished(ctx, "b", "completed", "Completed", "", now.Add(2*time.Second)))
	require.NoError(t, repo.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"history", "--config", cfgPath, "--json", "--status", "completed"})
	defer func() {
		rootCmd.SetOut(nil)
		configPath, outputJSON, historyStatus = "", false, ""
	}()

	require.NoError(t, rootCmd.Execute())

	var records []storage.JobRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Name)
	assert.Equal(t, "Completed", records[0].FinalPhase)
}

func TestRenderHistory(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)

	var out bytes.Buffer
	renderHistory(&out, []*storage.JobRecord{
		{ID: "0123456789", Name: "fetch", Status: "failed", FinalPhase: "Started", Error: "boom",
			CreatedAt: started, StartedAt: &started, FinishedAt: &finished},
		{ID: "x", Name: "queued", Status: "pending", CreatedAt: started},
	})

	text := out.String()
	assert.Contains(t, text, "01234567")
	assert.NotContains(t, text, "0123456789")
	assert.Contains(t, text, "1.5s")
	assert.Contains(t, text, "boom")
	assert.Contains(t, text, "-")
}

func TestNewNotifyPlugins(t *testing.T) {
	cfg := config.DefaultFrameworkConfig()
	email := &cfg.AsyncTask.Notify.Email
	email.Enabled, email.SMTPHost, email.From, email.To = true, "mail.local", "tasks@local", []string{"ops@local"}
	email.Events = []string{"job.failed", "job.cancelled"}

	pm, err := newNotifyPlugins(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{plugin.EmailPluginName}, pm.ListPlugins())

	email.To = nil
	_, err = newNotifyPlugins(cfg, nil)
	assert.Error(t, err)
}

func TestNewHistoryPurger(t *testing.T) {
	repo, err := sqlite.NewJobRepoFromDSN(":memory:", storage.PoolConfig{})
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.SaveJob(ctx, &storage.JobRecord{ID: "old", Name: "old", Status: "pending", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.MarkFinished(ctx, "old", "completed", "Completed", "", now.Add(-47*time.Hour)))
	require.NoError(t, repo.SaveJob(ctx, &storage.JobRecord{ID: "fresh", Name: "fresh", Status: "pending", CreatedAt: now}))
	require.NoError(t, repo.MarkFinished(ctx, "fresh", "completed", "Completed", "", now))

	m, err := manager.NewManager(manager.Options{Workers: 1, Repository: repo})
	require.NoError(t, err)

	purger, err := newHistoryPurger(ctx, m, 24*time.Hour, "@every 1s", zap.NewNop())
	require.NoError(t, err)
	purger.Start()
	defer purger.Stop()

	require.Eventually(t, func() bool {
		_, err := repo.GetJob(ctx, "old")
		return errors.Is(err, storage.ErrJobNotFound)
	}, 5*time.Second, 100*time.Millisecond)

	rec, err := repo.GetJob(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)

	_, err = newHistoryPurger(ctx, m, time.Hour, "not a schedule", zap.NewNop())
	assert.Error(t, err)
}
