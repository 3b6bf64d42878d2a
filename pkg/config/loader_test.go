package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "async-task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFrameworkConfig(t *testing.T) {
	path := writeConfig(t, `
async-task:
  general:
    instance_name: "test-instance"
    log_level: "debug"
    env: "test"
  execution:
    worker_concurrency: 4
    dispatcher_queue_size: 64
    shutdown_timeout: "5s"
  storage:
    database:
      type: "sqlite"
      dsn: "./test.db"
      max_open_conns: 1
      conn_max_lifetime: "1h"
    retention:
      enabled: true
      default_ttl: "2h"
      clean_interval: "1m"
      history_ttl: "168h"
      purge_schedule: "*/30 * * * *"
  api:
    host: "127.0.0.1"
    port: 9090
`)

	cfg, err := LoadFrameworkConfig(path)
	require.NoError(t, err)

	c := cfg.AsyncTask
	assert.Equal(t, "test-instance", c.General.InstanceName)
	assert.Equal(t, "debug", c.General.LogLevel)
	assert.Equal(t, 4, cfg.GetWorkerConcurrency())
	assert.Equal(t, 64, c.Execution.DispatcherQueueSize)
	assert.Equal(t, 5*time.Second, c.Execution.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.GetDatabaseType())
	assert.Equal(t, "./test.db", cfg.GetDatabaseDSN())
	assert.Equal(t, 1, cfg.GetPoolConfig().MaxOpenConns)
	assert.Equal(t, time.Hour, cfg.GetPoolConfig().ConnMaxLifetime)
	assert.True(t, c.Storage.Retention.Enabled)
	assert.Equal(t, 2*time.Hour, c.Storage.Retention.DefaultTTL)
	assert.Equal(t, 168*time.Hour, c.Storage.Retention.HistoryTTL)
	assert.Equal(t, "*/30 * * * *", c.Storage.Retention.PurgeSchedule)
	assert.Equal(t, "127.0.0.1:9090", cfg.GetAPIAddr())
}

func TestLoadFrameworkConfig_WithDefaults(t *testing.T) {
	path := writeConfig(t, `
async-task:
  storage:
    database:
      type: "sqlite"
      dsn: "./test.db"
`)

	cfg, err := LoadFrameworkConfig(path)
	require.NoError(t, err)

	c := cfg.AsyncTask
	assert.Equal(t, "async-task", c.General.InstanceName)
	assert.Equal(t, "info", c.General.LogLevel)
	assert.Equal(t, 10, c.Execution.WorkerConcurrency)
	assert.Equal(t, 1024, c.Execution.DispatcherQueueSize)
	assert.Equal(t, 30*time.Second, c.Execution.ShutdownTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.GetAPIAddr())
	assert.Equal(t, 1, cfg.GetPoolConfig().MaxOpenConns)
	assert.Zero(t, c.Storage.Retention.HistoryTTL)
	assert.Equal(t, "@every 1h", c.Storage.Retention.PurgeSchedule)
}

func TestLoadFrameworkConfig_WithEnvVars(t *testing.T) {
	t.Setenv("ASYNC_TASK_NAME", "from-env")
	t.Setenv("ASYNC_TASK_DSN", "/tmp/env.db")

	path := writeConfig(t, `
async-task:
  general:
    instance_name: "${ASYNC_TASK_NAME}"
  storage:
    database:
      type: "sqlite"
      dsn: "${ASYNC_TASK_DSN}"
`)

	cfg, err := LoadFrameworkConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AsyncTask.General.InstanceName)
	assert.Equal(t, "/tmp/env.db", cfg.GetDatabaseDSN())
}

func TestLoadFrameworkConfig_Errors(t *testing.T) {
	_, err := LoadFrameworkConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseFrameworkConfig([]byte("async-task: ["))
	assert.Error(t, err)

	_, err = ParseFrameworkConfig([]byte(`
async-task:
  storage:
    database:
      type: "oracle"
      dsn: "x"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.type")
}

func TestDefaultFrameworkConfig(t *testing.T) {
	cfg := DefaultFrameworkConfig()
	require.NoError(t, ValidateFrameworkConfig(cfg))
	assert.Equal(t, "sqlite", cfg.GetDatabaseType())
	assert.Equal(t, "./async-task.db", cfg.GetDatabaseDSN())
}

func TestLoadFrameworkConfig_NotifyEmail(t *testing.T) {
	t.Setenv("SMTP_PASSWORD", "s3cret")
	path := writeConfig(t, `
async-task:
  notify:
    email:
      enabled: true
      smtp_host: "mail.local"
      username: "bot"
      password: "${SMTP_PASSWORD}"
      from: "tasks@local"
      to: ["ops@local", "dev@local"]
`)

	cfg, err := LoadFrameworkConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"job.failed"}, cfg.AsyncTask.Notify.Email.Events)

	params := cfg.EmailPluginParams()
	assert.Equal(t, "mail.local", params["smtp_host"])
	assert.Equal(t, "25", params["smtp_port"])
	assert.Equal(t, "s3cret", params["password"])
	assert.Equal(t, "ops@local,dev@local", params["to"])
}
