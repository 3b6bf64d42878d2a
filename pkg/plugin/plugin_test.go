package plugin

import (
	"context"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/async-task/pkg/core/manager"
)

type recordingPlugin struct {
	name string
	err  error

	mu   sync.Mutex
	seen []PluginData
}

func (p *recordingPlugin) Name() string { return p.name }
func (p *recordingPlugin) Init(params map[string]string) error { return nil }

func (p *recordingPlugin) Execute(ctx context.Context, data PluginData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, data)
	return p.err
}

func (p *recordingPlugin) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestPluginManager_RegisterAndBind(t *testing.T) {
	pm := NewPluginManager(nil)

	assert.Error(t, pm.Register(nil))
	assert.Error(t, pm.Register(&recordingPlugin{}))
	require.NoError(t, pm.Register(&recordingPlugin{name: "b"}))
	require.NoError(t, pm.Register(&recordingPlugin{name: "a"}))
	assert.Error(t, pm.Register(&recordingPlugin{name: "a"}))
	assert.Equal(t, []string{"a", "b"}, pm.ListPlugins())

	assert.Error(t, pm.Bind(PluginBinding{PluginName: "missing", Event: manager.EventJobFailed}))
	assert.Error(t, pm.Bind(PluginBinding{PluginName: "a"}))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "a", Event: manager.EventJobFailed}))

	require.NoError(t, pm.Unregister("a"))
	assert.Error(t, pm.Unregister("a"))
	assert.Equal(t, []string{"b"}, pm.ListPlugins())
}

func TestPluginManager_TriggerWithCondition(t *testing.T) {
	pm := NewPluginManager(nil)
	always := &recordingPlugin{name: "always"}
	named := &recordingPlugin{name: "named"}
	broken := &recordingPlugin{name: "broken", err: errors.New("smtp down")}
	for _, p := range []Plugin{always, named, broken} {
		require.NoError(t, pm.Register(p))
	}
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "always", Event: manager.EventJobFailed}))
	require.NoError(t, pm.Bind(PluginBinding{
		PluginName: "named",
		Event:      manager.EventJobFailed,
		Condition:  func(d PluginData) bool { return d.JobName == "import" },
	}))

	require.NoError(t, pm.Trigger(context.Background(), PluginData{Event: manager.EventJobFailed, JobName: "export"}))
	require.NoError(t, pm.Trigger(context.Background(), PluginData{Event: manager.EventJobFailed, JobName: "import"}))
	require.NoError(t, pm.Trigger(context.Background(), PluginData{Event: manager.EventJobCompleted}))
	assert.Equal(t, 2, always.count())
	assert.Equal(t, 1, named.count())

	// 失败的插件不影响其它插件
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "broken", Event: manager.EventJobCancelled}))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "always", Event: manager.EventJobCancelled}))
	err := pm.Trigger(context.Background(), PluginData{Event: manager.EventJobCancelled})
	assert.Error(t, err)
	assert.Equal(t, 3, always.count())
}

func TestPluginManager_RunConsumesEvents(t *testing.T) {
	pm := NewPluginManager(nil)
	p := &recordingPlugin{name: "rec"}
	require.NoError(t, pm.Register(p))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "rec", Event: manager.EventJobCompleted}))

	events := make(chan *manager.JobEvent, 2)
	events <- &manager.JobEvent{Type: manager.EventJobCompleted, JobID: "j1", Status: manager.StatusCompleted}
	events <- &manager.JobEvent{Type: manager.EventJobStarted, JobID: "j1"}
	close(events)

	pm.Run(context.Background(), events)
	require.Equal(t, 1, p.count())
	assert.Equal(t, "j1", p.seen[0].JobID)
	assert.Equal(t, "completed", p.seen[0].Status)
}

func TestEmailPlugin_Init(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		wantErr string
	}{
		{"缺少主机", map[string]string{"from": "a@x", "to": "b@x"}, "smtp_host"},
		{"端口格式错误", map[string]string{"smtp_host": "h", "smtp_port": "abc", "from": "a@x", "to": "b@x"}, "smtp_port"},
		{"缺少发件人", map[string]string{"smtp_host": "h", "to": "b@x"}, "from"},
		{"缺少收件人", map[string]string{"smtp_host": "h", "from": "a@x", "to": " , "}, "to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEmailPlugin(nil).Init(tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEmailPlugin_Execute(t *testing.T) {
	e := NewEmailPlugin(nil)
	assert.Error(t, e.Execute(context.Background(), PluginData{}))

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	e.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}
	require.NoError(t, e.Init(map[string]string{
		"smtp_host": "mail.local",
		"smtp_port": "2525",
		"from":      "tasks@local",
		"to":        "ops@local, dev@local",
	}))

	require.NoError(t, e.Execute(context.Background(), PluginData{
		Event:     manager.EventJobFailed,
		JobID:     "job-1",
		JobName:   "import",
		Status:    "failed",
		Error:     "disk full",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}))
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "tasks@local", gotFrom)
	assert.Equal(t, []string{"ops@local", "dev@local"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: [作业失败] import - job-1\r\n")
	assert.Contains(t, gotMsg, "错误信息: disk full")

	e.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.Error(t, e.Execute(context.Background(), PluginData{Event: manager.EventJobCompleted}))
}
