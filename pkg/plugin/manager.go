package plugin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/core/manager"
)

// PluginBinding 插件绑定规则（对外导出）
type PluginBinding struct {
	PluginName string                    // 插件名称
	Event      manager.EventType         // 触发事件
	Condition  func(data PluginData) bool // 可选：满足条件才触发
}

// PluginData 传递给插件的数据（对外导出）
type PluginData struct {
	Event     manager.EventType
	JobID     string
	JobName   string
	Status    string
	Worker    string
	Error     string
	Timestamp time.Time
}

// NewPluginData 从作业事件构建插件数据
func NewPluginData(event *manager.JobEvent) PluginData {
	return PluginData{
		Event:     event.Type,
		JobID:     event.JobID,
		JobName:   event.JobName,
		Status:    string(event.Status),
		Worker:    event.Worker,
		Error:     event.Error,
		Timestamp: event.Timestamp,
	}
}

// PluginManager 插件管理器（对外导出）
type PluginManager struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	bindings map[manager.EventType][]PluginBinding
	logger   *zap.Logger
}

// NewPluginManager 创建插件管理器
func NewPluginManager(logger *zap.Logger) *PluginManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PluginManager{
		plugins:  make(map[string]Plugin),
		bindings: make(map[manager.EventType][]PluginBinding),
		logger:   logger,
	}
}

// Register 注册插件
func (pm *PluginManager) Register(p Plugin) error {
	if p == nil {
		return errors.New("插件不能为空")
	}
	name := p.Name()
	if name == "" {
		return errors.New("插件名称不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[name]; exists {
		return errors.Errorf("插件 %s 已注册", name)
	}
	pm.plugins[name] = p
	return nil
}

// RegisterWithInit 注册并初始化插件，初始化失败时撤销注册
func (pm *PluginManager) RegisterWithInit(p Plugin, params map[string]string) error {
	if err := pm.Register(p); err != nil {
		return err
	}
	if err := p.Init(params); err != nil {
		pm.mu.Lock()
		delete(pm.plugins, p.Name())
		pm.mu.Unlock()
		return errors.Wrapf(err, "插件 %s 初始化失败", p.Name())
	}
	return nil
}

// Bind 绑定插件到事件
func (pm *PluginManager) Bind(binding PluginBinding) error {
	if binding.PluginName == "" {
		return errors.New("插件名称不能为空")
	}
	if binding.Event == "" {
		return errors.New("触发事件不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[binding.PluginName]; !exists {
		return errors.Errorf("插件 %s 未注册", binding.PluginName)
	}
	pm.bindings[binding.Event] = append(pm.bindings[binding.Event], binding)
	return nil
}

// Trigger 依次执行绑定到事件的插件，单个插件失败不影响其余插件
func (pm *PluginManager) Trigger(ctx context.Context, data PluginData) error {
	pm.mu.RLock()
	bindings := append([]PluginBinding(nil), pm.bindings[data.Event]...)
	pm.mu.RUnlock()

	var failed []string
	for _, binding := range bindings {
		if binding.Condition != nil && !binding.Condition(data) {
			continue
		}
		p, ok := pm.GetPlugin(binding.PluginName)
		if !ok {
			continue
		}
		if err := p.Execute(ctx, data); err != nil {
			pm.logger.Warn("❌ [PluginManager] 插件执行失败",
				zap.String("plugin", binding.PluginName),
				zap.String("event", string(data.Event)),
				zap.Error(err))
			failed = append(failed, binding.PluginName)
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("触发插件失败: %v", failed)
	}
	return nil
}

// Run 消费作业事件并触发插件，直到ctx结束或事件通道关闭
func (pm *PluginManager) Run(ctx context.Context, events <-chan *manager.JobEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = pm.Trigger(ctx, NewPluginData(event))
		}
	}
}

// GetPlugin 获取已注册的插件
func (pm *PluginManager) GetPlugin(name string) (Plugin, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.plugins[name]
	return p, ok
}

// ListPlugins 已注册插件名称（排序）
func (pm *PluginManager) ListPlugins() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister 取消注册插件并移除相关绑定
func (pm *PluginManager) Unregister(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[name]; !exists {
		return errors.Errorf("插件 %s 未注册", name)
	}
	delete(pm.plugins, name)

	for event, bindings := range pm.bindings {
		filtered := bindings[:0]
		for _, b := range bindings {
			if b.PluginName != name {
				filtered = append(filtered, b)
			}
		}
		pm.bindings[event] = filtered
	}
	return nil
}
