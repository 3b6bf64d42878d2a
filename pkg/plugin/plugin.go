// Package plugin 在作业事件上触发通知插件
package plugin

import "context"

// Plugin 插件接口（对外导出）
type Plugin interface {
	// Name 插件名称，在管理器中唯一
	Name() string
	// Init 按参数初始化插件
	Init(params map[string]string) error
	// Execute 处理一次触发
	Execute(ctx context.Context, data PluginData) error
}
