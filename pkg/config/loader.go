package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadFrameworkConfig 加载框架配置文件
// 支持${VAR}形式的环境变量替换，加载后填充默认值并校验
func LoadFrameworkConfig(path string) (*FrameworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "读取配置文件失败: %s", path)
	}
	return ParseFrameworkConfig(data)
}

// ParseFrameworkConfig 解析YAML格式的框架配置
func ParseFrameworkConfig(data []byte) (*FrameworkConfig, error) {
	var cfg FrameworkConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errors.Wrap(err, "解析配置文件失败")
	}

	cfg.ApplyDefaults()
	if err := ValidateFrameworkConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultFrameworkConfig 不读取文件时使用的默认配置
func DefaultFrameworkConfig() *FrameworkConfig {
	cfg := &FrameworkConfig{}
	cfg.ApplyDefaults()
	return cfg
}
