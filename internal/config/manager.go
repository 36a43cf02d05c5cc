package config

import (
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager 配置管理器，支持热重载
type ConfigManager struct {
	mu           sync.RWMutex
	config       *ProfilerConfig
	viper        *viper.Viper
	configPath   string
	watchEnabled bool
	onChange     func(*ProfilerConfig)
}

// ConfigManagerOption 配置管理器选项
type ConfigManagerOption func(*ConfigManager)

// WithConfigPath 指定配置文件路径
func WithConfigPath(path string) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.watchEnabled = enabled
	}
}

// WithOnChange 配置变更回调
func WithOnChange(fn func(*ProfilerConfig)) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.onChange = fn
	}
}

// NewConfigManager 创建配置管理器
func NewConfigManager(opts ...ConfigManagerOption) *ConfigManager {
	cm := &ConfigManager{}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// Load 加载配置，重复调用返回缓存
func (cm *ConfigManager) Load() (*ProfilerConfig, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	cfg, v, err := LoadProfilerConfig(cm.configPath)
	if err != nil {
		return nil, err
	}

	cm.config = cfg
	cm.viper = v

	if cm.watchEnabled {
		cm.watchLocked()
	}

	return cfg, nil
}

// Get 返回当前配置，未加载时返回nil
func (cm *ConfigManager) Get() *ProfilerConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// Reload 强制重新加载
func (cm *ConfigManager) Reload() (*ProfilerConfig, error) {
	cm.mu.Lock()
	cm.config = nil
	cm.mu.Unlock()
	return cm.Load()
}

// watchLocked 监听配置文件变化并热重载
func (cm *ConfigManager) watchLocked() {
	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("🔄 Config file changed: %s", e.Name)

		var cfg ProfilerConfig
		if err := cm.viper.Unmarshal(&cfg); err != nil {
			log.Printf("⚠️  Failed to reload config, keeping previous: %v", err)
			return
		}
		if err := validateConfig(&cfg); err != nil {
			log.Printf("⚠️  Reloaded config invalid, keeping previous: %v", err)
			return
		}

		cm.mu.Lock()
		cm.config = &cfg
		onChange := cm.onChange
		cm.mu.Unlock()

		if onChange != nil {
			onChange(&cfg)
		}
	})
	cm.viper.WatchConfig()
}
