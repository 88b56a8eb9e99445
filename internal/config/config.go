/**
 * Agent端配置管理
 * @date: 2026.10.19
 * @description: 遥测Agent配置定义，负责加载、校验和保存所有配置
 */
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mmcagent/internal/pkg/version"
)

// Storage backend types
const (
	StorageTypeFile   = "file"
	StorageTypeSQLite = "sqlite"
	StorageTypeRedis  = "redis"
)

// DefaultTelemetryServerURL 遥测服务地址
const DefaultTelemetryServerURL = "http://hyybuth.xyz:10058"

// Config Agent配置
type Config struct {
	// 应用配置
	App *AppConfig `yaml:"app" mapstructure:"app"`

	// 日志配置
	Log *LogConfig `yaml:"log" mapstructure:"log"`

	// 遥测配置
	Telemetry *TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// 本地存储配置
	Storage *StorageConfig `yaml:"storage" mapstructure:"storage"`

	// 模拟收集端配置
	Collector *CollectorConfig `yaml:"collector" mapstructure:"collector"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Version     string `yaml:"version" mapstructure:"version"`         // 应用版本 (上报为 mmc_version)
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别 (debug/info/warn/error)
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式 (json/text)
	Output     string `yaml:"output" mapstructure:"output"`           // 日志输出 (stdout/stderr/file)
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 最大文件大小（MB）
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 最大备份数
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 最大保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// TelemetryConfig 遥测心跳配置
type TelemetryConfig struct {
	Enable          bool          `yaml:"enable" mapstructure:"enable"`                       // 是否启用遥测
	ServerURL       string        `yaml:"server_url" mapstructure:"server_url"`               // 遥测服务地址
	Interval        time.Duration `yaml:"interval" mapstructure:"interval"`                   // 心跳间隔
	WaitBeforeStart time.Duration `yaml:"wait_before_start" mapstructure:"wait_before_start"` // 首次运行前等待
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`     // 单次请求超时
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`             // 注册最大重试次数
	BackoffBase     int           `yaml:"backoff_base" mapstructure:"backoff_base"`           // 指数退避底数（秒）
}

// StorageConfig 本地键值存储配置
type StorageConfig struct {
	Type                string      `yaml:"type" mapstructure:"type"`                                   // file/sqlite/redis
	FilePath            string      `yaml:"file_path" mapstructure:"file_path"`                         // JSON文件路径
	SQLitePath          string      `yaml:"sqlite_path" mapstructure:"sqlite_path"`                     // SQLite数据库路径
	Redis               RedisConfig `yaml:"redis" mapstructure:"redis"`                                 // Redis配置
	ProvisionDeployTime bool        `yaml:"provision_deploy_time" mapstructure:"provision_deploy_time"` // 首次启动时写入部署时间
}

// RedisConfig Redis连接配置
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// CollectorConfig 模拟收集端配置
type CollectorConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"` // 监听地址
}

// DefaultConfig 返回默认配置，与loader中的默认值保持一致
func DefaultConfig() *Config {
	return &Config{
		App: &AppConfig{
			Name:        "mmcagent",
			Version:     version.GetVersion(),
			Environment: "production",
		},
		Log: &LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePath:   "./logs/agent.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
		Telemetry: &TelemetryConfig{
			Enable:         true,
			ServerURL:      DefaultTelemetryServerURL,
			Interval:       300 * time.Second,
			RequestTimeout: 5 * time.Second,
			MaxRetries:     3,
			BackoffBase:    4,
		},
		Storage: &StorageConfig{
			Type:                StorageTypeFile,
			FilePath:            "data/local_store.json",
			SQLitePath:          "data/local_store.db",
			ProvisionDeployTime: true,
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "mmcagent:",
			},
		},
		Collector: &CollectorConfig{
			Listen: ":10058",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App == nil || c.Log == nil || c.Telemetry == nil || c.Storage == nil {
		return errors.New("app, log, telemetry and storage sections are required")
	}

	if c.App.Version == "" {
		return errors.New("app.version is required")
	}

	if _, err := url.ParseRequestURI(c.Telemetry.ServerURL); err != nil {
		return fmt.Errorf("invalid telemetry.server_url %q: %w", c.Telemetry.ServerURL, err)
	}
	if c.Telemetry.Interval < 0 {
		return fmt.Errorf("invalid telemetry.interval: %s", c.Telemetry.Interval)
	}
	if c.Telemetry.RequestTimeout <= 0 {
		return fmt.Errorf("invalid telemetry.request_timeout: %s", c.Telemetry.RequestTimeout)
	}
	if c.Telemetry.MaxRetries < 0 {
		return fmt.Errorf("invalid telemetry.max_retries: %d", c.Telemetry.MaxRetries)
	}
	if c.Telemetry.BackoffBase < 1 {
		return fmt.Errorf("invalid telemetry.backoff_base: %d", c.Telemetry.BackoffBase)
	}

	switch strings.ToLower(c.Storage.Type) {
	case StorageTypeFile:
		if c.Storage.FilePath == "" {
			return errors.New("storage.file_path is required for file storage")
		}
	case StorageTypeSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for sqlite storage")
		}
	case StorageTypeRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	return nil
}

// SaveConfig 以YAML格式写入配置文件
func SaveConfig(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ensureDir 确保目录存在
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	return os.MkdirAll(absDir, 0o755)
}
