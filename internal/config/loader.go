package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "MMCAGENT"

// ConfigLoader 配置加载器
type ConfigLoader struct {
	configPath string
	envPrefix  string
	viper      *viper.Viper
}

// NewConfigLoader 创建配置加载器
// configPath 可以是配置文件路径，也可以是配置目录
func NewConfigLoader(configPath, envPrefix string) *ConfigLoader {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}

	return &ConfigLoader{
		configPath: configPath,
		envPrefix:  envPrefix,
		viper:      viper.New(),
	}
}

// LoadConfig 加载配置
func (cl *ConfigLoader) LoadConfig() (*Config, error) {
	cl.viper.SetConfigType("yaml")

	// 环境变量: MMCAGENT_TELEMETRY_ENABLE -> telemetry.enable
	cl.viper.SetEnvPrefix(cl.envPrefix)
	cl.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cl.viper.AutomaticEnv()

	cl.setDefaults()

	if err := cl.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	var config Config
	if err := cl.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// loadConfigFile 加载配置文件，找不到配置文件时使用默认值运行
func (cl *ConfigLoader) loadConfigFile() error {
	if cl.configPath == "" {
		if envPath := os.Getenv(cl.envPrefix + "_CONFIG_PATH"); envPath != "" {
			cl.configPath = envPath
		}
	}

	// 显式指定的文件必须存在
	if isConfigFile(cl.configPath) {
		cl.viper.SetConfigFile(cl.configPath)
		return cl.viper.ReadInConfig()
	}

	if cl.configPath != "" {
		cl.viper.AddConfigPath(cl.configPath)
	}
	cl.viper.AddConfigPath("./configs")
	cl.viper.AddConfigPath(".")

	// 优先加载环境特定的配置文件
	cl.viper.SetConfigName(fmt.Sprintf("config.%s", cl.getEnvironment()))
	err := cl.viper.ReadInConfig()
	if err == nil {
		return nil
	}

	cl.viper.SetConfigName("config")
	err = cl.viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// getEnvironment 获取运行环境
func (cl *ConfigLoader) getEnvironment() string {
	env := os.Getenv(cl.envPrefix + "_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "production"
	}
	return env
}

// setDefaults 设置默认值
func (cl *ConfigLoader) setDefaults() {
	def := DefaultConfig()

	// App默认值
	cl.viper.SetDefault("app.name", def.App.Name)
	cl.viper.SetDefault("app.version", def.App.Version)
	cl.viper.SetDefault("app.environment", def.App.Environment)

	// 日志默认值
	cl.viper.SetDefault("log.level", def.Log.Level)
	cl.viper.SetDefault("log.format", def.Log.Format)
	cl.viper.SetDefault("log.output", def.Log.Output)
	cl.viper.SetDefault("log.file_path", def.Log.FilePath)
	cl.viper.SetDefault("log.max_size", def.Log.MaxSize)
	cl.viper.SetDefault("log.max_backups", def.Log.MaxBackups)
	cl.viper.SetDefault("log.max_age", def.Log.MaxAge)
	cl.viper.SetDefault("log.compress", def.Log.Compress)
	cl.viper.SetDefault("log.caller", def.Log.Caller)

	// 遥测默认值
	cl.viper.SetDefault("telemetry.enable", def.Telemetry.Enable)
	cl.viper.SetDefault("telemetry.server_url", def.Telemetry.ServerURL)
	cl.viper.SetDefault("telemetry.interval", def.Telemetry.Interval)
	cl.viper.SetDefault("telemetry.wait_before_start", def.Telemetry.WaitBeforeStart)
	cl.viper.SetDefault("telemetry.request_timeout", def.Telemetry.RequestTimeout)
	cl.viper.SetDefault("telemetry.max_retries", def.Telemetry.MaxRetries)
	cl.viper.SetDefault("telemetry.backoff_base", def.Telemetry.BackoffBase)

	// 存储默认值
	cl.viper.SetDefault("storage.type", def.Storage.Type)
	cl.viper.SetDefault("storage.file_path", def.Storage.FilePath)
	cl.viper.SetDefault("storage.sqlite_path", def.Storage.SQLitePath)
	cl.viper.SetDefault("storage.provision_deploy_time", def.Storage.ProvisionDeployTime)
	cl.viper.SetDefault("storage.redis.addr", def.Storage.Redis.Addr)
	cl.viper.SetDefault("storage.redis.password", def.Storage.Redis.Password)
	cl.viper.SetDefault("storage.redis.db", def.Storage.Redis.DB)
	cl.viper.SetDefault("storage.redis.key_prefix", def.Storage.Redis.KeyPrefix)

	// 收集端默认值
	cl.viper.SetDefault("collector.listen", def.Collector.Listen)
}

// GetConfigPath 获取实际使用的配置文件路径，未使用配置文件时为空
func (cl *ConfigLoader) GetConfigPath() string {
	return cl.viper.ConfigFileUsed()
}

// LoadConfig 加载配置 (configPath 可为空)
func LoadConfig(configPath string) (*Config, error) {
	return NewConfigLoader(configPath, DefaultEnvPrefix).LoadConfig()
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
