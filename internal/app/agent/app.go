/**
 * Agent应用程序核心逻辑
 * @date: 2026.10.19
 * @description: 负责初始化配置、日志、本地存储和心跳任务，并管理其生命周期
 */

package agent

import (
	"context"
	"errors"
	"fmt"

	"mmcagent/internal/config"
	"mmcagent/internal/pkg/logger"
	"mmcagent/internal/pkg/storage"
	"mmcagent/internal/pkg/task"
	"mmcagent/internal/service/telemetry"
)

// Options 应用启动参数
type Options struct {
	ConfigPath string // 配置文件路径，可为空
	LogLevel   string // 覆盖配置中的日志级别
	EnvFiles   []string
}

// App Agent应用程序
type App struct {
	config    *config.Config
	logger    *logger.LoggerManager
	store     storage.Store
	heartbeat *telemetry.HeartbeatTask
	tasks     *task.Manager
	watcher   *config.ConfigWatcher
}

// NewApp 创建Agent应用程序实例
func NewApp(ctx context.Context, opts Options) (*App, error) {
	if err := config.NewEnvLoader(opts.EnvFiles...).Load(); err != nil {
		return nil, err
	}

	loader := config.NewConfigLoader(opts.ConfigPath, config.DefaultEnvPrefix)
	cfg, err := loader.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	loggerManager, err := logger.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	store, err := SetupStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:    cfg,
		logger:    loggerManager,
		store:     store,
		heartbeat: SetupHeartbeat(cfg, store),
		tasks:     task.NewManager(),
	}

	// 只有使用了配置文件时才启用热加载
	if path := loader.GetConfigPath(); path != "" {
		watcher, err := config.NewConfigWatcher(path, cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		watcher.AddCallback(app.onConfigChange)
		watcher.SetErrorHandler(func(err error) {
			logger.LogSystemEvent("Agent", "ConfigReload", err.Error(), logger.WarnLevel, nil)
		})
		app.watcher = watcher
	}

	logger.LogSystemEvent("Agent", "Init", "Agent initialized", logger.InfoLevel, map[string]interface{}{
		"version":   cfg.App.Version,
		"storage":   cfg.Storage.Type,
		"telemetry": cfg.Telemetry.Enable,
	})
	return app, nil
}

// GetConfig 获取配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// Heartbeat 心跳任务
func (a *App) Heartbeat() *telemetry.HeartbeatTask {
	return a.heartbeat
}

// Tasks 任务管理器
func (a *App) Tasks() *task.Manager {
	return a.tasks
}

// Start 启动心跳任务和配置监听
func (a *App) Start(ctx context.Context) error {
	if err := a.tasks.AddTask(ctx, a.heartbeat); err != nil {
		return fmt.Errorf("failed to start heartbeat task: %w", err)
	}

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			logger.LogSystemEvent("Agent", "Start", "Config hot reload disabled: "+err.Error(), logger.WarnLevel, nil)
			a.watcher = nil
		}
	}

	logger.LogSystemEvent("Agent", "Start", fmt.Sprintf("Heartbeat scheduled every %s", a.config.Telemetry.Interval), logger.InfoLevel, nil)
	return nil
}

// Stop 停止所有任务并释放资源
func (a *App) Stop(ctx context.Context) error {
	var errs []error

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.tasks.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close local store: %w", err))
	}

	logger.LogSystemEvent("Agent", "Stop", "Agent stopped", logger.InfoLevel, nil)
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// onConfigChange 配置热加载：遥测开关和日志配置
func (a *App) onConfigChange(oldConfig, newConfig *config.Config) error {
	if oldConfig.Telemetry.Enable != newConfig.Telemetry.Enable {
		a.heartbeat.SetEnabled(newConfig.Telemetry.Enable)
		logger.LogSystemEvent("Agent", "ConfigReload", fmt.Sprintf("Telemetry enable changed to %v", newConfig.Telemetry.Enable), logger.InfoLevel, nil)
	}

	if err := a.logger.UpdateConfig(newConfig.Log); err != nil {
		return err
	}
	return nil
}
