package agent

import (
	"context"
	"fmt"
	"time"

	"mmcagent/internal/config"
	httpclient "mmcagent/internal/pkg/client"
	"mmcagent/internal/pkg/logger"
	"mmcagent/internal/pkg/monitor"
	"mmcagent/internal/pkg/storage"
	"mmcagent/internal/service/telemetry"
)

// SetupStore 打开本地存储，按需写入部署时间
func SetupStore(ctx context.Context, cfg *config.StorageConfig) (storage.Store, error) {
	store, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	if cfg.ProvisionDeployTime {
		if err := EnsureDeployTime(ctx, store, time.Now()); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// EnsureDeployTime 首次部署时记录部署时间（Unix秒，浮点数），已存在时不修改
func EnsureDeployTime(ctx context.Context, store storage.Store, now time.Time) error {
	has, err := store.Has(ctx, storage.KeyDeployTime)
	if err != nil {
		return fmt.Errorf("failed to check deploy time: %w", err)
	}
	if has {
		return nil
	}

	deployTime := float64(now.UnixNano()) / float64(time.Second)
	if err := store.Set(ctx, storage.KeyDeployTime, deployTime); err != nil {
		return fmt.Errorf("failed to record deploy time: %w", err)
	}

	logger.LogSystemEvent("Agent", "Provision", "Deploy time recorded", logger.InfoLevel,
		map[string]interface{}{"deploy_time": deployTime})
	return nil
}

// SetupHeartbeat 创建心跳任务
func SetupHeartbeat(cfg *config.Config, store storage.Store) *telemetry.HeartbeatTask {
	client := httpclient.NewHTTPClient(cfg.Telemetry.ServerURL, httpclient.WithTimeout(cfg.Telemetry.RequestTimeout))
	snapshot := monitor.CollectSnapshot(cfg.App.Version)

	return telemetry.NewHeartbeatTask(cfg.Telemetry, store, client, snapshot, logger.NewComponentLogger("heartbeat"))
}
