/**
 * 遥测心跳服务
 * @date: 2026.10.19
 * @description: 向遥测收集端注册客户端身份并周期性上报心跳
 */
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mmcagent/internal/config"
	modelClient "mmcagent/internal/model/client"
	httpclient "mmcagent/internal/pkg/client"
	"mmcagent/internal/pkg/storage"
)

// TaskName 心跳任务名称
const TaskName = "telemetry_heartbeat"

// Logger 组件日志接口
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Error(msg string)
}

// Sleeper 可取消的等待函数，ctx取消时返回错误
type Sleeper func(ctx context.Context, d time.Duration) error

// HeartbeatTask 遥测心跳任务
// 两个状态：未注册（无身份）和已注册（有身份）
type HeartbeatTask struct {
	client   httpclient.TelemetryClient
	store    storage.Store
	log      Logger
	snapshot *modelClient.SystemInfoSnapshot
	sleep    Sleeper

	enabled         atomic.Bool
	interval        time.Duration
	waitBeforeStart time.Duration
	maxRetries      int
	backoffBase     int

	// running 保证Run不会重入
	running sync.Mutex

	mu       sync.RWMutex
	identity string
	loaded   bool
}

// Option 心跳任务选项
type Option func(*HeartbeatTask)

// WithSleeper 替换退避等待函数
func WithSleeper(s Sleeper) Option {
	return func(h *HeartbeatTask) {
		if s != nil {
			h.sleep = s
		}
	}
}

// NewHeartbeatTask 创建心跳任务
// snapshot 在创建时确定，任务生命周期内不再变化
func NewHeartbeatTask(cfg *config.TelemetryConfig, store storage.Store, client httpclient.TelemetryClient,
	snapshot *modelClient.SystemInfoSnapshot, log Logger, opts ...Option) *HeartbeatTask {
	h := &HeartbeatTask{
		client:          client,
		store:           store,
		log:             log,
		snapshot:        snapshot,
		sleep:           sleepContext,
		interval:        cfg.Interval,
		waitBeforeStart: cfg.WaitBeforeStart,
		maxRetries:      cfg.MaxRetries,
		backoffBase:     cfg.BackoffBase,
	}
	h.enabled.Store(cfg.Enable)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name 任务名称
func (h *HeartbeatTask) Name() string { return TaskName }

// Interval 心跳间隔
func (h *HeartbeatTask) Interval() time.Duration { return h.interval }

// WaitBeforeStart 首次运行前等待时间
func (h *HeartbeatTask) WaitBeforeStart() time.Duration { return h.waitBeforeStart }

// SetEnabled 运行期间开关遥测（配置热加载）
func (h *HeartbeatTask) SetEnabled(enabled bool) {
	h.enabled.Store(enabled)
}

// Enabled 遥测是否开启
func (h *HeartbeatTask) Enabled() bool {
	return h.enabled.Load()
}

// Identity 当前缓存的身份标识
func (h *HeartbeatTask) Identity() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.identity
}

// Run 执行一个心跳周期，所有错误都在内部记录，不向调用方传播
func (h *HeartbeatTask) Run(ctx context.Context) {
	if !h.running.TryLock() {
		h.log.Debug("heartbeat cycle already in progress, skipping")
		return
	}
	defer h.running.Unlock()

	if !h.enabled.Load() {
		return
	}

	h.loadIdentity(ctx)

	if h.Identity() == "" && !h.RegisterClient(ctx) {
		h.log.Error("telemetry client registration failed, skipping this heartbeat cycle")
		return
	}

	_ = h.SendHeartbeat(ctx)
}

// RegisterClient 向收集端注册客户端身份
// 失败时按 backoff_base^attempt 秒退避重试，最多重试 max_retries 次
func (h *HeartbeatTask) RegisterClient(ctx context.Context) bool {
	deployTime, ok, err := h.store.Get(ctx, storage.KeyDeployTime)
	if err != nil || !ok {
		reason := "missing"
		if err != nil {
			reason = err.Error()
		}
		h.log.Error(fmt.Sprintf("%v: cannot register telemetry client (%s)", modelClient.ErrProvisioning, reason))
		return false
	}

	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			wait := h.backoff(attempt)
			h.log.Info(fmt.Sprintf("retrying telemetry registration in %s (attempt %d/%d)", wait, attempt+1, h.maxRetries+1))
			if err := h.sleep(ctx, wait); err != nil {
				h.log.Error(fmt.Sprintf("telemetry registration aborted: %v", err))
				return false
			}
		}

		id, err := h.client.RegisterClient(ctx, deployTime)
		if err != nil {
			h.log.Error(fmt.Sprintf("telemetry registration attempt %d failed: %v", attempt+1, err))
			continue
		}

		if err := h.store.Set(ctx, storage.KeyClientUUID, id); err != nil {
			h.log.Error(fmt.Sprintf("failed to persist telemetry client id: %v", err))
			continue
		}

		h.mu.Lock()
		h.identity = id
		h.loaded = true
		h.mu.Unlock()

		h.log.Info(fmt.Sprintf("telemetry client registered, id: %s", id))
		return true
	}

	h.log.Error(fmt.Sprintf("telemetry registration failed after %d attempts", h.maxRetries+1))
	return false
}

// SendHeartbeat 发送一次心跳，不做重试
// 返回 nil 表示2xx，ErrIdentityRejected 表示身份已被清除
func (h *HeartbeatTask) SendHeartbeat(ctx context.Context) error {
	identity := h.Identity()
	if identity == "" {
		h.log.Error("no telemetry client id, heartbeat not sent")
		return modelClient.ErrProvisioning
	}

	status, err := h.client.SendHeartbeat(ctx, identity, h.snapshot)
	if err != nil {
		h.log.Error(fmt.Sprintf("failed to send heartbeat: %v", err))
		return err
	}

	switch {
	case status >= 200 && status < 300:
		h.log.Debug("heartbeat sent")
		return nil
	case status == http.StatusForbidden:
		h.log.Info("telemetry client id rejected by collector, will register again on next cycle")
		h.clearIdentity(ctx)
		return modelClient.ErrIdentityRejected
	default:
		h.log.Error(fmt.Sprintf("heartbeat failed with status %d", status))
		return fmt.Errorf("%w: heartbeat status %d", modelClient.ErrProtocol, status)
	}
}

// loadIdentity 首次运行时从本地存储读取身份标识
func (h *HeartbeatTask) loadIdentity(ctx context.Context) {
	h.mu.RLock()
	loaded := h.loaded
	h.mu.RUnlock()
	if loaded {
		return
	}

	id, ok, err := storage.GetString(ctx, h.store, storage.KeyClientUUID)
	if err != nil {
		h.log.Error(fmt.Sprintf("failed to read stored telemetry client id: %v", err))
		return
	}

	h.mu.Lock()
	if ok {
		h.identity = id
	}
	h.loaded = true
	h.mu.Unlock()
}

// clearIdentity 清除内存和本地存储中的身份标识
func (h *HeartbeatTask) clearIdentity(ctx context.Context) {
	h.mu.Lock()
	h.identity = ""
	h.mu.Unlock()

	if err := h.store.Delete(ctx, storage.KeyClientUUID); err != nil {
		h.log.Error(fmt.Sprintf("failed to delete stored telemetry client id: %v", err))
	}
}

// backoff 第attempt次重试前的等待时间
func (h *HeartbeatTask) backoff(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= time.Duration(h.backoffBase)
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
