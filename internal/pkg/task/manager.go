/**
 * 周期任务管理器
 * @date: 2026.10.19
 * @description: 以固定间隔运行后台任务，同名任务会被取消并替换
 */
package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"mmcagent/internal/pkg/logger"
)

// 任务状态
const (
	StatusRunning = "running"
	StatusDone    = "done"
)

// Task 周期任务接口
type Task interface {
	// Name 任务名称，管理器内唯一
	Name() string
	// Interval 两次运行的间隔，为0时只运行一次
	Interval() time.Duration
	// WaitBeforeStart 首次运行前的等待时间
	WaitBeforeStart() time.Duration
	// Run 执行一次任务
	Run(ctx context.Context)
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager 任务管理器
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*handle
}

// NewManager 创建任务管理器
func NewManager() *Manager {
	return &Manager{tasks: make(map[string]*handle)}
}

// AddTask 启动任务，已存在同名任务时先取消并等待其结束
func (m *Manager) AddTask(ctx context.Context, t Task) error {
	if t == nil {
		return fmt.Errorf("task cannot be nil")
	}
	name := t.Name()

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.tasks[name]; ok {
		logger.LogSystemEvent("TaskManager", "AddTask", fmt.Sprintf("Task '%s' already exists, replacing", name), logger.WarnLevel, nil)
		old.cancel()
		select {
		case <-old.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for task %s to stop: %w", name, ctx.Err())
		}
		delete(m.tasks, name)
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, done: make(chan struct{})}
	m.tasks[name] = h

	go m.loop(taskCtx, t, h)

	logger.LogSystemEvent("TaskManager", "AddTask", fmt.Sprintf("Task '%s' started", name), logger.DebugLevel, nil)
	return nil
}

// loop 任务主循环
func (m *Manager) loop(ctx context.Context, t Task, h *handle) {
	defer func() {
		close(h.done)
		m.mu.Lock()
		// 只移除自己，替换后的新任务不受影响
		if cur, ok := m.tasks[t.Name()]; ok && cur == h {
			delete(m.tasks, t.Name())
		}
		m.mu.Unlock()
	}()

	if !sleepCtx(ctx, t.WaitBeforeStart()) {
		return
	}

	for {
		m.runOnce(ctx, t)

		interval := t.Interval()
		if interval <= 0 {
			return
		}
		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// runOnce 执行一次，panic只结束本次执行
func (m *Manager) runOnce(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogSystemEvent("TaskManager", "Run", fmt.Sprintf("Task '%s' panicked: %v", t.Name(), r), logger.ErrorLevel,
				map[string]interface{}{"stack": string(debug.Stack())})
		}
	}()
	t.Run(ctx)
}

// Status 获取所有任务状态
func (m *Manager) Status() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]string, len(m.tasks))
	for name, h := range m.tasks {
		select {
		case <-h.done:
			status[name] = StatusDone
		default:
			status[name] = StatusRunning
		}
	}
	return status
}

// StopAll 取消所有任务并等待结束
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	handles := make(map[string]*handle, len(m.tasks))
	for name, h := range m.tasks {
		handles[name] = h
		h.cancel()
	}
	m.mu.Unlock()

	for name, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for task %s to stop: %w", name, ctx.Err())
		}
	}

	logger.LogSystemEvent("TaskManager", "StopAll", "All tasks stopped", logger.InfoLevel, nil)
	return nil
}

// sleepCtx 可被取消的等待，返回false表示已取消
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
