package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name     string
	interval time.Duration
	wait     time.Duration
	runs     atomic.Int32
	panicOn  int32
	blockCtx bool
}

func (c *countingTask) Name() string                   { return c.name }
func (c *countingTask) Interval() time.Duration        { return c.interval }
func (c *countingTask) WaitBeforeStart() time.Duration { return c.wait }

func (c *countingTask) Run(ctx context.Context) {
	n := c.runs.Add(1)
	if c.panicOn != 0 && n == c.panicOn {
		panic("boom")
	}
	if c.blockCtx {
		<-ctx.Done()
	}
}

func TestManager_RunsPeriodically(t *testing.T) {
	m := NewManager()
	tk := &countingTask{name: "tick", interval: 10 * time.Millisecond}
	require.NoError(t, m.AddTask(context.Background(), tk))

	assert.Eventually(t, func() bool { return tk.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusRunning, m.Status()["tick"])

	require.NoError(t, m.StopAll(context.Background()))
	assert.Empty(t, m.Status())

	stopped := tk.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, tk.runs.Load())
}

func TestManager_ZeroIntervalRunsOnce(t *testing.T) {
	m := NewManager()
	tk := &countingTask{name: "once"}
	require.NoError(t, m.AddTask(context.Background(), tk))

	assert.Eventually(t, func() bool { return len(m.Status()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), tk.runs.Load())
}

func TestManager_WaitBeforeStart(t *testing.T) {
	m := NewManager()
	tk := &countingTask{name: "late", wait: time.Hour}
	require.NoError(t, m.AddTask(context.Background(), tk))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), tk.runs.Load())

	require.NoError(t, m.StopAll(context.Background()))
	assert.Equal(t, int32(0), tk.runs.Load())
}

func TestManager_ReplacesTaskWithSameName(t *testing.T) {
	m := NewManager()
	first := &countingTask{name: "hb", interval: time.Hour, blockCtx: true}
	require.NoError(t, m.AddTask(context.Background(), first))
	assert.Eventually(t, func() bool { return first.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := &countingTask{name: "hb", interval: time.Hour}
	require.NoError(t, m.AddTask(context.Background(), second))
	assert.Eventually(t, func() bool { return second.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	status := m.Status()
	assert.Len(t, status, 1)
	assert.Equal(t, StatusRunning, status["hb"])
	assert.Equal(t, int32(1), first.runs.Load())

	require.NoError(t, m.StopAll(context.Background()))
}

func TestManager_PanicEndsOnlyOneIteration(t *testing.T) {
	m := NewManager()
	tk := &countingTask{name: "flaky", interval: 5 * time.Millisecond, panicOn: 1}
	require.NoError(t, m.AddTask(context.Background(), tk))

	assert.Eventually(t, func() bool { return tk.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.StopAll(context.Background()))
}

func TestManager_StopAllHonoursDeadline(t *testing.T) {
	m := NewManager()
	stuck := &stuckTask{release: make(chan struct{})}
	defer close(stuck.release)
	require.NoError(t, m.AddTask(context.Background(), stuck))
	assert.Eventually(t, func() bool { return stuck.started.Load() }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.StopAll(ctx), context.DeadlineExceeded)
}

func TestManager_AddNilTask(t *testing.T) {
	assert.Error(t, NewManager().AddTask(context.Background(), nil))
}

// stuckTask 忽略取消信号
type stuckTask struct {
	started atomic.Bool
	release chan struct{}
}

func (s *stuckTask) Name() string                   { return "stuck" }
func (s *stuckTask) Interval() time.Duration        { return 0 }
func (s *stuckTask) WaitBeforeStart() time.Duration { return 0 }
func (s *stuckTask) Run(context.Context) {
	s.started.Store(true)
	<-s.release
}
