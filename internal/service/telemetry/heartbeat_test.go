package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmcagent/internal/config"
	modelClient "mmcagent/internal/model/client"
	httpclient "mmcagent/internal/pkg/client"
	"mmcagent/internal/pkg/storage"
)

// ==================== 测试替身 ====================

type memStore struct {
	mu     sync.Mutex
	data   map[string]interface{}
	writes int
	getErr error
	setErr error
}

func newMemStore(kv map[string]interface{}) *memStore {
	data := map[string]interface{}{}
	for k, v := range kv {
		data[k] = v
	}
	return &memStore{data: data}
}

func (m *memStore) Get(_ context.Context, key string) (interface{}, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.writes++
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	delete(m.data, key)
	return nil
}

func (m *memStore) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]interface{}{}
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

type registerResult struct {
	id  string
	err error
}

type heartbeatResult struct {
	status int
	err    error
}

type fakeClient struct {
	mu         sync.Mutex
	register   []registerResult
	heartbeat  []heartbeatResult
	regCalls   int
	hbCalls    int
	deployTime interface{}
	hbIdentity string
	started    chan struct{}
	block      chan struct{}
}

func (f *fakeClient) RegisterClient(_ context.Context, deployTime interface{}) (string, error) {
	if f.block != nil {
		f.started <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regCalls++
	f.deployTime = deployTime
	if len(f.register) == 0 {
		return "", fmt.Errorf("%w: no scripted response", modelClient.ErrProtocol)
	}
	r := f.register[0]
	if len(f.register) > 1 {
		f.register = f.register[1:]
	}
	return r.id, r.err
}

func (f *fakeClient) SendHeartbeat(_ context.Context, identity string, _ *modelClient.SystemInfoSnapshot) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hbCalls++
	f.hbIdentity = identity
	if len(f.heartbeat) == 0 {
		return http.StatusOK, nil
	}
	r := f.heartbeat[0]
	if len(f.heartbeat) > 1 {
		f.heartbeat = f.heartbeat[1:]
	}
	return r.status, r.err
}

func (f *fakeClient) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regCalls, f.hbCalls
}

type recordingLogger struct {
	mu     sync.Mutex
	debugs []string
	infos  []string
	errors []string
}

func (l *recordingLogger) Debug(msg string) { l.mu.Lock(); l.debugs = append(l.debugs, msg); l.mu.Unlock() }
func (l *recordingLogger) Info(msg string)  { l.mu.Lock(); l.infos = append(l.infos, msg); l.mu.Unlock() }
func (l *recordingLogger) Error(msg string) { l.mu.Lock(); l.errors = append(l.errors, msg); l.mu.Unlock() }

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *recordingSleeper) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.sleeps {
		sum += d
	}
	return sum
}

var testSnapshot = &modelClient.SystemInfoSnapshot{OSType: modelClient.OSTypeLinux, PyVersion: "go1.25.0", MMCVersion: "0.7.0"}

type fixture struct {
	task    *HeartbeatTask
	store   *memStore
	client  *fakeClient
	log     *recordingLogger
	sleeper *recordingSleeper
}

func newFixture(t *testing.T, enabled bool, kv map[string]interface{}, client *fakeClient) *fixture {
	t.Helper()
	cfg := config.DefaultConfig().Telemetry
	cfg.Enable = enabled

	f := &fixture{
		store:   newMemStore(kv),
		client:  client,
		log:     &recordingLogger{},
		sleeper: &recordingSleeper{},
	}
	f.task = NewHeartbeatTask(cfg, f.store, client, testSnapshot, f.log, WithSleeper(f.sleeper.sleep))
	return f
}

// ==================== 测试用例 ====================

func TestRun_DisabledMakesNoCalls(t *testing.T) {
	f := newFixture(t, false, map[string]interface{}{storage.KeyDeployTime: 1700000000.0}, &fakeClient{})

	for i := 0; i < 5; i++ {
		f.task.Run(context.Background())
	}

	reg, hb := f.client.calls()
	assert.Zero(t, reg)
	assert.Zero(t, hb)
	assert.Zero(t, f.store.writes)
	assert.Equal(t, map[string]interface{}{storage.KeyDeployTime: 1700000000.0}, f.store.snapshot())
}

func TestRegisterClient_MissingDeployTimeMakesNoCalls(t *testing.T) {
	f := newFixture(t, true, nil, &fakeClient{})

	assert.False(t, f.task.RegisterClient(context.Background()))

	reg, hb := f.client.calls()
	assert.Zero(t, reg)
	assert.Zero(t, hb)
	assert.Empty(t, f.sleeper.sleeps)
	assert.Equal(t, 1, f.log.errorCount())
}

func TestRegisterClient_StoreReadErrorIsProvisioningFailure(t *testing.T) {
	f := newFixture(t, true, nil, &fakeClient{})
	f.store.getErr = errors.New("disk on fire")

	assert.False(t, f.task.RegisterClient(context.Background()))
	reg, _ := f.client.calls()
	assert.Zero(t, reg)
}

func TestRegisterClient_SuccessPersistsIdentity(t *testing.T) {
	client := &fakeClient{register: []registerResult{{id: "abc123"}}}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: "2024-01-01 00:00:00"}, client)

	require.True(t, f.task.RegisterClient(context.Background()))

	assert.Equal(t, "abc123", f.task.Identity())
	assert.Equal(t, "abc123", f.store.snapshot()[storage.KeyClientUUID])
	assert.Equal(t, "2024-01-01 00:00:00", client.deployTime)
	assert.Empty(t, f.sleeper.sleeps)
}

func TestRegisterClient_ExhaustsRetriesWithExponentialBackoff(t *testing.T) {
	client := &fakeClient{register: []registerResult{
		{err: fmt.Errorf("%w: register status 500", modelClient.ErrProtocol)},
		{err: fmt.Errorf("%w: register response missing mmc_uuid", modelClient.ErrProtocol)},
		{err: fmt.Errorf("%w: connection refused", modelClient.ErrTransport)},
		{err: fmt.Errorf("%w: register status 502", modelClient.ErrProtocol)},
	}}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1700000000.0}, client)

	assert.False(t, f.task.RegisterClient(context.Background()))

	reg, _ := client.calls()
	assert.Equal(t, 4, reg)
	assert.Equal(t, []time.Duration{4 * time.Second, 16 * time.Second, 64 * time.Second}, f.sleeper.sleeps)
	assert.Equal(t, 84*time.Second, f.sleeper.total())
	assert.Empty(t, f.task.Identity())
	_, persisted := f.store.snapshot()[storage.KeyClientUUID]
	assert.False(t, persisted)
}

func TestRegisterClient_SucceedsOnThirdAttempt(t *testing.T) {
	client := &fakeClient{register: []registerResult{
		{err: modelClient.ErrTransport},
		{err: modelClient.ErrProtocol},
		{id: "third-time-lucky"},
	}}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0}, client)

	require.True(t, f.task.RegisterClient(context.Background()))
	assert.Equal(t, []time.Duration{4 * time.Second, 16 * time.Second}, f.sleeper.sleeps)
	assert.Equal(t, "third-time-lucky", f.task.Identity())
}

func TestRegisterClient_PersistFailureCountsAsFailedAttempt(t *testing.T) {
	client := &fakeClient{register: []registerResult{{id: "abc123"}}}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0}, client)
	f.store.setErr = errors.New("read-only filesystem")

	assert.False(t, f.task.RegisterClient(context.Background()))
	reg, _ := client.calls()
	assert.Equal(t, 4, reg)
	assert.Empty(t, f.task.Identity())
}

func TestRegisterClient_CancelledDuringBackoff(t *testing.T) {
	client := &fakeClient{register: []registerResult{{err: modelClient.ErrTransport}}}
	cfg := config.DefaultConfig().Telemetry
	store := newMemStore(map[string]interface{}{storage.KeyDeployTime: 1.0})
	task := NewHeartbeatTask(cfg, store, client, testSnapshot, &recordingLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.False(t, task.RegisterClient(ctx))
	assert.Less(t, time.Since(start), time.Second)
	reg, _ := client.calls()
	assert.Equal(t, 1, reg)
}

func TestRun_RegistersThenSendsHeartbeat(t *testing.T) {
	client := &fakeClient{register: []registerResult{{id: "abcdef0123456789"}}}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0}, client)

	f.task.Run(context.Background())

	reg, hb := client.calls()
	assert.Equal(t, 1, reg)
	assert.Equal(t, 1, hb)
	assert.Equal(t, "abcdef0123456789", client.hbIdentity)
}

func TestRun_UsesStoredIdentityWithoutRegistering(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0, storage.KeyClientUUID: "stored-id"}, client)

	f.task.Run(context.Background())

	reg, hb := client.calls()
	assert.Zero(t, reg)
	assert.Equal(t, 1, hb)
	assert.Equal(t, "stored-id", client.hbIdentity)
}

func TestRun_RegistrationFailureSkipsHeartbeat(t *testing.T) {
	client := &fakeClient{register: []registerResult{{err: modelClient.ErrTransport}}}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0}, client)

	f.task.Run(context.Background())

	reg, hb := client.calls()
	assert.Equal(t, 4, reg)
	assert.Zero(t, hb)
}

func TestSendHeartbeat_403ClearsIdentityAndNextRunRegisters(t *testing.T) {
	client := &fakeClient{
		register:  []registerResult{{id: "fresh-id"}},
		heartbeat: []heartbeatResult{{status: http.StatusForbidden}, {status: http.StatusOK}},
	}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0, storage.KeyClientUUID: "stale-id"}, client)

	f.task.Run(context.Background())

	assert.Empty(t, f.task.Identity())
	_, persisted := f.store.snapshot()[storage.KeyClientUUID]
	assert.False(t, persisted)
	reg, hb := client.calls()
	assert.Zero(t, reg)
	assert.Equal(t, 1, hb)

	f.task.Run(context.Background())

	reg, hb = client.calls()
	assert.Equal(t, 1, reg)
	assert.Equal(t, 2, hb)
	assert.Equal(t, "fresh-id", f.task.Identity())
	assert.Equal(t, "fresh-id", f.store.snapshot()[storage.KeyClientUUID])
}

func TestSendHeartbeat_2xxChangesNothing(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent, 299} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			client := &fakeClient{heartbeat: []heartbeatResult{{status: status}}}
			f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0, storage.KeyClientUUID: "abc123"}, client)
			before := f.store.snapshot()

			f.task.Run(context.Background())

			assert.Equal(t, before, f.store.snapshot())
			assert.Zero(t, f.store.writes)
			assert.Equal(t, "abc123", f.task.Identity())
			assert.Zero(t, f.log.errorCount())
		})
	}
}

func TestSendHeartbeat_OtherFailuresKeepIdentityAndDoNotRetry(t *testing.T) {
	tests := []struct {
		name    string
		result  heartbeatResult
		wantErr error
	}{
		{"server error", heartbeatResult{status: http.StatusInternalServerError}, modelClient.ErrProtocol},
		{"unauthorized", heartbeatResult{status: http.StatusUnauthorized}, modelClient.ErrProtocol},
		{"transport", heartbeatResult{err: fmt.Errorf("%w: timeout", modelClient.ErrTransport)}, modelClient.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{heartbeat: []heartbeatResult{tt.result}}
			f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0, storage.KeyClientUUID: "abc123"}, client)
			f.task.loadIdentity(context.Background())

			err := f.task.SendHeartbeat(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)

			_, hb := client.calls()
			assert.Equal(t, 1, hb)
			assert.Equal(t, "abc123", f.task.Identity())
			assert.Equal(t, "abc123", f.store.snapshot()[storage.KeyClientUUID])
			assert.Empty(t, f.sleeper.sleeps)
			assert.Equal(t, 1, f.log.errorCount())
		})
	}
}

func TestSendHeartbeat_WithoutIdentityIsNotSent(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, true, nil, client)

	assert.ErrorIs(t, f.task.SendHeartbeat(context.Background()), modelClient.ErrProvisioning)
	_, hb := client.calls()
	assert.Zero(t, hb)
}

func TestRun_IsNotReentrant(t *testing.T) {
	client := &fakeClient{
		register: []registerResult{{id: "abc123"}},
		started:  make(chan struct{}, 1),
		block:    make(chan struct{}),
	}
	f := newFixture(t, true, map[string]interface{}{storage.KeyDeployTime: 1.0}, client)

	done := make(chan struct{})
	go func() {
		f.task.Run(context.Background())
		close(done)
	}()

	// 第一个Run阻塞在注册请求中
	<-client.started
	f.task.Run(context.Background())

	close(client.block)
	<-done

	reg, hb := client.calls()
	assert.Equal(t, 1, reg)
	assert.Equal(t, 1, hb)
}

func TestSetEnabled_TogglesRun(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, false, map[string]interface{}{storage.KeyDeployTime: 1.0, storage.KeyClientUUID: "abc"}, client)

	f.task.Run(context.Background())
	_, hb := client.calls()
	assert.Zero(t, hb)

	f.task.SetEnabled(true)
	assert.True(t, f.task.Enabled())
	f.task.Run(context.Background())
	_, hb = client.calls()
	assert.Equal(t, 1, hb)
}

func TestBackoff_UsesConfiguredBase(t *testing.T) {
	cfg := config.DefaultConfig().Telemetry
	cfg.BackoffBase = 2
	task := NewHeartbeatTask(cfg, newMemStore(nil), &fakeClient{}, testSnapshot, &recordingLogger{})

	assert.Equal(t, 2*time.Second, task.backoff(1))
	assert.Equal(t, 4*time.Second, task.backoff(2))
	assert.Equal(t, 8*time.Second, task.backoff(3))
}

// TestHeartbeatTask_AgainstHTTPCollector 使用真实HTTP客户端与文件存储跑完整流程
func TestHeartbeatTask_AgainstHTTPCollector(t *testing.T) {
	var (
		registered atomic.Int32
		rejectNext atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case modelClient.RegisterPath:
			n := registered.Add(1)
			_, _ = io.WriteString(w, fmt.Sprintf(`{"mmc_uuid":"client-%04d"}`, n))
		case modelClient.HeartbeatPath:
			if r.Header.Get("User-Agent") != modelClient.UserAgentFor(r.Header.Get(modelClient.HeaderClientUUID)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if rejectNext.CompareAndSwap(true, false) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "local_store.json"))
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), storage.KeyDeployTime, 1700000000.0))

	cfg := config.DefaultConfig().Telemetry
	log := &recordingLogger{}
	task := NewHeartbeatTask(cfg, store, httpclient.NewHTTPClient(srv.URL), testSnapshot, log)

	task.Run(context.Background())
	assert.Equal(t, "client-0001", task.Identity())

	rejectNext.Store(true)
	task.Run(context.Background())
	assert.Empty(t, task.Identity())
	has, err := store.Has(context.Background(), storage.KeyClientUUID)
	require.NoError(t, err)
	assert.False(t, has)

	task.Run(context.Background())
	assert.Equal(t, "client-0002", task.Identity())
	assert.Zero(t, log.errorCount())
}
