package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmcagent/internal/config"
	modelClient "mmcagent/internal/model/client"
	httpclient "mmcagent/internal/pkg/client"
	"mmcagent/internal/pkg/logger"
	"mmcagent/internal/pkg/storage"
	"mmcagent/internal/service/telemetry"
)

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRegisterClient_IssuesUUID(t *testing.T) {
	reg := NewRegistry()
	h := NewRouter(NewHandler(reg))

	w := doJSON(t, h, http.MethodPost, modelClient.RegisterPath, `{"deploy_time":1700000000.5}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp modelClient.RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.MMCUUID, 36)

	rec, ok := reg.Get(resp.MMCUUID)
	require.True(t, ok)
	assert.Equal(t, 1700000000.5, rec.DeployTime)
}

func TestRegisterClient_RequiresDeployTime(t *testing.T) {
	h := NewRouter(NewHandler(NewRegistry()))

	for _, body := range []string{`{}`, `{"deploy_time":null}`, `not json`} {
		w := doJSON(t, h, http.MethodPost, modelClient.RegisterPath, body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestClientHeartbeat_KnownAndUnknown(t *testing.T) {
	reg := NewRegistry()
	h := NewRouter(NewHandler(reg))
	id := reg.Register("2024-01-01")

	body := `{"os_type":"Linux","py_version":"go1.25.0","mmc_version":"0.7.0"}`
	w := doJSON(t, h, http.MethodPost, modelClient.HeartbeatPath, body, map[string]string{
		modelClient.HeaderClientUUID: id,
		"User-Agent":                 modelClient.UserAgentFor(id),
	})
	assert.Equal(t, http.StatusNoContent, w.Code)

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Heartbeats)
	assert.Equal(t, "HeartbeatClient/"+id[:8], rec.UserAgent)
	require.NotNil(t, rec.Snapshot)
	assert.Equal(t, "Linux", rec.Snapshot.OSType)

	w = doJSON(t, h, http.MethodPost, modelClient.HeartbeatPath, body, map[string]string{modelClient.HeaderClientUUID: "nobody"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodPost, modelClient.HeartbeatPath, body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndRevokeClients(t *testing.T) {
	reg := NewRegistry()
	h := NewRouter(NewHandler(reg))
	a := reg.Register(1)
	reg.Register(2)

	w := doJSON(t, h, http.MethodGet, "/stat/clients", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total   int                        `json:"total"`
		Clients []modelClient.ClientRecord `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)

	w = doJSON(t, h, http.MethodDelete, "/stat/clients/"+a, "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, h, http.MethodDelete, "/stat/clients/"+a, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, reg.List(), 1)
}

// TestServer_EndToEnd 真实监听端口，驱动心跳任务走完 注册 -> 心跳 -> 403 -> 重新注册
func TestServer_EndToEnd(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	require.NoError(t, srv.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "local_store.json"))
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), storage.KeyDeployTime, 1700000000.0))

	cfg := config.DefaultConfig().Telemetry
	task := telemetry.NewHeartbeatTask(cfg, store, httpclient.NewHTTPClient("http://"+srv.Addr()),
		&modelClient.SystemInfoSnapshot{OSType: modelClient.OSTypeLinux, PyVersion: "go1.25.0", MMCVersion: "0.7.0"},
		logger.NewComponentLogger("heartbeat"))

	task.Run(context.Background())
	first := task.Identity()
	require.NotEmpty(t, first)
	rec, ok := srv.Registry().Get(first)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Heartbeats)

	require.True(t, srv.Registry().Revoke(first))
	task.Run(context.Background())
	assert.Empty(t, task.Identity())

	task.Run(context.Background())
	second := task.Identity()
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	stored, ok, err := storage.GetString(context.Background(), store, storage.KeyClientUUID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second, stored)
}
