/**
 * 遥测HTTP通信客户端
 * @date: 2026.10.19
 * @description: Agent端与遥测收集端的HTTP通信客户端，负责注册与心跳两个接口
 */
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mmcagent/internal/model/client"
)

// DefaultRequestTimeout 单次请求超时
const DefaultRequestTimeout = 5 * time.Second

// Doer 执行HTTP请求的最小接口，便于测试时替换
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TelemetryClient 遥测客户端接口
type TelemetryClient interface {
	// RegisterClient 注册客户端，成功时返回收集端分配的身份标识
	RegisterClient(ctx context.Context, deployTime interface{}) (string, error)

	// SendHeartbeat 发送心跳，返回HTTP状态码
	// 传输层失败时状态码为0，错误包装 ErrTransport
	SendHeartbeat(ctx context.Context, identity string, snapshot *client.SystemInfoSnapshot) (int, error)
}

// httpClient 遥测客户端实现
type httpClient struct {
	doer    Doer
	baseURL string
	timeout time.Duration
}

// Option 客户端选项
type Option func(*httpClient)

// WithDoer 替换底层HTTP执行器
func WithDoer(d Doer) Option {
	return func(c *httpClient) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *httpClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewHTTPClient 创建遥测客户端实例
func NewHTTPClient(baseURL string, opts ...Option) TelemetryClient {
	c := &httpClient{
		doer:    &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterClient 注册客户端
// 仅当状态码为200且响应体包含非空 mmc_uuid 时视为成功
func (c *httpClient) RegisterClient(ctx context.Context, deployTime interface{}) (string, error) {
	resp, err := c.doRequest(ctx, client.RegisterPath, &client.RegisterRequest{DeployTime: deployTime}, nil)
	if err != nil {
		return "", fmt.Errorf("register client request: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: register status %d", client.ErrProtocol, resp.StatusCode)
	}

	var result client.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode register response: %v", client.ErrProtocol, err)
	}
	if result.MMCUUID == "" {
		return "", fmt.Errorf("%w: register response missing mmc_uuid", client.ErrProtocol)
	}
	return result.MMCUUID, nil
}

// SendHeartbeat 发送心跳，状态码由调用方解释
func (c *httpClient) SendHeartbeat(ctx context.Context, identity string, snapshot *client.SystemInfoSnapshot) (int, error) {
	headers := map[string]string{
		client.HeaderClientUUID: identity,
		"User-Agent":            client.UserAgentFor(identity),
	}

	resp, err := c.doRequest(ctx, client.HeartbeatPath, snapshot, headers)
	if err != nil {
		return 0, fmt.Errorf("send heartbeat request: %w", err)
	}
	defer drainAndClose(resp.Body)

	return resp.StatusCode, nil
}

// doRequest 执行POST请求
// 传输层错误统一包装为 ErrTransport，此时不返回响应对象
func (c *httpClient) doRequest(ctx context.Context, path string, data interface{}, headers map[string]string) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", client.ErrTransport, err)
	}

	// 响应体读取完毕后再释放超时上下文
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
