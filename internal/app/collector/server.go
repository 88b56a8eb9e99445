/**
 * 模拟遥测收集端
 * @date: 2026.10.19
 * @description: 实现注册与心跳两个接口的本地收集端，用于开发调试和端到端测试
 */
package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"mmcagent/internal/pkg/logger"
)

// Server 收集端服务
type Server struct {
	registry   *Registry
	httpServer *http.Server
	listener   net.Listener
}

// NewServer 创建收集端服务
func NewServer(listen string) *Server {
	registry := NewRegistry()
	return &Server{
		registry: registry,
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           NewRouter(NewHandler(registry)),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Registry 客户端登记表
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 监听端口并在后台提供服务
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("collector server stopped: %v", err)
		}
	}()

	logger.LogSystemEvent("Collector", "Start", fmt.Sprintf("Collector listening on %s", ln.Addr()), logger.InfoLevel, nil)
	return nil
}

// Addr 实际监听地址（Start之后有效）
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop collector server: %w", err)
	}
	logger.LogSystemEvent("Collector", "Stop", "Collector stopped", logger.InfoLevel, nil)
	return nil
}
