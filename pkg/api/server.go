// Package api 提供作业查询、取消和事件推送的HTTP接口
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/core/manager"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host         string        // 监听地址
	Port         int           // 监听端口
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Addr 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIServer HTTP API服务器
type APIServer struct {
	manager *manager.Manager
	config  ServerConfig
	version string
	logger  *zap.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	closed     bool
}

// NewAPIServer 创建API服务器
func NewAPIServer(m *manager.Manager, config ServerConfig, version string, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIServer{
		manager: m,
		config:  config,
		version: version,
		logger:  logger,
	}
}

// Handler 返回路由，便于测试
func (s *APIServer) Handler() http.Handler {
	return SetupRouter(s.manager, s.manager.Events(), s.version, s.logger)
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return errors.Wrap(err, "server listen failed")
	}
	return s.Serve(ln)
}

// Serve 在已有的listener上提供服务
func (s *APIServer) Serve(ln net.Listener) error {
	// WebSocket连接升级后由handler在每次写入前重设写超时
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("🚀 [API] 服务器启动", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server serve failed")
	}
	return nil
}

// Addr 实际监听地址（启动前返回配置地址）
func (s *APIServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr()
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("🛑 [API] 正在关闭服务器")
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	s.logger.Info("✅ [API] 服务器已停止")
	return nil
}
