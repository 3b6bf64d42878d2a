package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/api/dto"
	"github.com/LENAX/async-task/pkg/core/manager"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventSource 作业事件来源，由manager.EventBus实现
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan *manager.JobEvent, error)
}

// EventHandler 作业事件WebSocket处理器
type EventHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewEventHandler 创建EventHandler
func NewEventHandler(source EventSource, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream 推送作业生命周期事件
// GET /api/v1/events
func (h *EventHandler) Stream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.source.Subscribe(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, err.Error()))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("[API] WebSocket升级失败", zap.Error(err))
		return
	}
	defer conn.Close()
	h.logger.Debug("[API] 事件订阅已建立", zap.String("remote", conn.RemoteAddr().String()))

	// 读协程只处理控制帧，客户端断开时结束订阅
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
