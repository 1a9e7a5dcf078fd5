// Package websocket 提供 WebSocket 通信功能
package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"persona-chat/pkg/jwt"
	"persona-chat/pkg/response"
	"persona-chat/pkg/util"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 来源由 CORS 配置控制，这里不再校验
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenChecker 检查 Token 是否已登出
type TokenChecker interface {
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// Handler 处理 WebSocket 连接
type Handler struct {
	hub        *Hub
	jwtService *jwt.JWTService
	blacklist  TokenChecker
}

// NewHandler 创建 WebSocket Handler
// blacklist 可以为 nil
func NewHandler(hub *Hub, jwtService *jwt.JWTService, blacklist TokenChecker) *Handler {
	return &Handler{
		hub:        hub,
		jwtService: jwtService,
		blacklist:  blacklist,
	}
}

// HandleWS 处理用户的 WebSocket 连接
// 路由: GET /ws
// 参数: token (query parameter) - Access Token
func (h *Handler) HandleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "token is required")
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		return
	}
	if h.blacklist != nil && h.blacklist.IsTokenBlacklisted(c.Request.Context(), util.HashToken(token)) {
		response.Unauthorized(c, "token has been revoked")
		return
	}

	// 升级 HTTP 连接为 WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, claims.UserID)
	h.hub.Register(client)

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump()

	slog.Info("websocket connected", "user_id", claims.UserID)
}

// RegisterRoutes 注册 WebSocket 路由
// WebSocket 路由不走认证中间件，token 在 query 中验证
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWS)
}
