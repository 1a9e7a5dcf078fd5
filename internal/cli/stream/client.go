// Package stream 订阅服务器的 WebSocket 实时事件
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 消息类型常量，与服务端保持一致
const (
	TypeHeartbeat     = "heartbeat"
	TypePong          = "pong"
	TypeChatMessage   = "chat:message"
	TypeMemoryUpdated = "memory:updated"
	TypeError         = "error"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second
)

// Message WebSocket 消息结构
// Payload 保留原始 JSON，由调用方按类型解析
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessagePayload 对话新增一轮
type ChatMessagePayload struct {
	ChatID  int64 `json:"chatId"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Reply *struct {
		Content string `json:"content"`
	} `json:"reply"`
}

// MemoryUpdatedPayload 记忆更新
type MemoryUpdatedPayload struct {
	CharacterID      int64    `json:"characterId"`
	Profile          string   `json:"profile"`
	Topics           []string `json:"topics"`
	InteractionCount int      `json:"interactionCount"`
}

// Client WebSocket 客户端
type Client struct {
	conn      *websocket.Conn
	url       string
	sendChan  chan []byte
	done      chan struct{}
	mu        sync.Mutex
	isRunning bool
	onMessage func(*Message) // 消息回调
}

// NewClient 创建 WebSocket 客户端
// serverURL: HTTP 服务器地址（如 http://localhost:8080）
// token: 访问令牌
func NewClient(serverURL, token string) *Client {
	// 将 HTTP URL 转换为 WebSocket URL
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = wsURL + "/ws?token=" + url.QueryEscape(token)

	return &Client{
		url:      wsURL,
		sendChan: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// OnMessage 设置消息回调
func (c *Client) OnMessage(handler func(*Message)) {
	c.onMessage = handler
}

// Connect 连接到服务器并启动读写协程
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("客户端已在运行")
	}
	c.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("连接失败 (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("连接失败: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.isRunning = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	return nil
}

// Done 连接关闭时关闭
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}

	c.isRunning = false
	close(c.done)

	if c.conn != nil {
		// 发送关闭帧
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
}

// readPump 读取消息
func (c *Client) readPump() {
	defer c.Disconnect()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("websocket message decode failed", "error", err)
			continue
		}

		if c.onMessage != nil {
			c.onMessage(&msg)
		}
	}
}

// writePump 发送心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.Disconnect()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			heartbeat, _ := json.Marshal(&Message{
				Type:      TypeHeartbeat,
				Timestamp: time.Now().UnixMilli(),
			})
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		}
	}
}

// Ping 立即发送一次心跳
func (c *Client) Ping() error {
	data, err := json.Marshal(&Message{Type: TypeHeartbeat, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	select {
	case c.sendChan <- data:
		return nil
	case <-c.Done():
		return fmt.Errorf("连接已关闭")
	default:
		return fmt.Errorf("发送缓冲区已满")
	}
}
