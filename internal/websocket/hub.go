// Package websocket 提供 WebSocket 通信功能
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"persona-chat/internal/cache"
	"persona-chat/internal/model"
)

const publishTimeout = 5 * time.Second

// EventBus 跨实例的用户事件总线，由 cache.RedisCache 实现
type EventBus interface {
	PublishUserEvent(ctx context.Context, userID int64, event interface{}) error
}

// Hub 是 WebSocket 连接的中心管理器
// 负责：
// 1. 管理本实例上的客户端连接
// 2. 把事件发布到 Redis，再由每个实例投递给自己的连接
type Hub struct {
	// userID -> []*Client
	// 一个用户可能同时打开多个连接
	clients map[int64][]*Client

	// 互斥锁，保护并发访问
	mu sync.RWMutex

	// 为 nil 时直接投递给本实例
	bus EventBus
}

// NewHub 创建 Hub 实例
func NewHub(bus EventBus) *Hub {
	return &Hub{
		clients: make(map[int64][]*Client),
		bus:     bus,
	}
}

// Run 消费 Redis 订阅的用户事件并投递给本实例的连接
// 阻塞直到 ctx 取消或 events 关闭
func (h *Hub) Run(ctx context.Context, events <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			userID, ok := cache.ParseUserEventChannel(msg.Channel)
			if !ok {
				slog.Warn("unexpected event channel", "channel", msg.Channel)
				continue
			}
			h.deliver(userID, []byte(msg.Payload))
		}
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.userID] = append(h.clients[client.userID], client)
	slog.Debug("websocket client registered", "user_id", client.userID)
}

// Unregister 注销客户端并关闭发送通道
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	clients := h.clients[client.userID]
	for i, c := range clients {
		if c == client {
			h.clients[client.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	// 如果没有连接了，删除 key
	if len(h.clients[client.userID]) == 0 {
		delete(h.clients, client.userID)
	}
	h.mu.Unlock()

	client.Close()
	slog.Debug("websocket client unregistered", "user_id", client.userID)
}

// ClientCount 用户在本实例上的连接数
func (h *Hub) ClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// NotifyChatMessage 推送一轮对话
func (h *Hub) NotifyChatMessage(userID, chatID int64, message, reply *model.Message) {
	h.publish(userID, NewMessage(TypeChatMessage, &ChatMessagePayload{
		ChatID:  chatID,
		Message: message,
		Reply:   reply,
	}))
}

// NotifyMemoryUpdated 推送记忆更新
func (h *Hub) NotifyMemoryUpdated(userID int64, rel *model.UserCharacterRelation) {
	if rel == nil {
		return
	}
	h.publish(userID, NewMessage(TypeMemoryUpdated, &MemoryUpdatedPayload{
		CharacterID:      rel.CharacterID,
		Profile:          rel.Profile,
		Topics:           rel.Topics,
		InteractionCount: rel.InteractionCount,
	}))
}

func (h *Hub) publish(userID int64, msg *Message) {
	if h.bus == nil {
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("marshal websocket message failed", "type", msg.Type, "error", err)
			return
		}
		h.deliver(userID, data)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.bus.PublishUserEvent(ctx, userID, msg); err != nil {
		slog.Warn("publish user event failed", "user_id", userID, "type", msg.Type, "error", err)
	}
}

// deliver 向用户在本实例上的所有连接发送消息
func (h *Hub) deliver(userID int64, data []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[userID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		client.enqueue(data)
	}
}
