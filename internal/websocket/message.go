// Package websocket 提供 WebSocket 通信功能
// 把对话和记忆的变化实时推送给已登录用户
package websocket

import (
	"time"

	"persona-chat/internal/model"
)

// MessageType 消息类型常量
const (
	// 客户端 → 服务端
	TypeHeartbeat = "heartbeat" // 心跳

	// 服务端 → 客户端
	TypeChatMessage   = "chat:message"   // 对话新增了一轮
	TypeMemoryUpdated = "memory:updated" // 用户与角色的记忆已更新

	// 通用
	TypeError = "error" // 错误消息
	TypePong  = "pong"  // 心跳响应
)

// Message WebSocket 消息结构
// 所有消息都使用这个统一的结构
type Message struct {
	Type      string      `json:"type"`                 // 消息类型
	Payload   interface{} `json:"payload"`              // 消息内容
	Timestamp int64       `json:"timestamp"`            // 时间戳（毫秒）
	MessageID string      `json:"message_id,omitempty"` // 消息ID，用于追踪
}

// NewMessage 创建新消息
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ==================== Payload 类型定义 ====================

// ChatMessagePayload 一轮对话的用户消息和角色回复
type ChatMessagePayload struct {
	ChatID  int64          `json:"chatId"`
	Message *model.Message `json:"message"`
	Reply   *model.Message `json:"reply"`
}

// MemoryUpdatedPayload 记忆更新
type MemoryUpdatedPayload struct {
	CharacterID      int64    `json:"characterId"`
	Profile          string   `json:"profile"`
	Topics           []string `json:"topics"`
	InteractionCount int      `json:"interactionCount"`
}

// ErrorPayload 错误消息 Payload
type ErrorPayload struct {
	Code    int    `json:"code"`    // 错误码
	Message string `json:"message"` // 错误信息
}
