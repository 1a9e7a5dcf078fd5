package model

import (
	"time"
)

// MessageRole 消息角色常量
const (
	MessageRoleUser      = "user"      // 用户消息
	MessageRoleAssistant = "assistant" // 角色回复
	MessageRoleSystem    = "system"    // 系统提示词
)

// Message 消息模型
// 对应数据库表 messages，同一对话内按 Seq 递增，只追加不修改
type Message struct {
	ID int64 `gorm:"primaryKey" json:"id"`

	// ChatID + Seq 组成唯一索引，保证顺序
	ChatID int64 `gorm:"uniqueIndex:idx_chat_seq;not null" json:"chatId"`
	Seq    int   `gorm:"uniqueIndex:idx_chat_seq;not null" json:"seq"`

	// Role system / user / assistant
	Role string `gorm:"size:20;not null" json:"role"`

	Content string `gorm:"type:text;not null" json:"content"`

	// 可选的媒体引用
	MediaType *string `gorm:"size:20" json:"mediaType,omitempty"`
	MediaURL  *string `gorm:"size:500" json:"mediaUrl,omitempty"`

	// 用户反馈 1~5
	FeedbackRating  *int    `json:"feedbackRating,omitempty"`
	FeedbackComment *string `gorm:"size:1000" json:"feedbackComment,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}
