package model

import (
	"time"

	"gorm.io/datatypes"
)

// 交互行为类型
const (
	ActionView        = "view"
	ActionChatStart   = "chat_start"
	ActionMessageSent = "message_sent"
	ActionFeedback    = "feedback"
	ActionShare       = "share"
	ActionSearch      = "search"
)

// Interaction 交互记录
// 对应数据库表 interactions，超过保留期的记录会被定期清理
type Interaction struct {
	ID int64 `gorm:"primaryKey" json:"id"`

	UserID      *int64  `gorm:"index" json:"userId,omitempty"`
	GuestID     *string `gorm:"size:64;index" json:"guestId,omitempty"`
	CharacterID *int64  `gorm:"index" json:"characterId,omitempty"`

	Action   string            `gorm:"size:20;not null;index" json:"action"`
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 指定表名
func (Interaction) TableName() string {
	return "interactions"
}
