package model

import (
	"time"

	"gorm.io/datatypes"
)

// Chat 对话模型
// 对应数据库表 chats
// 归属于登录用户或访客二者之一
type Chat struct {
	ID int64 `gorm:"primaryKey" json:"id"`

	CharacterID int64 `gorm:"index;not null" json:"characterId"`

	// UserID 与 GuestID 有且只有一个非空
	UserID  *int64  `gorm:"index" json:"userId,omitempty"`
	GuestID *string `gorm:"size:64;index" json:"guestId,omitempty"`

	// Title 默认 "Chat with <角色名>"
	Title string `gorm:"size:200" json:"title"`

	AIProvider string                                 `gorm:"size:20;not null" json:"aiProvider"`
	AIModel    string                                 `gorm:"size:100" json:"aiModel"`
	AISettings datatypes.JSONType[GenerationSettings] `json:"aiSettings"`

	// Summary 压缩后的滚动摘要，首次压缩前为空
	Summary string `gorm:"type:text" json:"summary,omitempty"`

	MessageCount  int        `gorm:"default:0" json:"messageCount"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`

	// 分享状态，未分享时 ShareToken 为 NULL
	IsShared   bool    `gorm:"default:false" json:"isShared"`
	ShareToken *string `gorm:"size:64;uniqueIndex" json:"shareToken,omitempty"`

	Topics datatypes.JSONSlice[string] `json:"topics,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Character *Character `gorm:"foreignKey:CharacterID;constraint:OnDelete:CASCADE" json:"character,omitempty"`
	Messages  []Message  `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName 指定表名
func (Chat) TableName() string {
	return "chats"
}

// IsOwnedBy 判断调用方是否拥有该对话
// 用户对话要求用户 ID 一致，访客对话要求访客 ID 一致
func (c *Chat) IsOwnedBy(userID int64, guestID string) bool {
	if c.UserID != nil {
		return userID != 0 && *c.UserID == userID
	}
	if c.GuestID != nil {
		return guestID != "" && *c.GuestID == guestID
	}
	return false
}

// Settings 返回生成参数，未设置时返回默认值
func (c *Chat) Settings() GenerationSettings {
	s := c.AISettings.Data()
	if s == (GenerationSettings{}) {
		return DefaultGenerationSettings()
	}
	return s
}
