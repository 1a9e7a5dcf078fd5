package model

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultAvatarURL 未上传头像时使用的图片
const DefaultAvatarURL = "/images/default-avatar.png"

// Character 角色模型
// 对应数据库表 characters
// 由用户创建或启动时预置，SystemPrompt 会作为每个对话的首条系统消息
type Character struct {
	ID int64 `gorm:"primaryKey" json:"id"`

	Name         string `gorm:"size:100;not null" json:"name"`
	Description  string `gorm:"type:text" json:"description"`
	SystemPrompt string `gorm:"type:text;not null" json:"systemPrompt"`

	// IsPublic 公开角色对所有人可见，私有角色只对创建者可见
	IsPublic bool `gorm:"default:false;index" json:"isPublic"`

	// UserID 创建者，系统预置角色为 NULL
	UserID *int64 `gorm:"index" json:"userId,omitempty"`

	AvatarURL string                      `gorm:"size:500" json:"avatarUrl"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`

	// 评分汇总
	RatingAverage float64 `gorm:"default:0" json:"ratingAverage"`
	RatingCount   int     `gorm:"default:0" json:"ratingCount"`

	// 热度计数，只通过原子自增更新
	ChatCount    int64 `gorm:"default:0" json:"chatCount"`
	MessageCount int64 `gorm:"default:0" json:"messageCount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定表名
func (Character) TableName() string {
	return "characters"
}

// OwnedBy 判断角色是否由该用户创建
func (c *Character) OwnedBy(userID int64) bool {
	return userID != 0 && c.UserID != nil && *c.UserID == userID
}

// VisibleTo 公开角色或自己的角色可见
func (c *Character) VisibleTo(userID int64) bool {
	return c.IsPublic || c.OwnedBy(userID)
}
