package model

import (
	"time"

	"gorm.io/datatypes"
)

// UserCharacterRelation 用户与角色之间的记忆
// 对应数据库表 user_character_relations，(user_id, character_id) 唯一
type UserCharacterRelation struct {
	ID int64 `gorm:"primaryKey" json:"id"`

	UserID      int64 `gorm:"uniqueIndex:idx_user_character;not null" json:"userId"`
	CharacterID int64 `gorm:"uniqueIndex:idx_user_character;not null" json:"characterId"`

	// Profile 角色视角下对用户的描述，每次更新整体替换
	Profile string `gorm:"type:text" json:"profile"`

	// Topics 讨论过的话题，去重后按出现顺序保存
	Topics datatypes.JSONSlice[string] `json:"topics"`

	InteractionCount  int        `gorm:"default:0" json:"interactionCount"`
	LastInteractionAt *time.Time `json:"lastInteractionAt,omitempty"`
	Favorite          bool       `gorm:"default:false" json:"favorite"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Character *Character `gorm:"foreignKey:CharacterID;constraint:OnDelete:CASCADE" json:"character,omitempty"`
}

// TableName 指定表名
func (UserCharacterRelation) TableName() string {
	return "user_character_relations"
}
