// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"

	"gorm.io/datatypes"
)

// 账号状态
const (
	UserStatusDisabled int8 = 0
	UserStatusActive   int8 = 1
)

// User 用户模型
// 对应数据库表 users
type User struct {
	// ID 用户唯一标识，自增主键
	ID int64 `gorm:"primaryKey" json:"id"`

	// Username 用户名，用于登录，全局唯一
	Username string `gorm:"size:50;uniqueIndex;not null" json:"username"`

	// PasswordHash 密码的 bcrypt 哈希值
	PasswordHash string `gorm:"size:255;not null" json:"-"`

	// Email 用户邮箱，可选
	Email *string `gorm:"size:100;uniqueIndex" json:"email,omitempty"`

	// Avatar 用户头像 URL，可选
	Avatar *string `gorm:"size:500" json:"avatar,omitempty"`

	// Status 账号状态 1: 正常 0: 禁用
	Status int8 `gorm:"default:1" json:"status"`

	// AIPreferences 默认供应商与各供应商偏好
	AIPreferences datatypes.JSONType[AIPreferences] `json:"ai_preferences"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// Preferences 返回用户偏好，未设置过时返回默认值
func (u *User) Preferences() AIPreferences {
	prefs := u.AIPreferences.Data()
	if prefs.Providers == nil {
		return DefaultAIPreferences()
	}
	return prefs
}
