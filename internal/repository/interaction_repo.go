package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"persona-chat/internal/model"
)

// InteractionRepository 交互记录数据访问层
type InteractionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository 创建 InteractionRepository 实例
func NewInteractionRepository(db *gorm.DB) *InteractionRepository {
	return &InteractionRepository{db: db}
}

// Create 写入一条交互记录
func (r *InteractionRepository) Create(ctx context.Context, interaction *model.Interaction) error {
	return r.db.WithContext(ctx).Create(interaction).Error
}

// CharacterScore 角色热度统计结果
type CharacterScore struct {
	CharacterID int64 `json:"characterId"`
	Score       int64 `json:"score"`
}

// PopularCharacters 统计 since 之后对话相关交互最多的角色
// 只计算 chat_start 和 message_sent
func (r *InteractionRepository) PopularCharacters(ctx context.Context, since time.Time, limit int) ([]CharacterScore, error) {
	var scores []CharacterScore
	err := r.db.WithContext(ctx).
		Model(&model.Interaction{}).
		Select("character_id, COUNT(*) AS score").
		Where("created_at >= ? AND character_id IS NOT NULL", since).
		Where("action IN ?", []string{model.ActionChatStart, model.ActionMessageSent}).
		Group("character_id").
		Order("score DESC").
		Limit(limit).
		Scan(&scores).Error
	return scores, err
}

// ActionCount 按行为分组的次数
type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// CountByUser 统计用户各类行为次数
func (r *InteractionRepository) CountByUser(ctx context.Context, userID int64) ([]ActionCount, error) {
	var counts []ActionCount
	err := r.db.WithContext(ctx).
		Model(&model.Interaction{}).
		Select("action, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("action").
		Scan(&counts).Error
	return counts, err
}

// TopCharacterForUser 用户交互最多的角色，没有记录时返回 0
func (r *InteractionRepository) TopCharacterForUser(ctx context.Context, userID int64) (int64, error) {
	var scores []CharacterScore
	err := r.db.WithContext(ctx).
		Model(&model.Interaction{}).
		Select("character_id, COUNT(*) AS score").
		Where("user_id = ? AND character_id IS NOT NULL", userID).
		Group("character_id").
		Order("score DESC").
		Limit(1).
		Scan(&scores).Error
	if err != nil || len(scores) == 0 {
		return 0, err
	}
	return scores[0].CharacterID, nil
}

// DeleteBefore 删除 before 之前的记录，返回删除条数
func (r *InteractionRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&model.Interaction{})
	return result.RowsAffected, result.Error
}
