package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"persona-chat/internal/model"
)

// ErrRelationExists 并发创建同一 (user, character) 关系时返回
var ErrRelationExists = errors.New("relation already exists")

// RelationRepository 用户-角色记忆数据访问层
type RelationRepository struct {
	db *gorm.DB
}

// NewRelationRepository 创建 RelationRepository 实例
func NewRelationRepository(db *gorm.DB) *RelationRepository {
	return &RelationRepository{db: db}
}

// Get 获取用户与角色的关系
// 返回:
//   - *model.UserCharacterRelation: 未找到返回 nil
//   - error: 数据库错误
func (r *RelationRepository) Get(ctx context.Context, userID, characterID int64) (*model.UserCharacterRelation, error) {
	var rel model.UserCharacterRelation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rel, nil
}

// Create 创建关系
// 唯一索引冲突时返回 ErrRelationExists，调用方应重新读取
// 依赖 gorm.Config{TranslateError: true} 把驱动错误转换为 gorm.ErrDuplicatedKey
func (r *RelationRepository) Create(ctx context.Context, rel *model.UserCharacterRelation) error {
	err := r.db.WithContext(ctx).Create(rel).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrRelationExists
	}
	return err
}

// IncrementInteraction 原子增加交互次数并返回新值
func (r *RelationRepository) IncrementInteraction(ctx context.Context, id int64, at time.Time) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.UserCharacterRelation{}).
			Where("id = ?", id).
			UpdateColumns(map[string]interface{}{
				"interaction_count":   gorm.Expr("interaction_count + 1"),
				"last_interaction_at": at,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.UserCharacterRelation{}).
			Where("id = ?", id).
			Select("interaction_count").
			Scan(&count).Error
	})
	return count, err
}

// UpdateFields 更新关系的指定字段
func (r *RelationRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.UserCharacterRelation{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ListFavorites 获取用户收藏的角色关系，按交互次数倒序
func (r *RelationRepository) ListFavorites(ctx context.Context, userID int64, limit int) ([]model.UserCharacterRelation, error) {
	var rels []model.UserCharacterRelation
	err := r.db.WithContext(ctx).
		Preload("Character").
		Where("user_id = ? AND favorite = ?", userID, true).
		Order("interaction_count DESC").
		Limit(limit).
		Find(&rels).Error
	return rels, err
}
