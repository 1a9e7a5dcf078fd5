package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"persona-chat/internal/model"
)

// CharacterRepository 角色数据访问层
type CharacterRepository struct {
	db *gorm.DB
}

// NewCharacterRepository 创建 CharacterRepository 实例
func NewCharacterRepository(db *gorm.DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create 创建角色
func (r *CharacterRepository) Create(ctx context.Context, character *model.Character) error {
	return r.db.WithContext(ctx).Create(character).Error
}

// CreateBatch 批量创建角色，用于首次启动时预置
func (r *CharacterRepository) CreateBatch(ctx context.Context, characters []model.Character) error {
	if len(characters) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&characters).Error
}

// GetByID 根据 ID 获取角色
// 返回:
//   - *model.Character: 角色对象，未找到返回 nil
//   - error: 数据库错误
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*model.Character, error) {
	var character model.Character
	err := r.db.WithContext(ctx).First(&character, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &character, nil
}

// GetByIDs 批量获取角色，返回顺序与数据库一致
func (r *CharacterRepository) GetByIDs(ctx context.Context, ids []int64) ([]model.Character, error) {
	var characters []model.Character
	if len(ids) == 0 {
		return characters, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&characters).Error
	return characters, err
}

// UpdateFields 更新角色的指定字段
func (r *CharacterRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Character{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// Delete 删除角色
func (r *CharacterRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.Character{}, id).Error
}

// ListVisible 分页获取公开角色以及用户自己的角色
// userID 为 0 时只返回公开角色
func (r *CharacterRepository) ListVisible(ctx context.Context, userID int64, page, pageSize int) ([]model.Character, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Character{})
	if userID != 0 {
		query = query.Where("is_public = ? OR user_id = ?", true, userID)
	} else {
		query = query.Where("is_public = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var characters []model.Character
	err := query.
		Order("chat_count DESC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&characters).Error
	return characters, total, err
}

// ListByOwner 获取用户创建的全部角色
func (r *CharacterRepository) ListByOwner(ctx context.Context, userID int64) ([]model.Character, error) {
	var characters []model.Character
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&characters).Error
	return characters, err
}

// Count 统计角色总数
func (r *CharacterRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Character{}).Count(&count).Error
	return count, err
}

// IncrementPopularity 原子增加对话数和消息数
// 使用 col = col + ? 避免并发下的读改写覆盖
func (r *CharacterRepository) IncrementPopularity(ctx context.Context, id int64, chats, messages int) error {
	return r.db.WithContext(ctx).
		Model(&model.Character{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"chat_count":    gorm.Expr("chat_count + ?", chats),
			"message_count": gorm.Expr("message_count + ?", messages),
		}).Error
}
