// Package repository 提供数据访问层的实现
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"persona-chat/internal/model"
)

// ChatRepository 对话数据访问层
// 对话和消息在同一个仓库里维护，保证追加消息与计数更新在一个事务里完成
type ChatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建 ChatRepository 实例
func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Create 创建对话及其初始消息
// 参数:
//   - ctx: 上下文
//   - chat: 对话对象，ID 会被自动填充
//   - messages: 初始消息，Seq 从 1 开始按顺序编号
//
// 返回:
//   - error: 数据库错误
func (r *ChatRepository) Create(ctx context.Context, chat *model.Chat, messages []model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat.MessageCount = len(messages)
		if err := tx.Omit(clause.Associations).Create(chat).Error; err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}
		for i := range messages {
			messages[i].ChatID = chat.ID
			messages[i].Seq = i + 1
		}
		return tx.Create(&messages).Error
	})
}

// GetByID 根据 ID 获取对话，不加载消息
// 返回:
//   - *model.Chat: 对话对象，未找到返回 nil
//   - error: 数据库错误
func (r *ChatRepository) GetByID(ctx context.Context, id int64) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).Preload("Character").First(&chat, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &chat, nil
}

// GetByIDWithMessages 获取对话及全部消息，消息按 Seq 正序
func (r *ChatRepository) GetByIDWithMessages(ctx context.Context, id int64) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).
		Preload("Character").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		First(&chat, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &chat, nil
}

// GetByShareToken 根据分享令牌获取已分享的对话
func (r *ChatRepository) GetByShareToken(ctx context.Context, token string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).
		Preload("Character").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Where("share_token = ? AND is_shared = ?", token, true).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &chat, nil
}

// ListMessages 按顺序获取对话的全部消息
func (r *ChatRepository) ListMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq ASC").
		Find(&messages).Error
	return messages, err
}

// AppendTurn 在一个事务里追加消息并更新对话字段
// Seq 接在当前最大值之后，message_count 原子累加
// 参数:
//   - ctx: 上下文
//   - chatID: 对话ID
//   - messages: 要追加的消息
//   - fields: 需要同时更新的对话字段，可为 nil
//
// 返回:
//   - error: 数据库错误
func (r *ChatRepository) AppendTurn(ctx context.Context, chatID int64, messages []model.Message, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&model.Message{}).
			Where("chat_id = ?", chatID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		for i := range messages {
			messages[i].ChatID = chatID
			messages[i].Seq = maxSeq + i + 1
		}
		if len(messages) > 0 {
			if err := tx.Create(&messages).Error; err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"message_count":   gorm.Expr("message_count + ?", len(messages)),
			"last_message_at": time.Now(),
		}
		for k, v := range fields {
			updates[k] = v
		}
		return tx.Model(&model.Chat{}).Where("id = ?", chatID).Updates(updates).Error
	})
}

// UpdateFields 更新对话的指定字段
func (r *ChatRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Chat{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ListByOwner 分页获取用户或访客的对话，按最近更新时间倒序
// userID 非 0 时按用户查询，否则按 guestID 查询
// 返回:
//   - []model.Chat: 对话列表（包含角色信息，不含消息）
//   - int64: 总数
//   - error: 数据库错误
func (r *ChatRepository) ListByOwner(ctx context.Context, userID int64, guestID string, page, pageSize int) ([]model.Chat, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Chat{})
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	} else {
		query = query.Where("guest_id = ?", guestID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var chats []model.Chat
	offset := (page - 1) * pageSize
	err := query.
		Preload("Character").
		Order("updated_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&chats).Error

	return chats, total, err
}

// Delete 删除对话及其消息
func (r *ChatRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Chat{}, id).Error
	})
}

// UpdateMessageFeedback 更新某条消息的反馈
// 返回:
//   - bool: 是否找到该消息
//   - error: 数据库错误
func (r *ChatRepository) UpdateMessageFeedback(ctx context.Context, chatID int64, seq int, rating int, comment *string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("chat_id = ? AND seq = ?", chatID, seq).
		Updates(map[string]interface{}{
			"feedback_rating":  rating,
			"feedback_comment": comment,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
