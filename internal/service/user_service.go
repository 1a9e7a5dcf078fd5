// Package service 提供业务逻辑层的实现
package service

import (
	"context"

	"persona-chat/internal/model"
	"persona-chat/pkg/util"
)

// RelationManager 用户与角色的关系记录，由 memory.Updater 实现
type RelationManager interface {
	Get(ctx context.Context, userID, characterID int64) (*model.UserCharacterRelation, error)
	ListFavorites(ctx context.Context, userID int64, limit int) ([]model.UserCharacterRelation, error)
	SetFavorite(ctx context.Context, userID, characterID int64, favorite bool) (*model.UserCharacterRelation, error)
}

// UserService 用户服务
// 处理用户资料、AI 偏好和角色关系
type UserService struct {
	userRepo   UserStore       // 用户数据访问层
	characters CharacterStore  // 角色数据访问层
	relations  RelationManager // 关系记录
}

// NewUserService 创建 UserService 实例
func NewUserService(userRepo UserStore, characters CharacterStore, relations RelationManager) *UserService {
	return &UserService{
		userRepo:   userRepo,
		characters: characters,
		relations:  relations,
	}
}

// GetProfile 获取用户资料
func (s *UserService) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfileRequest 更新用户资料请求
type UpdateProfileRequest struct {
	Email  *string `json:"email"`  // 邮箱
	Avatar *string `json:"avatar"` // 头像 URL
}

// UpdateProfile 更新用户资料
// 返回:
//   - *model.User: 更新后的用户信息
//   - error: 邮箱被占用等情况返回错误
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, req *UpdateProfileRequest) (*model.User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if req.Email != nil {
		// 检查邮箱是否已被其他用户使用
		if *req.Email != "" {
			existing, err := s.userRepo.GetByEmail(ctx, *req.Email)
			if err != nil {
				return nil, err
			}
			if existing != nil && existing.ID != userID {
				return nil, ErrEmailExists
			}
		}
		fields["email"] = req.Email
	}
	if req.Avatar != nil {
		fields["avatar"] = req.Avatar
	}

	if len(fields) == 0 {
		return user, nil
	}
	if err := s.userRepo.UpdateFields(ctx, userID, fields); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, userID)
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`       // 旧密码
	NewPassword string `json:"new_password" binding:"required,min=6"` // 新密码
}

// ChangePassword 修改密码
func (s *UserService) ChangePassword(ctx context.Context, userID int64, req *ChangePasswordRequest) error {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if !util.CheckPassword(req.OldPassword, user.PasswordHash) {
		return ErrPasswordWrong
	}

	newHash, err := util.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.userRepo.UpdateFields(ctx, userID, map[string]interface{}{
		"password_hash": newHash,
	})
}

// UpdateAIPreferences 合并用户的 AI 偏好
// 只覆盖 patch 中提供的字段，未知供应商返回 ErrUnknownProvider
func (s *UserService) UpdateAIPreferences(ctx context.Context, userID int64, patch *model.AIPreferencesPatch) (*model.AIPreferences, error) {
	if patch.DefaultProvider != nil && model.DefaultModelFor(*patch.DefaultProvider) == "" {
		return nil, ErrUnknownProvider
	}
	for name := range patch.Providers {
		if model.DefaultModelFor(name) == "" {
			return nil, ErrUnknownProvider
		}
	}

	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing := user.Preferences()
	merged := model.MergeAIPreferences(&existing, patch)

	if err := s.userRepo.UpdateAIPreferences(ctx, userID, merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// GetRelation 用户与角色的记忆关系，不存在时返回 nil
func (s *UserService) GetRelation(ctx context.Context, userID, characterID int64) (*model.UserCharacterRelation, error) {
	return s.relations.Get(ctx, userID, characterID)
}

// ListFavorites 用户收藏的角色
func (s *UserService) ListFavorites(ctx context.Context, userID int64, limit int) ([]model.UserCharacterRelation, error) {
	return s.relations.ListFavorites(ctx, userID, limit)
}

// SetFavorite 收藏或取消收藏角色，角色必须对用户可见
func (s *UserService) SetFavorite(ctx context.Context, userID, characterID int64, favorite bool) (*model.UserCharacterRelation, error) {
	character, err := s.characters.GetByID(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if character == nil {
		return nil, ErrCharacterNotFound
	}
	if !character.VisibleTo(userID) {
		return nil, ErrCharacterAccessDenied
	}
	return s.relations.SetFavorite(ctx, userID, characterID, favorite)
}
