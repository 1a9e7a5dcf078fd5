// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"gorm.io/datatypes"

	"persona-chat/internal/model"
)

// 角色服务相关错误
var (
	ErrCharacterNotFound     = errors.New("character not found")
	ErrCharacterNameRequired = errors.New("character name is required")
	ErrSystemPromptRequired  = errors.New("system prompt is required")
	ErrNotCharacterOwner     = errors.New("only the creator can modify this character")
)

// defaultCharacters 首次启动时预置的公开角色
var defaultCharacters = []model.Character{
	{
		Name:         "Simit Seller",
		Description:  "A cheerful street vendor selling simit on the streets of Istanbul.",
		SystemPrompt: "You are a simit seller in Istanbul. You speak in a warm, friendly street-vendor style and often call out \"Fresh, hot simit!\". You can talk about daily life in Istanbul, the craft of selling simit and your experiences with customers. Keep the conversation warm and lively.",
		IsPublic:     true,
		Tags:         datatypes.JSONSlice[string]{"istanbul", "daily life"},
	},
	{
		Name:         "Coffee Master",
		Description:  "A traditional Turkish coffee maker who also reads coffee fortunes.",
		SystemPrompt: "You are a master of traditional Turkish coffee. You know the art of brewing, the varieties of coffee and coffee fortune telling. You speak in a calm and wise manner. You may ask \"How would you like your coffee?\", read a coffee fortune or simply chat about coffee culture and traditions.",
		IsPublic:     true,
		Tags:         datatypes.JSONSlice[string]{"coffee", "culture"},
	},
	{
		Name:         "Lawyer",
		Description:  "An experienced lawyer who explains legal topics.",
		SystemPrompt: "You are an experienced lawyer. You give general information about legal topics but avoid specific legal advice. You speak in a professional, explanatory tone, explain legal terms in plain language and may ask \"How can I help you?\".",
		IsPublic:     true,
		Tags:         datatypes.JSONSlice[string]{"law", "advice"},
	},
	{
		Name:         "Historian",
		Description:  "A historian who talks about Turkish and world history.",
		SystemPrompt: "You are a history professor with deep knowledge of Turkish and world history. Your style is academic but easy to follow. You explain historical context, connect events and may ask \"Which period or event would you like to learn about?\".",
		IsPublic:     true,
		Tags:         datatypes.JSONSlice[string]{"history", "education"},
	},
}

// CharacterService 角色服务
// 处理角色的增删改查和可见性规则
type CharacterService struct {
	characters CharacterStore
	recorder   InteractionRecorder
	tasks      TaskSubmitter
}

// NewCharacterService 创建 CharacterService 实例
func NewCharacterService(characters CharacterStore) *CharacterService {
	return &CharacterService{characters: characters}
}

// SetInteractionRecorder 设置交互记录器
func (s *CharacterService) SetInteractionRecorder(r InteractionRecorder, tasks TaskSubmitter) {
	s.recorder = r
	s.tasks = tasks
}

// CreateCharacterRequest 创建角色请求
type CreateCharacterRequest struct {
	Name         string   `json:"name" binding:"required,max=100"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"systemPrompt" binding:"required"`
	IsPublic     bool     `json:"isPublic"`
	AvatarURL    string   `json:"avatarUrl"`
	Tags         []string `json:"tags"`
}

// UpdateCharacterRequest 更新角色请求，nil 字段不修改
type UpdateCharacterRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	SystemPrompt *string  `json:"systemPrompt"`
	IsPublic     *bool    `json:"isPublic"`
	AvatarURL    *string  `json:"avatarUrl"`
	Tags         []string `json:"tags"`
}

// CharacterListResponse 角色分页列表
type CharacterListResponse struct {
	Characters []model.Character `json:"characters"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
}

// Create 创建角色
func (s *CharacterService) Create(ctx context.Context, userID int64, req *CreateCharacterRequest) (*model.Character, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrCharacterNameRequired
	}
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return nil, ErrSystemPromptRequired
	}

	avatar := req.AvatarURL
	if avatar == "" {
		avatar = model.DefaultAvatarURL
	}
	owner := userID
	character := &model.Character{
		Name:         name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		IsPublic:     req.IsPublic,
		UserID:       &owner,
		AvatarURL:    avatar,
		Tags:         datatypes.JSONSlice[string](req.Tags),
	}
	if err := s.characters.Create(ctx, character); err != nil {
		return nil, err
	}
	return character, nil
}

// Get 获取对调用方可见的角色，并记录一次浏览
func (s *CharacterService) Get(ctx context.Context, caller Caller, id int64) (*model.Character, error) {
	character, err := s.characters.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if character == nil {
		return nil, ErrCharacterNotFound
	}
	if !character.VisibleTo(caller.UserID) {
		return nil, ErrCharacterAccessDenied
	}

	if !caller.Anonymous() {
		recordDetached(s.tasks, s.recorder, newInteraction(caller, character.ID, model.ActionView, nil))
	}
	return character, nil
}

// List 分页获取公开角色和调用方自己的角色
func (s *CharacterService) List(ctx context.Context, userID int64, page, pageSize int) (*CharacterListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	characters, total, err := s.characters.ListVisible(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &CharacterListResponse{
		Characters: characters,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListMine 获取用户创建的角色
func (s *CharacterService) ListMine(ctx context.Context, userID int64) ([]model.Character, error) {
	return s.characters.ListByOwner(ctx, userID)
}

// Update 更新角色，只有创建者可以修改
func (s *CharacterService) Update(ctx context.Context, userID, id int64, req *UpdateCharacterRequest) (*model.Character, error) {
	character, err := s.ownedCharacter(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, ErrCharacterNameRequired
		}
		fields["name"] = name
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.SystemPrompt != nil {
		if strings.TrimSpace(*req.SystemPrompt) == "" {
			return nil, ErrSystemPromptRequired
		}
		fields["system_prompt"] = *req.SystemPrompt
	}
	if req.IsPublic != nil {
		fields["is_public"] = *req.IsPublic
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = *req.AvatarURL
	}
	if req.Tags != nil {
		fields["tags"] = datatypes.JSONSlice[string](req.Tags)
	}

	if len(fields) == 0 {
		return character, nil
	}
	if err := s.characters.UpdateFields(ctx, id, fields); err != nil {
		return nil, err
	}
	return s.characters.GetByID(ctx, id)
}

// Delete 删除角色，只有创建者可以删除
func (s *CharacterService) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.ownedCharacter(ctx, userID, id); err != nil {
		return err
	}
	return s.characters.Delete(ctx, id)
}

func (s *CharacterService) ownedCharacter(ctx context.Context, userID, id int64) (*model.Character, error) {
	character, err := s.characters.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if character == nil {
		return nil, ErrCharacterNotFound
	}
	if !character.OwnedBy(userID) {
		return nil, ErrNotCharacterOwner
	}
	return character, nil
}

// SeedDefaults 角色表为空时写入预置角色
// 返回写入的数量，已有数据时为 0
func (s *CharacterService) SeedDefaults(ctx context.Context) (int, error) {
	count, err := s.characters.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		slog.Debug("characters already present, skipping seed", "count", count)
		return 0, nil
	}

	seeds := make([]model.Character, len(defaultCharacters))
	copy(seeds, defaultCharacters)
	for i := range seeds {
		seeds[i].AvatarURL = model.DefaultAvatarURL
	}
	if err := s.characters.CreateBatch(ctx, seeds); err != nil {
		return 0, err
	}
	slog.Info("seeded default characters", "count", len(seeds))
	return len(seeds), nil
}
