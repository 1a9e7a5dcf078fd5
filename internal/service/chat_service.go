// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"

	"persona-chat/internal/memory"
	"persona-chat/internal/model"
	"persona-chat/internal/provider"
	"persona-chat/pkg/util"
)

// 对话服务相关错误
var (
	ErrMessageRequired       = errors.New("message is required")
	ErrIdentityRequired      = errors.New("login or guest id is required")
	ErrUnknownProvider       = errors.New("unknown ai provider")
	ErrProviderRequired      = errors.New("ai provider is required")
	ErrInvalidRating         = errors.New("rating must be between 1 and 5")
	ErrChatAccessDenied      = errors.New("no access to this chat")
	ErrCharacterAccessDenied = errors.New("no access to this character")
	ErrChatNotFound          = errors.New("chat not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrSharedChatNotFound    = errors.New("shared chat not found")
	ErrChatBusy              = errors.New("another reply is being generated for this chat")
)

// ApologyReply 供应商失败时保存的回复
const ApologyReply = "Sorry, I can't respond right now. Please try again later."

// ChatServiceConfig 对话服务配置
type ChatServiceConfig struct {
	DefaultProvider string        // 用户没有偏好时使用的供应商
	TurnLockTTL     time.Duration // 单轮对话锁的过期时间
}

// ChatService 对话服务
// 负责一轮对话的完整流程：权限检查、组装历史、压缩、调用模型、持久化和后台副作用
type ChatService struct {
	chats      ChatStore
	characters CharacterStore
	users      UserStore
	providers  ProviderSource
	compressor HistoryCompressor
	cfg        ChatServiceConfig

	locker   TurnLocker
	memory   MemoryScheduler
	recorder InteractionRecorder
	tasks    TaskSubmitter
	notifier ChatNotifier

	now func() time.Time
}

// NewChatService 创建 ChatService 实例
func NewChatService(
	chats ChatStore,
	characters CharacterStore,
	users UserStore,
	providers ProviderSource,
	compressor HistoryCompressor,
	cfg ChatServiceConfig,
) *ChatService {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = model.ProviderGemini
	}
	if cfg.TurnLockTTL <= 0 {
		cfg.TurnLockTTL = 150 * time.Second
	}
	return &ChatService{
		chats:      chats,
		characters: characters,
		users:      users,
		providers:  providers,
		compressor: compressor,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetTurnLocker 设置对话锁
func (s *ChatService) SetTurnLocker(l TurnLocker) {
	s.locker = l
}

// SetMemoryScheduler 设置记忆更新调度器
func (s *ChatService) SetMemoryScheduler(m MemoryScheduler) {
	s.memory = m
}

// SetInteractionRecorder 设置交互记录器，记录通过 tasks 在后台写入
func (s *ChatService) SetInteractionRecorder(r InteractionRecorder, tasks TaskSubmitter) {
	s.recorder = r
	s.tasks = tasks
}

// SetNotifier 设置通知器
func (s *ChatService) SetNotifier(n ChatNotifier) {
	s.notifier = n
}

// StartChatRequest 开始对话请求
type StartChatRequest struct {
	CharacterID int64  `json:"characterId" binding:"required"`
	Message     string `json:"message"`
	GuestID     string `json:"guestId"`
	AIProvider  string `json:"aiProvider"`
	AIModel     string `json:"aiModel"`
}

// ContinueChatRequest 继续对话请求
type ContinueChatRequest struct {
	Message    string `json:"message"`
	GuestID    string `json:"guestId"`
	AIProvider string `json:"aiProvider"`
	AIModel    string `json:"aiModel"`
}

// UpdateProviderRequest 修改对话的供应商和生成参数
type UpdateProviderRequest struct {
	AIProvider string                         `json:"aiProvider"`
	AIModel    string                         `json:"aiModel"`
	AISettings *model.GenerationSettingsPatch `json:"aiSettings"`
	GuestID    string                         `json:"guestId"`
}

// FeedbackRequest 消息反馈请求
type FeedbackRequest struct {
	Rating  int     `json:"rating"`
	Comment *string `json:"comment"`
	GuestID string  `json:"guestId"`
}

// TurnResponse 一轮对话的结果
type TurnResponse struct {
	ChatID  int64          `json:"chatId"`
	Message *model.Message `json:"message"`
	Reply   *model.Message `json:"reply"`
}

// ShareResponse 分享结果
type ShareResponse struct {
	ChatID     int64  `json:"chatId"`
	ShareToken string `json:"shareToken"`
	ShareURL   string `json:"shareUrl"`
}

// SharedCharacter 分享页展示的角色信息
type SharedCharacter struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SharedChatResponse 分享的对话
type SharedChatResponse struct {
	ChatID    int64           `json:"chatId"`
	Title     string          `json:"title"`
	Character SharedCharacter `json:"character"`
	Messages  []model.Message `json:"messages"`
	CreatedAt time.Time       `json:"createdAt"`
}

// turnSettings 一轮对话使用的供应商、模型和生成参数
type turnSettings struct {
	provider string
	model    string
	settings model.GenerationSettings
}

// StartConversation 创建对话并完成第一轮
// 流程:
//  1. 校验消息、身份和供应商
//  2. 角色必须存在且对调用方可见
//  3. 依次按请求、用户偏好、服务配置选择供应商和模型
//  4. 生成回复后在一个事务中保存对话和三条消息
func (s *ChatService) StartConversation(ctx context.Context, caller Caller, req *StartChatRequest) (*TurnResponse, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrMessageRequired
	}
	if !caller.Authenticated() && caller.GuestID == "" {
		caller.GuestID = req.GuestID
	}
	if caller.Anonymous() {
		return nil, ErrIdentityRequired
	}
	if req.AIProvider != "" && !s.providers.Has(req.AIProvider) {
		return nil, ErrUnknownProvider
	}

	character, err := s.characters.GetByID(ctx, req.CharacterID)
	if err != nil {
		return nil, err
	}
	if character == nil {
		return nil, ErrCharacterNotFound
	}
	if !character.VisibleTo(caller.UserID) {
		return nil, ErrCharacterAccessDenied
	}

	ts, err := s.resolveSettings(ctx, caller, req.AIProvider, req.AIModel)
	if err != nil {
		return nil, err
	}

	history := []provider.Message{
		{Role: model.MessageRoleSystem, Content: character.SystemPrompt},
		{Role: model.MessageRoleUser, Content: text},
	}
	reply, summary := s.runTurn(ctx, ts, history)

	now := s.now()
	chat := &model.Chat{
		CharacterID:   character.ID,
		Title:         "Chat with " + character.Name,
		AIProvider:    ts.provider,
		AIModel:       ts.model,
		AISettings:    datatypes.NewJSONType(ts.settings),
		Summary:       summary,
		LastMessageAt: &now,
	}
	if caller.Authenticated() {
		uid := caller.UserID
		chat.UserID = &uid
	} else {
		gid := caller.GuestID
		chat.GuestID = &gid
	}

	messages := []model.Message{
		{Role: model.MessageRoleSystem, Content: character.SystemPrompt},
		{Role: model.MessageRoleUser, Content: text},
		{Role: model.MessageRoleAssistant, Content: reply},
	}
	if err := s.chats.Create(ctx, chat, messages); err != nil {
		return nil, fmt.Errorf("save chat: %w", err)
	}

	if err := s.characters.IncrementPopularity(ctx, character.ID, 1, 2); err != nil {
		slog.Warn("increment character popularity failed", "character_id", character.ID, "error", err)
	}

	userMsg, replyMsg := &messages[1], &messages[2]
	recordDetached(s.tasks, s.recorder, newInteraction(caller, character.ID, model.ActionChatStart, map[string]interface{}{
		"chatId":     chat.ID,
		"aiProvider": ts.provider,
	}))
	s.notify(chat, userMsg, replyMsg)

	return &TurnResponse{ChatID: chat.ID, Message: userMsg, Reply: replyMsg}, nil
}

// ContinueConversation 在已有对话上追加一轮
// 同一对话同时只允许一轮，锁被占用时返回 ErrChatBusy
func (s *ChatService) ContinueConversation(ctx context.Context, caller Caller, chatID int64, req *ContinueChatRequest) (*TurnResponse, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrMessageRequired
	}
	if !caller.Authenticated() && caller.GuestID == "" {
		caller.GuestID = req.GuestID
	}
	if req.AIProvider != "" && !s.providers.Has(req.AIProvider) {
		return nil, ErrUnknownProvider
	}

	chat, err := s.ownedChat(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}

	release, err := s.lockTurn(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	fields := map[string]interface{}{}
	if req.AIProvider != "" && req.AIProvider != chat.AIProvider {
		chat.AIProvider = req.AIProvider
		chat.AIModel = model.DefaultModelFor(req.AIProvider)
		fields["ai_provider"] = chat.AIProvider
		fields["ai_model"] = chat.AIModel
	}
	if req.AIModel != "" && req.AIModel != chat.AIModel {
		chat.AIModel = req.AIModel
		fields["ai_model"] = chat.AIModel
	}

	stored, err := s.chats.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	history := make([]provider.Message, 0, len(stored)+2)
	for _, m := range stored {
		history = append(history, provider.Message{Role: m.Role, Content: m.Content})
	}
	history = append(history, provider.Message{Role: model.MessageRoleUser, Content: text})

	ts := turnSettings{provider: chat.AIProvider, model: chat.AIModel, settings: chat.Settings()}
	reply, summary := s.runTurn(ctx, ts, history)
	if summary != "" {
		fields["summary"] = summary
	}

	messages := []model.Message{
		{Role: model.MessageRoleUser, Content: text},
		{Role: model.MessageRoleAssistant, Content: reply},
	}
	if err := s.chats.AppendTurn(ctx, chat.ID, messages, fields); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}

	if err := s.characters.IncrementPopularity(ctx, chat.CharacterID, 0, 2); err != nil {
		slog.Warn("increment character popularity failed", "character_id", chat.CharacterID, "error", err)
	}

	userMsg, replyMsg := &messages[0], &messages[1]
	recordDetached(s.tasks, s.recorder, newInteraction(caller, chat.CharacterID, model.ActionMessageSent, map[string]interface{}{
		"chatId": chat.ID,
	}))
	if s.memory != nil && chat.UserID != nil {
		full := append(history, provider.Message{Role: model.MessageRoleAssistant, Content: reply})
		s.memory.Schedule(memory.Job{UserID: *chat.UserID, CharacterID: chat.CharacterID, History: full})
	}
	s.notify(chat, userMsg, replyMsg)

	return &TurnResponse{ChatID: chat.ID, Message: userMsg, Reply: replyMsg}, nil
}

// runTurn 压缩历史并调用供应商
// 供应商不可用或调用失败时返回道歉回复，不向上返回错误
// 返回:
//   - string: 回复文本
//   - string: 本轮产生的新摘要，没有压缩时为空
func (s *ChatService) runTurn(ctx context.Context, ts turnSettings, history []provider.Message) (string, string) {
	send := history
	summary := ""
	if s.compressor != nil {
		result := s.compressor.Compress(ctx, history)
		send = result.Messages
		summary = result.Summary
	}

	p, err := s.providers.Get(ts.provider)
	if err != nil {
		slog.Warn("provider unavailable, replying with apology", "provider", ts.provider, "error", err)
		return ApologyReply, summary
	}

	reply, err := p.Generate(ctx, send, provider.OptionsFromSettings(ts.model, ts.settings))
	if err != nil {
		slog.Warn("generate reply failed, replying with apology", "provider", ts.provider, "model", ts.model, "error", err)
		return ApologyReply, summary
	}
	return reply, summary
}

// resolveSettings 选择供应商、模型和生成参数
// 供应商: 请求 > 用户启用的默认供应商 > 服务配置
// 模型: 请求 > 用户对该供应商设置的模型 > 供应商默认模型
func (s *ChatService) resolveSettings(ctx context.Context, caller Caller, reqProvider, reqModel string) (turnSettings, error) {
	prefs := model.DefaultAIPreferences()
	hasUserPrefs := false
	if caller.Authenticated() && s.users != nil {
		user, err := s.users.GetByID(ctx, caller.UserID)
		if err != nil {
			return turnSettings{}, err
		}
		if user != nil {
			prefs = user.Preferences()
			hasUserPrefs = true
		}
	}

	name := reqProvider
	if name == "" && hasUserPrefs {
		if preferred, _, ok := prefs.Preferred(); ok && s.providers.Has(preferred) {
			name = preferred
		}
	}
	if name == "" {
		name = s.cfg.DefaultProvider
	}

	ts := turnSettings{provider: name, model: reqModel, settings: model.DefaultGenerationSettings()}
	pref, hasPref := prefs.Providers[name]
	if ts.model == "" && hasUserPrefs && hasPref && pref.Model != "" {
		ts.model = pref.Model
	}
	if ts.model == "" {
		ts.model = model.DefaultModelFor(name)
	}
	if hasUserPrefs && hasPref && pref.Temperature > 0 {
		ts.settings.Temperature = pref.Temperature
	}
	return ts, nil
}

// lockTurn 获取对话锁，返回释放函数
// Redis 故障时记录日志并不加锁继续
func (s *ChatService) lockTurn(ctx context.Context, chatID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	token, ok, err := s.locker.AcquireChatLock(ctx, chatID, s.cfg.TurnLockTTL)
	if err != nil {
		slog.Warn("acquire chat lock failed, continuing without lock", "chat_id", chatID, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrChatBusy
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.locker.ReleaseChatLock(releaseCtx, chatID, token); err != nil {
			slog.Warn("release chat lock failed", "chat_id", chatID, "error", err)
		}
	}, nil
}

// ownedChat 读取对话并检查归属
func (s *ChatService) ownedChat(ctx context.Context, caller Caller, chatID int64) (*model.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if !chat.IsOwnedBy(caller.UserID, caller.GuestID) {
		return nil, ErrChatAccessDenied
	}
	return chat, nil
}

// notify 登录用户的对话推送新消息
func (s *ChatService) notify(chat *model.Chat, message, reply *model.Message) {
	if s.notifier == nil || s.tasks == nil || chat.UserID == nil {
		return
	}
	userID, chatID := *chat.UserID, chat.ID
	s.tasks.Submit(fmt.Sprintf("notify:chat:%d", chatID), func(ctx context.Context) error {
		s.notifier.NotifyChatMessage(userID, chatID, message, reply)
		return nil
	})
}

// ShareConversation 分享对话，只有登录的拥有者可以分享
// 已分享的对话返回原令牌
func (s *ChatService) ShareConversation(ctx context.Context, caller Caller, chatID int64) (*ShareResponse, error) {
	if !caller.Authenticated() {
		return nil, ErrChatAccessDenied
	}
	chat, err := s.ownedChat(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}

	if chat.IsShared && chat.ShareToken != nil {
		return newShareResponse(chat.ID, *chat.ShareToken), nil
	}

	token := util.GenerateShareToken(s.now())
	if err := s.chats.UpdateFields(ctx, chat.ID, map[string]interface{}{
		"is_shared":   true,
		"share_token": token,
	}); err != nil {
		return nil, err
	}

	recordDetached(s.tasks, s.recorder, newInteraction(caller, chat.CharacterID, model.ActionShare, map[string]interface{}{
		"chatId": chat.ID,
	}))
	return newShareResponse(chat.ID, token), nil
}

func newShareResponse(chatID int64, token string) *ShareResponse {
	return &ShareResponse{ChatID: chatID, ShareToken: token, ShareURL: "/shared/" + token}
}

// GetSharedConversation 根据令牌获取分享的对话
func (s *ChatService) GetSharedConversation(ctx context.Context, token string) (*SharedChatResponse, error) {
	chat, err := s.chats.GetByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if chat == nil || !chat.IsShared {
		return nil, ErrSharedChatNotFound
	}

	resp := &SharedChatResponse{
		ChatID:    chat.ID,
		Title:     chat.Title,
		Messages:  chat.Messages,
		CreatedAt: chat.CreatedAt,
	}
	if chat.Character != nil {
		resp.Character = SharedCharacter{
			ID:          chat.Character.ID,
			Name:        chat.Character.Name,
			Description: chat.Character.Description,
		}
	}
	return resp, nil
}

// UpdateProviderSettings 修改对话的供应商、模型和生成参数
// 生成参数只覆盖请求中提供的字段
func (s *ChatService) UpdateProviderSettings(ctx context.Context, caller Caller, chatID int64, req *UpdateProviderRequest) (*model.Chat, error) {
	if req.AIProvider == "" {
		return nil, ErrProviderRequired
	}
	if !s.providers.Has(req.AIProvider) {
		return nil, ErrUnknownProvider
	}
	if !caller.Authenticated() && caller.GuestID == "" {
		caller.GuestID = req.GuestID
	}

	chat, err := s.ownedChat(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}

	modelName := req.AIModel
	if modelName == "" {
		modelName = model.DefaultModelFor(req.AIProvider)
	}
	existing := chat.Settings()
	settings := model.MergeGenerationSettings(&existing, req.AISettings)

	if err := s.chats.UpdateFields(ctx, chat.ID, map[string]interface{}{
		"ai_provider": req.AIProvider,
		"ai_model":    modelName,
		"ai_settings": datatypes.NewJSONType(settings),
	}); err != nil {
		return nil, err
	}

	chat.AIProvider = req.AIProvider
	chat.AIModel = modelName
	chat.AISettings = datatypes.NewJSONType(settings)
	return chat, nil
}

// ListConversations 分页获取调用方的对话
func (s *ChatService) ListConversations(ctx context.Context, caller Caller, page, pageSize int) ([]model.Chat, int64, error) {
	if caller.Anonymous() {
		return nil, 0, ErrIdentityRequired
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.chats.ListByOwner(ctx, caller.UserID, caller.GuestID, page, pageSize)
}

// GetConversation 获取对话及其消息
func (s *ChatService) GetConversation(ctx context.Context, caller Caller, chatID int64) (*model.Chat, error) {
	chat, err := s.chats.GetByIDWithMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if !chat.IsOwnedBy(caller.UserID, caller.GuestID) {
		return nil, ErrChatAccessDenied
	}
	return chat, nil
}

// DeleteConversation 删除对话
func (s *ChatService) DeleteConversation(ctx context.Context, caller Caller, chatID int64) error {
	chat, err := s.ownedChat(ctx, caller, chatID)
	if err != nil {
		return err
	}
	return s.chats.Delete(ctx, chat.ID)
}

// SetMessageFeedback 对某条消息评分
func (s *ChatService) SetMessageFeedback(ctx context.Context, caller Caller, chatID int64, seq int, req *FeedbackRequest) error {
	if req.Rating < 1 || req.Rating > 5 {
		return ErrInvalidRating
	}
	if !caller.Authenticated() && caller.GuestID == "" {
		caller.GuestID = req.GuestID
	}

	chat, err := s.ownedChat(ctx, caller, chatID)
	if err != nil {
		return err
	}

	found, err := s.chats.UpdateMessageFeedback(ctx, chat.ID, seq, req.Rating, req.Comment)
	if err != nil {
		return err
	}
	if !found {
		return ErrMessageNotFound
	}

	recordDetached(s.tasks, s.recorder, newInteraction(caller, chat.CharacterID, model.ActionFeedback, map[string]interface{}{
		"chatId": chat.ID,
		"seq":    seq,
		"rating": req.Rating,
	}))
	return nil
}
