// Package memory 维护角色对用户的长期记忆
// 每个 (用户, 角色) 一条关系记录，定期根据最近对话更新画像和话题
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"

	"persona-chat/internal/config"
	"persona-chat/internal/model"
	"persona-chat/internal/provider"
	"persona-chat/internal/repository"
	"persona-chat/pkg/util"
)

const (
	profileWindow = 20 // 画像使用的最近消息数
	topicWindow   = 10 // 话题使用的最近消息数
)

// RelationStore 关系记录的存储
type RelationStore interface {
	Get(ctx context.Context, userID, characterID int64) (*model.UserCharacterRelation, error)
	Create(ctx context.Context, rel *model.UserCharacterRelation) error
	IncrementInteraction(ctx context.Context, id int64, at time.Time) (int, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	ListFavorites(ctx context.Context, userID int64, limit int) ([]model.UserCharacterRelation, error)
}

// Generator 记忆提取使用的模型
type Generator interface {
	Generate(ctx context.Context, messages []provider.Message, opts provider.Options) (string, error)
}

// Notifier 记忆变化通知
type Notifier interface {
	NotifyMemoryUpdated(userID int64, rel *model.UserCharacterRelation)
}

// Job 一次记忆更新
type Job struct {
	UserID      int64
	CharacterID int64
	History     []provider.Message
}

// Updater 用户记忆更新器
type Updater struct {
	store    RelationStore
	llm      Generator
	notifier Notifier
	cfg      config.MemoryConfig
	now      func() time.Time
}

// NewUpdater 创建记忆更新器
// 配置项为 0 时使用默认值：历史 > 20 条、每 5 次、画像 200 词、话题文本至少 50 字符
func NewUpdater(store RelationStore, llm Generator, cfg config.MemoryConfig) *Updater {
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 20
	}
	if cfg.Every <= 0 {
		cfg.Every = 5
	}
	if cfg.ProfileWords <= 0 {
		cfg.ProfileWords = 200
	}
	if cfg.MinTopicText <= 0 {
		cfg.MinTopicText = 50
	}
	return &Updater{store: store, llm: llm, cfg: cfg, now: time.Now}
}

// SetNotifier 设置通知器
func (u *Updater) SetNotifier(n Notifier) {
	u.notifier = n
}

// Update 执行一次记忆更新
// 交互次数总会累加；只有历史足够长且次数是 Every 的倍数时才调用模型
// 模型失败只记录日志并保留原值，返回的 error 只来自存储层
func (u *Updater) Update(ctx context.Context, job Job) error {
	rel, err := u.getOrCreate(ctx, job.UserID, job.CharacterID)
	if err != nil {
		return fmt.Errorf("load relation: %w", err)
	}

	count, err := u.store.IncrementInteraction(ctx, rel.ID, u.now())
	if err != nil {
		return fmt.Errorf("increment interaction: %w", err)
	}
	rel.InteractionCount = count

	if !u.shouldExtract(len(job.History), count) {
		return nil
	}

	fields := map[string]interface{}{}

	profile, err := u.updateProfile(ctx, rel.Profile, job.History)
	if err != nil {
		slog.Warn("update user profile failed", "user_id", job.UserID, "character_id", job.CharacterID, "error", err)
	} else if profile != "" {
		rel.Profile = profile
		fields["profile"] = profile
	}

	topics, err := u.extractTopics(ctx, job.History)
	if err != nil {
		slog.Warn("extract topics failed", "user_id", job.UserID, "character_id", job.CharacterID, "error", err)
	} else if len(topics) > 0 {
		merged := MergeTopics(rel.Topics, topics)
		if len(merged) != len(rel.Topics) {
			rel.Topics = merged
			fields["topics"] = datatypes.JSONSlice[string](merged)
		}
	}

	if len(fields) == 0 {
		return nil
	}
	if err := u.store.UpdateFields(ctx, rel.ID, fields); err != nil {
		return fmt.Errorf("save relation: %w", err)
	}

	if u.notifier != nil {
		u.notifier.NotifyMemoryUpdated(job.UserID, rel)
	}
	return nil
}

func (u *Updater) shouldExtract(historyLen, count int) bool {
	return historyLen > u.cfg.MinHistory && count%u.cfg.Every == 0
}

// getOrCreate 并发创建撞上唯一索引时重新读取
func (u *Updater) getOrCreate(ctx context.Context, userID, characterID int64) (*model.UserCharacterRelation, error) {
	rel, err := u.store.Get(ctx, userID, characterID)
	if err != nil || rel != nil {
		return rel, err
	}

	rel = &model.UserCharacterRelation{UserID: userID, CharacterID: characterID}
	err = u.store.Create(ctx, rel)
	if errors.Is(err, repository.ErrRelationExists) {
		existing, getErr := u.store.Get(ctx, userID, characterID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// updateProfile 基于旧画像和最近 20 条对话生成新画像
func (u *Updater) updateProfile(ctx context.Context, current string, history []provider.Message) (string, error) {
	msgs := recentDialogue(history, profileWindow)
	if len(msgs) == 0 {
		return "", nil
	}

	prompt := "Analyze the conversation and create a concise summary of what you know about the user. "
	if current != "" {
		prompt += fmt.Sprintf("Here is what you already know about the user: %q. ", current)
	}
	prompt += fmt.Sprintf("Focus on personal details, preferences, interests, and any important information shared. Keep it under %d words.", u.cfg.ProfileWords)
	msgs = append(msgs, provider.Message{Role: model.MessageRoleUser, Content: prompt})

	text, err := u.llm.Generate(ctx, msgs, provider.Options{
		Temperature: util.Float64Ptr(0.3),
		TopK:        40,
		TopP:        util.Float64Ptr(0.95),
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// extractTopics 从最近 10 条对话中提取话题，文本过短时跳过
func (u *Updater) extractTopics(ctx context.Context, history []provider.Message) ([]string, error) {
	recent := recentDialogue(history, topicWindow)
	contents := make([]string, 0, len(recent))
	for _, m := range recent {
		contents = append(contents, m.Content)
	}
	combined := strings.Join(contents, "\n")
	if len(combined) < u.cfg.MinTopicText {
		return nil, nil
	}

	prompt := "Extract 3-5 main topics from this conversation. Return only a comma-separated list of single words or short phrases without numbering or explanation:\n\n" + combined
	text, err := u.llm.Generate(ctx, []provider.Message{{Role: model.MessageRoleUser, Content: prompt}}, provider.Options{
		Temperature: util.Float64Ptr(0.2),
		MaxTokens:   100,
	})
	if err != nil {
		return nil, err
	}
	return ParseTopics(text), nil
}

// recentDialogue 取最后 n 条 user/assistant 消息
func recentDialogue(history []provider.Message, n int) []provider.Message {
	out := make([]provider.Message, 0, n)
	for _, m := range history {
		if m.Role == model.MessageRoleUser || m.Role == model.MessageRoleAssistant {
			out = append(out, m)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// ParseTopics 解析逗号分隔的话题列表
func ParseTopics(text string) []string {
	var topics []string
	for _, t := range strings.Split(text, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// MergeTopics 有序并集，保留已有顺序，忽略大小写重复
func MergeTopics(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, t := range list {
			key := strings.ToLower(t)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, t)
		}
	}
	return merged
}

// Get 读取关系，不存在时返回 nil
func (u *Updater) Get(ctx context.Context, userID, characterID int64) (*model.UserCharacterRelation, error) {
	return u.store.Get(ctx, userID, characterID)
}

// ListFavorites 用户收藏的角色，按交互次数倒序
func (u *Updater) ListFavorites(ctx context.Context, userID int64, limit int) ([]model.UserCharacterRelation, error) {
	if limit <= 0 {
		limit = 20
	}
	return u.store.ListFavorites(ctx, userID, limit)
}

// SetFavorite 设置收藏状态，关系不存在时创建
func (u *Updater) SetFavorite(ctx context.Context, userID, characterID int64, favorite bool) (*model.UserCharacterRelation, error) {
	rel, err := u.getOrCreate(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	if err := u.store.UpdateFields(ctx, rel.ID, map[string]interface{}{"favorite": favorite}); err != nil {
		return nil, err
	}
	rel.Favorite = favorite
	return rel, nil
}
