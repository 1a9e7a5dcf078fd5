package service

import (
	"context"
	"log/slog"
	"time"

	"persona-chat/internal/config"
	"persona-chat/internal/model"
)

const popularCacheKey = "characters:popular"

// PopularCache 热门角色缓存，由 cache.RedisCache 实现
type PopularCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// PopularCharacter 热门角色及其得分
type PopularCharacter struct {
	Character model.Character `json:"character"`
	Score     int64           `json:"score"`
}

// UserStats 用户交互统计
type UserStats struct {
	Actions      map[string]int64 `json:"actions"`
	Total        int64            `json:"total"`
	TopCharacter *model.Character `json:"topCharacter,omitempty"`
}

// AnalyticsService 交互记录与统计
type AnalyticsService struct {
	interactions InteractionStore
	characters   CharacterStore
	cache        PopularCache
	cfg          config.AnalyticsConfig
	now          func() time.Time
}

// NewAnalyticsService 创建 AnalyticsService 实例
// cache 可以为 nil，此时热门角色每次都实时统计
func NewAnalyticsService(interactions InteractionStore, characters CharacterStore, cache PopularCache, cfg config.AnalyticsConfig) *AnalyticsService {
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = 6 * time.Hour
	}
	if cfg.PopularDays <= 0 {
		cfg.PopularDays = 7
	}
	if cfg.PopularLimit <= 0 {
		cfg.PopularLimit = 10
	}
	return &AnalyticsService{
		interactions: interactions,
		characters:   characters,
		cache:        cache,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Record 写入一条交互记录
func (s *AnalyticsService) Record(ctx context.Context, interaction *model.Interaction) error {
	return s.interactions.Create(ctx, interaction)
}

// PopularCharacters 最近 PopularDays 天对话最多的公开角色
func (s *AnalyticsService) PopularCharacters(ctx context.Context) ([]PopularCharacter, error) {
	if s.cache != nil {
		var cached []PopularCharacter
		hit, err := s.cache.GetJSON(ctx, popularCacheKey, &cached)
		if err != nil {
			slog.Warn("read popular characters cache failed", "error", err)
		} else if hit {
			return cached, nil
		}
	}

	since := s.now().AddDate(0, 0, -s.cfg.PopularDays)
	scores, err := s.interactions.PopularCharacters(ctx, since, s.cfg.PopularLimit)
	if err != nil {
		return nil, err
	}

	if len(scores) == 0 {
		return []PopularCharacter{}, nil
	}
	ids := make([]int64, len(scores))
	for i, sc := range scores {
		ids[i] = sc.CharacterID
	}
	characters, err := s.characters.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Character, len(characters))
	for _, c := range characters {
		byID[c.ID] = c
	}

	// 按得分顺序输出，私有或已删除的角色跳过
	result := make([]PopularCharacter, 0, len(scores))
	for _, sc := range scores {
		c, ok := byID[sc.CharacterID]
		if !ok || !c.IsPublic {
			continue
		}
		result = append(result, PopularCharacter{Character: c, Score: sc.Score})
	}

	if s.cache != nil && s.cfg.PopularCaching > 0 {
		if err := s.cache.SetJSON(ctx, popularCacheKey, result, s.cfg.PopularCaching); err != nil {
			slog.Warn("write popular characters cache failed", "error", err)
		}
	}
	return result, nil
}

// UserStats 用户各类行为次数和最常交互的角色
func (s *AnalyticsService) UserStats(ctx context.Context, userID int64) (*UserStats, error) {
	counts, err := s.interactions.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &UserStats{Actions: make(map[string]int64, len(counts))}
	for _, c := range counts {
		stats.Actions[c.Action] = c.Count
		stats.Total += c.Count
	}

	topID, err := s.interactions.TopCharacterForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if topID != 0 {
		top, err := s.characters.GetByID(ctx, topID)
		if err != nil {
			return nil, err
		}
		if top != nil && top.VisibleTo(userID) {
			stats.TopCharacter = top
		}
	}
	return stats, nil
}

// RunRetention 删除超过保留期的交互记录
func (s *AnalyticsService) RunRetention(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.cfg.Retention)
	deleted, err := s.interactions.DeleteBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Info("purged old interactions", "deleted", deleted, "before", before)
	}
	return deleted, nil
}

// StartRetentionLoop 定期清理，ctx 取消后退出
func (s *AnalyticsService) StartRetentionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	go func() {
		defer ticker.Stop()
		for {
			if _, err := s.RunRetention(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("purge interactions failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
