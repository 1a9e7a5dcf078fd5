// Package cache 提供 Redis 缓存操作的封装
// 处理 JWT 黑名单、对话轮次锁、热门角色缓存和跨实例事件广播
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"persona-chat/internal/config"
)

// userEventsPattern 所有用户事件频道
const userEventsPattern = "user:*:events"

// releaseLockScript 只有持有者才能释放锁
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例并测试连接
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// ==================== 对话轮次锁 ====================
// 同一个对话同一时间只允许一轮生成，多实例部署时同样有效

func chatLockKey(chatID int64) string {
	return fmt.Sprintf("chat:%d:turn_lock", chatID)
}

// AcquireChatLock 获取对话锁
// 返回:
//   - string: 锁令牌，释放时需要传回
//   - bool: 是否获取成功，false 表示已有一轮在进行
//   - error: Redis 操作错误
func (c *RedisCache) AcquireChatLock(ctx context.Context, chatID int64, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, chatLockKey(chatID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseChatLock 释放对话锁
// 锁已过期并被他人持有时不做任何操作
func (c *RedisCache) ReleaseChatLock(ctx context.Context, chatID int64, token string) error {
	return releaseLockScript.Run(ctx, c.client, []string{chatLockKey(chatID)}, token).Err()
}

// ==================== JWT 黑名单 ====================
// 用于实现 Token 强制失效（登出）功能

// BlacklistToken 将 Token 加入黑名单
// TTL 为 Token 的剩余有效期，已过期的 Token 不需要记录
func (c *RedisCache) BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error {
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, fmt.Sprintf("jwt:blacklist:%s", tokenHash), "1", ttl).Err()
}

// IsTokenBlacklisted 检查 Token 是否在黑名单中
func (c *RedisCache) IsTokenBlacklisted(ctx context.Context, tokenHash string) bool {
	return c.client.Exists(ctx, fmt.Sprintf("jwt:blacklist:%s", tokenHash)).Val() > 0
}

// ==================== JSON 缓存 ====================

// GetJSON 读取 JSON 缓存到 dest
// 返回:
//   - bool: 是否命中
//   - error: Redis 或反序列化错误
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 写入 JSON 缓存
func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// ==================== Pub/Sub ====================
// 用户事件先发布到 Redis，每个实例订阅后推送给本机的 WebSocket 连接

// PublishUserEvent 发布用户事件
// event 会被 JSON 序列化
func (c *RedisCache) PublishUserEvent(ctx context.Context, userID int64, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, fmt.Sprintf("user:%d:events", userID), data).Err()
}

// SubscribeUserEvents 订阅所有用户的事件，调用方负责关闭
func (c *RedisCache) SubscribeUserEvents(ctx context.Context) *redis.PubSub {
	return c.client.PSubscribe(ctx, userEventsPattern)
}

// ParseUserEventChannel 从频道名解析用户 ID
// "user:42:events" -> 42
func ParseUserEventChannel(channel string) (int64, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "user" || parts[2] != "events" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ==================== 通用方法 ====================

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
