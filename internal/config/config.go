// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是应用程序的根配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`    // 服务器配置
	Database  DatabaseConfig  `mapstructure:"database"`  // 数据库配置
	Redis     RedisConfig     `mapstructure:"redis"`     // Redis 配置
	JWT       JWTConfig       `mapstructure:"jwt"`       // JWT 配置
	Log       LogConfig       `mapstructure:"log"`       // 日志配置
	AI        AIConfig        `mapstructure:"ai"`        // 模型供应商配置
	Chat      ChatConfig      `mapstructure:"chat"`      // 对话配置
	Memory    MemoryConfig    `mapstructure:"memory"`    // 用户记忆配置
	Worker    WorkerConfig    `mapstructure:"worker"`    // 后台任务配置
	Analytics AnalyticsConfig `mapstructure:"analytics"` // 统计配置
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port int      `mapstructure:"port"` // 监听端口，默认 8080
	Mode string   `mapstructure:"mode"` // 运行模式: debug / release
	CORS []string `mapstructure:"cors"` // CORS 允许的域名
}

// DatabaseConfig 数据库连接配置
// Driver 支持 mysql、postgres 和 sqlite，sqlite 时 Database 为文件路径
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`         // mysql / postgres / sqlite
	Host         string `mapstructure:"host"`           // 数据库主机地址
	Port         int    `mapstructure:"port"`           // 数据库端口
	Username     string `mapstructure:"username"`       // 数据库用户名
	Password     string `mapstructure:"password"`       // 数据库密码
	Database     string `mapstructure:"database"`       // 数据库名称
	Charset      string `mapstructure:"charset"`        // 字符集（仅 mysql）
	SSLMode      string `mapstructure:"sslmode"`        // sslmode（仅 postgres）
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // 连接最大生命周期（秒）
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`      // Redis 主机地址
	Port     int    `mapstructure:"port"`      // Redis 端口
	Username string `mapstructure:"username"`  // Redis 用户名
	Password string `mapstructure:"password"`  // Redis 密码
	DB       int    `mapstructure:"db"`        // 数据库索引 (0-15)
	PoolSize int    `mapstructure:"pool_size"` // 连接池大小
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	Secret        string        `mapstructure:"secret"`         // JWT 签名密钥，至少32字符
	AccessExpire  time.Duration `mapstructure:"access_expire"`  // Access Token 过期时间
	RefreshExpire time.Duration `mapstructure:"refresh_expire"` // Refresh Token 过期时间
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug/info/warn/error
	Format string `mapstructure:"format"` // 日志格式: json/text
}

// AIConfig 模型供应商配置
// 每个供应商一份独立配置，启动时注入到 provider 包，运行期间不再读取环境变量
type AIConfig struct {
	DefaultProvider string         `mapstructure:"default_provider"` // 未指定时使用的供应商
	Timeout         time.Duration  `mapstructure:"timeout"`          // 单次调用超时
	Gemini          ProviderConfig `mapstructure:"gemini"`
	OpenAI          ProviderConfig `mapstructure:"openai"`
	Anthropic       ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig 单个供应商的连接信息
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`  // API Key，只从环境变量或配置文件读取
	BaseURL string `mapstructure:"base_url"` // 可选，覆盖默认 Endpoint
	Model   string `mapstructure:"model"`    // 可选，覆盖默认模型
}

// ChatConfig 对话相关配置
type ChatConfig struct {
	MaxMessages     int           `mapstructure:"max_messages"`     // 超过该数量时压缩上下文
	SummaryProvider string        `mapstructure:"summary_provider"` // 摘要固定使用的供应商
	SummaryModel    string        `mapstructure:"summary_model"`    // 摘要固定使用的模型
	TurnLockTTL     time.Duration `mapstructure:"turn_lock_ttl"`    // 单轮对话锁的过期时间
}

// MemoryConfig 用户记忆更新配置
type MemoryConfig struct {
	MinHistory   int `mapstructure:"min_history"`    // 历史消息数需大于该值
	Every        int `mapstructure:"every"`          // 每 N 次交互更新一次
	ProfileWords int `mapstructure:"profile_words"`  // 画像字数上限
	MinTopicText int `mapstructure:"min_topic_text"` // 话题提取的最短文本长度
}

// WorkerConfig 后台任务池配置
type WorkerConfig struct {
	Workers     int           `mapstructure:"workers"`      // 并发 worker 数
	QueueSize   int           `mapstructure:"queue_size"`   // 队列长度
	TaskTimeout time.Duration `mapstructure:"task_timeout"` // 单个任务超时
}

// AnalyticsConfig 交互统计配置
type AnalyticsConfig struct {
	Retention      time.Duration `mapstructure:"retention"`       // 交互记录保留时长
	PurgeInterval  time.Duration `mapstructure:"purge_interval"`  // 清理间隔
	PopularDays    int           `mapstructure:"popular_days"`    // 热门角色统计天数
	PopularLimit   int           `mapstructure:"popular_limit"`   // 热门角色数量
	PopularCaching time.Duration `mapstructure:"popular_caching"` // 热门角色缓存时间
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 配置对象
//   - error: 如果加载失败则返回错误
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 环境变量中的 _ 映射到配置的 .
	// 例如: DATABASE_HOST -> database.host
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables(v)
	setDefaults(v)

	// 配置文件不存在时继续使用默认值和环境变量
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	return &cfg, nil
}

// turnMargin 模型调用之外留给数据库写入和响应的时间
const turnMargin = 30 * time.Second

// TurnBudget 一轮对话的最长耗时
// 一轮最多包含一次摘要调用和一次生成调用，各受 ai.timeout 限制
func (c *Config) TurnBudget() time.Duration {
	return 2*c.AI.Timeout + turnMargin
}

// normalize 修正互相依赖的配置项
// 对话锁在一轮结束前过期会让并发请求交错写入，TTL 不得小于一轮的耗时
func (c *Config) normalize() {
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 60 * time.Second
	}
	if budget := c.TurnBudget(); c.Chat.TurnLockTTL < budget {
		c.Chat.TurnLockTTL = budget
	}
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.username", "DB_USERNAME")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.database", "DB_DATABASE")

	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.BindEnv("jwt.secret", "JWT_SECRET")

	// 供应商 Key
	v.BindEnv("ai.gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("ai.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("ai.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("ai.default_provider", "AI_DEFAULT_PROVIDER")
}

// setDefaults 设置配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_lifetime", 3600)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("jwt.access_expire", "24h")
	v.SetDefault("jwt.refresh_expire", "168h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ai.default_provider", "gemini")
	v.SetDefault("ai.timeout", "60s")

	v.SetDefault("chat.max_messages", 10)
	v.SetDefault("chat.summary_provider", "gemini")
	v.SetDefault("chat.summary_model", "gemini-2.0-flash")
	v.SetDefault("chat.turn_lock_ttl", "150s")

	v.SetDefault("memory.min_history", 20)
	v.SetDefault("memory.every", 5)
	v.SetDefault("memory.profile_words", 200)
	v.SetDefault("memory.min_topic_text", 50)

	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.task_timeout", "2m")

	v.SetDefault("analytics.retention", "2160h") // 90 天
	v.SetDefault("analytics.purge_interval", "6h")
	v.SetDefault("analytics.popular_days", 7)
	v.SetDefault("analytics.popular_limit", 10)
	v.SetDefault("analytics.popular_caching", "5m")
}
