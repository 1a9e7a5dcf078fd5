// Package config 管理 CLI 客户端配置
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// DefaultServerURL 默认服务器地址
const DefaultServerURL = "http://localhost:8080"

// Config CLI 配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	URL string `mapstructure:"url"` // HTTP API 地址
}

// AuthConfig 身份信息
type AuthConfig struct {
	AccessToken  string `mapstructure:"access_token"`  // 访问 Token（REST 和 WS 共用）
	RefreshToken string `mapstructure:"refresh_token"` // 刷新 Token
	Username     string `mapstructure:"username"`
	GuestID      string `mapstructure:"guest_id"` // 未登录时使用的访客标识
}

var (
	cfg        *Config
	configPath string
)

// Init 初始化配置
// dir 为空时使用 ~/.persona-chat
func Init(dir string) error {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("获取用户目录失败: %w", err)
		}
		dir = filepath.Join(home, ".persona-chat")
	}
	configPath = filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	viper.Reset()
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.url", DefaultServerURL)
	viper.SetDefault("auth.access_token", "")
	viper.SetDefault("auth.refresh_token", "")
	viper.SetDefault("auth.username", "")
	viper.SetDefault("auth.guest_id", "")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("读取配置失败: %w", err)
		}
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}

	// 访客 ID 首次使用时生成并持久化
	if cfg.Auth.GuestID == "" {
		cfg.Auth.GuestID = uuid.New().String()
		viper.Set("auth.guest_id", cfg.Auth.GuestID)
		return write()
	}
	return nil
}

// Path 配置文件路径
func Path() string {
	return configPath
}

// GetServerURL 获取服务器地址
func GetServerURL() string {
	if cfg == nil || cfg.Server.URL == "" {
		return DefaultServerURL
	}
	return cfg.Server.URL
}

// SetServerURL 设置服务器地址，只在本次运行生效
func SetServerURL(url string) {
	url = strings.TrimRight(url, "/")
	viper.Set("server.url", url)
	if cfg != nil {
		cfg.Server.URL = url
	}
}

// SaveServerURL 设置并保存服务器地址
func SaveServerURL(url string) error {
	SetServerURL(url)
	return write()
}

// SaveAuth 保存登录信息
func SaveAuth(username, accessToken, refreshToken string) error {
	viper.Set("auth.username", username)
	viper.Set("auth.access_token", accessToken)
	viper.Set("auth.refresh_token", refreshToken)
	if cfg != nil {
		cfg.Auth.Username = username
		cfg.Auth.AccessToken = accessToken
		cfg.Auth.RefreshToken = refreshToken
	}
	return write()
}

// SaveAccessToken 刷新后只更新访问 Token
func SaveAccessToken(accessToken string) error {
	viper.Set("auth.access_token", accessToken)
	if cfg != nil {
		cfg.Auth.AccessToken = accessToken
	}
	return write()
}

// ClearAuth 清除本地凭证，访客 ID 保留
func ClearAuth() error {
	viper.Set("auth.username", "")
	viper.Set("auth.access_token", "")
	viper.Set("auth.refresh_token", "")
	if cfg != nil {
		cfg.Auth.Username = ""
		cfg.Auth.AccessToken = ""
		cfg.Auth.RefreshToken = ""
	}
	return write()
}

// GetAccessToken 获取访问 Token
func GetAccessToken() string {
	if cfg == nil {
		return ""
	}
	return cfg.Auth.AccessToken
}

// GetRefreshToken 获取刷新 Token
func GetRefreshToken() string {
	if cfg == nil {
		return ""
	}
	return cfg.Auth.RefreshToken
}

// GetUsername 已登录的用户名
func GetUsername() string {
	if cfg == nil {
		return ""
	}
	return cfg.Auth.Username
}

// GetGuestID 访客标识
func GetGuestID() string {
	if cfg == nil {
		return ""
	}
	return cfg.Auth.GuestID
}

// IsLoggedIn 检查是否已登录
func IsLoggedIn() bool {
	return cfg != nil && cfg.Auth.AccessToken != ""
}

func write() error {
	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("保存配置失败: %w", err)
	}
	return os.Chmod(configPath, 0600)
}
