// Package service 提供业务逻辑层的实现
// 服务层封装具体的业务逻辑，协调 Repository 和 Cache
package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"persona-chat/internal/model"
	"persona-chat/pkg/jwt"
	"persona-chat/pkg/util"
)

// 定义业务错误
var (
	ErrUserExists    = errors.New("username already exists")
	ErrEmailExists   = errors.New("email already registered")
	ErrUserNotFound  = errors.New("user not found")
	ErrPasswordWrong = errors.New("wrong password")
	ErrUserDisabled  = errors.New("user is disabled")
	ErrTokenRevoked  = errors.New("token has been revoked")
)

// TokenBlacklist Token 黑名单，由 cache.RedisCache 实现
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// AuthService 认证服务
// 处理用户注册、登录、刷新和登出
type AuthService struct {
	userRepo   UserStore       // 用户数据访问层
	blacklist  TokenBlacklist  // Token 黑名单
	jwtService *jwt.JWTService // JWT 服务
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(userRepo UserStore, blacklist TokenBlacklist, jwtService *jwt.JWTService) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		blacklist:  blacklist,
		jwtService: jwtService,
	}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"` // 用户名
	Password string `json:"password" binding:"required,min=6"`        // 密码
	Email    string `json:"email" binding:"omitempty,email"`          // 邮箱（可选）
}

// RegisterResponse 注册响应
type RegisterResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Register 用户注册，新用户使用默认 AI 偏好
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	exists, err := s.userRepo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	if req.Email != "" {
		exists, err = s.userRepo.ExistsByEmail(ctx, req.Email)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrEmailExists
		}
	}

	passwordHash, err := util.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:      req.Username,
		PasswordHash:  passwordHash,
		Status:        model.UserStatusActive,
		AIPreferences: datatypes.NewJSONType(model.DefaultAIPreferences()),
	}
	if req.Email != "" {
		user.Email = &req.Email
	}

	// 并发注册时由唯一索引兜底
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	return &RegisterResponse{
		UserID:   user.ID,
		Username: user.Username,
	}, nil
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"` // 用户名
	Password string `json:"password" binding:"required"` // 密码
}

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`  // 访问令牌
	RefreshToken string      `json:"refresh_token"` // 刷新令牌
	ExpiresIn    int64       `json:"expires_in"`    // 过期时间（秒）
	User         *model.User `json:"user"`          // 用户信息
}

// Login 用户登录
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	user, err := s.userRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !util.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrPasswordWrong
	}
	// 密码正确后才暴露账号被禁用
	if user.Status != model.UserStatusActive {
		return nil, ErrUserDisabled
	}

	return s.issueTokens(user)
}

// issueTokens 为用户签发一对新 Token
func (s *AuthService) issueTokens(user *model.User) (*LoginResponse, error) {
	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtService.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.accessExpiresIn(),
		User:         user,
	}, nil
}

func (s *AuthService) accessExpiresIn() int64 {
	return int64(s.jwtService.GetAccessExpire() / time.Second)
}

// Logout 用户登出
// 将 Token 加入黑名单，TTL 设为 Token 的剩余有效期
func (s *AuthService) Logout(ctx context.Context, tokenHash string, expireAt time.Time) error {
	return s.blacklist.BlacklistToken(ctx, tokenHash, expireAt)
}

// RefreshTokenRequest 刷新 Token 请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshTokenResponse 刷新 Token 响应
type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"` // 新的访问令牌
	ExpiresIn   int64  `json:"expires_in"`   // 过期时间（秒）
}

// RefreshToken 用 Refresh Token 换新的 Access Token
// 已登出的 Refresh Token 同样会被拒绝
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*RefreshTokenResponse, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if s.blacklist.IsTokenBlacklisted(ctx, util.HashToken(refreshToken)) {
		return nil, ErrTokenRevoked
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	switch {
	case err != nil:
		return nil, err
	case user == nil:
		return nil, ErrUserNotFound
	case user.Status != model.UserStatusActive:
		return nil, ErrUserDisabled
	}

	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &RefreshTokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   s.accessExpiresIn(),
	}, nil
}

// RevokeRefreshToken 登出时一并作废 Refresh Token
// Token 无效时忽略
func (s *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.blacklist.BlacklistToken(ctx, util.HashToken(refreshToken), claims.ExpiresAt.Time)
}
