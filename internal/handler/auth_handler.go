// Package handler 提供 HTTP 请求处理器
// 解析请求、调用服务层，并把结果写成统一的响应格式
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"persona-chat/internal/service"
	"persona-chat/pkg/response"
	"persona-chat/pkg/util"
)

// AuthHandler 认证请求处理器
// 处理用户注册、登录、刷新和登出
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Register 用户注册
// @Summary 用户注册
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body service.RegisterRequest true "注册信息"
// @Success 201 {object} response.Response{data=service.RegisterResponse}
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	// ShouldBindJSON 会自动验证 binding 标签中的规则
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "register")
		return
	}

	response.Created(c, result)
}

// Login 用户登录
// @Summary 用户登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body service.LoginRequest true "登录信息"
// @Success 200 {object} response.Response{data=service.LoginResponse}
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		// 用户不存在和密码错误返回同样的响应
		if errors.Is(err, service.ErrUserNotFound) {
			err = service.ErrPasswordWrong
		}
		writeError(c, err, "login")
		return
	}

	response.SuccessWithMessage(c, "login succeeded", result)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout 用户登出
// 将当前 Token 加入黑名单，直到它自然过期
// @Summary 用户登出
// @Tags 认证
// @Security Bearer
// @Param body body logoutRequest false "可选的 Refresh Token"
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	// 从上下文获取 Token 信息（由认证中间件设置）
	token, exists := c.Get("token")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}
	expireAt, exists := c.Get("token_exp")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}
	exp, ok := expireAt.(*jwt.NumericDate)
	if !ok || exp == nil {
		response.BadRequest(c, "token has no expiry")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), util.HashToken(token.(string)), exp.Time); err != nil {
		writeError(c, err, "logout")
		return
	}

	// 请求体可以带上 Refresh Token 一起作废
	var req logoutRequest
	if c.Request.ContentLength != 0 && c.ShouldBindJSON(&req) == nil && req.RefreshToken != "" {
		if err := h.authService.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
			writeError(c, err, "logout")
			return
		}
	}

	response.SuccessWithMessage(c, "logged out", nil)
}

// RefreshToken 刷新 Token
// @Summary 刷新 Token
// @Tags 认证
// @Accept json
// @Param body body service.RefreshTokenRequest true "Refresh Token"
// @Success 200 {object} response.Response{data=service.RefreshTokenResponse}
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req service.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrUserDisabled) {
			writeError(c, err, "refresh token")
			return
		}
		response.Unauthorized(c, "refresh token is invalid or expired")
		return
	}

	response.Success(c, result)
}

// RegisterRoutes 注册认证路由
func (h *AuthHandler) RegisterRoutes(v1 *gin.RouterGroup, auth gin.HandlerFunc) {
	group := v1.Group("/auth")
	{
		group.POST("/register", h.Register)
		group.POST("/login", h.Login)
		group.POST("/refresh", h.RefreshToken)
		group.POST("/logout", auth, h.Logout)
	}
}
