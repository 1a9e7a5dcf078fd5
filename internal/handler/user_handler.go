// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/model"
	"persona-chat/internal/service"
	"persona-chat/pkg/response"
)

// UserHandler 用户请求处理器
// 所有接口都需要登录
type UserHandler struct {
	userService      *service.UserService
	analyticsService *service.AnalyticsService
}

// NewUserHandler 创建 UserHandler 实例
func NewUserHandler(userService *service.UserService, analyticsService *service.AnalyticsService) *UserHandler {
	return &UserHandler{
		userService:      userService,
		analyticsService: analyticsService,
	}
}

// GetProfile 获取用户资料
// @Summary 获取当前用户资料
// @Tags 用户
// @Security Bearer
// @Success 200 {object} response.Response{data=model.User}
// @Router /api/v1/users/me [get]
func (h *UserHandler) GetProfile(c *gin.Context) {
	// 从上下文获取用户 ID（由认证中间件设置）
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	user, err := h.userService.GetProfile(c.Request.Context(), userID.(int64))
	if err != nil {
		writeError(c, err, "get profile")
		return
	}

	response.Success(c, user)
}

// UpdateProfile 更新用户资料
// @Summary 更新用户资料
// @Tags 用户
// @Security Bearer
// @Param body body service.UpdateProfileRequest true "要更新的字段"
// @Router /api/v1/users/me [put]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), userID.(int64), &req)
	if err != nil {
		writeError(c, err, "update profile")
		return
	}

	response.Success(c, user)
}

// ChangePassword 修改密码
// @Summary 修改密码
// @Tags 用户
// @Security Bearer
// @Param body body service.ChangePasswordRequest true "密码信息"
// @Router /api/v1/users/me/password [put]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	err := h.userService.ChangePassword(c.Request.Context(), userID.(int64), &req)
	if err != nil {
		if errors.Is(err, service.ErrPasswordWrong) {
			response.ErrorWithCode(c, 400, response.CodePasswordWrong, "old password is wrong")
			return
		}
		writeError(c, err, "change password")
		return
	}

	response.SuccessWithMessage(c, "password changed", nil)
}

// UpdateAISettings 合并 AI 偏好
// @Summary 更新 AI 偏好
// @Tags 用户
// @Security Bearer
// @Param body body model.AIPreferencesPatch true "要更新的偏好"
// @Success 200 {object} response.Response{data=model.AIPreferences}
// @Router /api/v1/users/me/ai-settings [put]
func (h *UserHandler) UpdateAISettings(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	var patch model.AIPreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	prefs, err := h.userService.UpdateAIPreferences(c.Request.Context(), userID.(int64), &patch)
	if err != nil {
		writeError(c, err, "update ai settings")
		return
	}

	response.Success(c, prefs)
}

// GetStats 用户的交互统计
// @Summary 交互统计
// @Tags 用户
// @Security Bearer
// @Success 200 {object} response.Response{data=service.UserStats}
// @Router /api/v1/users/me/stats [get]
func (h *UserHandler) GetStats(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	stats, err := h.analyticsService.UserStats(c.Request.Context(), userID.(int64))
	if err != nil {
		writeError(c, err, "get stats")
		return
	}

	response.Success(c, stats)
}

// ListFavorites 收藏的角色
// @Summary 收藏列表
// @Tags 用户
// @Security Bearer
// @Param limit query int false "数量上限"
// @Router /api/v1/users/me/favorites [get]
func (h *UserHandler) ListFavorites(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	favorites, err := h.userService.ListFavorites(c.Request.Context(), userID.(int64), queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, err, "list favorites")
		return
	}

	response.Success(c, gin.H{
		"favorites": favorites,
	})
}

// setFavoriteRequest 收藏请求
type setFavoriteRequest struct {
	Favorite *bool `json:"favorite" binding:"required"`
}

// SetFavorite 收藏或取消收藏角色
// @Summary 切换收藏
// @Tags 用户
// @Security Bearer
// @Param characterId path int true "角色ID"
// @Router /api/v1/users/me/favorites/{characterId} [put]
func (h *UserHandler) SetFavorite(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}
	characterID, ok := parseIDParam(c, "characterId")
	if !ok {
		return
	}

	var req setFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	rel, err := h.userService.SetFavorite(c.Request.Context(), userID.(int64), characterID, *req.Favorite)
	if err != nil {
		writeError(c, err, "set favorite")
		return
	}

	response.Success(c, rel)
}

// GetRelation 用户与角色的记忆关系
// @Summary 记忆关系
// @Tags 用户
// @Security Bearer
// @Param characterId path int true "角色ID"
// @Success 200 {object} response.Response{data=model.UserCharacterRelation}
// @Router /api/v1/users/me/relations/{characterId} [get]
func (h *UserHandler) GetRelation(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}
	characterID, ok := parseIDParam(c, "characterId")
	if !ok {
		return
	}

	rel, err := h.userService.GetRelation(c.Request.Context(), userID.(int64), characterID)
	if err != nil {
		writeError(c, err, "get relation")
		return
	}
	if rel == nil {
		response.NotFound(c, "no memory for this character yet")
		return
	}

	response.Success(c, rel)
}

// RegisterRoutes 注册用户路由
func (h *UserHandler) RegisterRoutes(v1 *gin.RouterGroup, auth gin.HandlerFunc) {
	users := v1.Group("/users/me")
	users.Use(auth)
	{
		users.GET("", h.GetProfile)
		users.PUT("", h.UpdateProfile)
		users.PUT("/password", h.ChangePassword)
		users.PUT("/ai-settings", h.UpdateAISettings)
		users.GET("/stats", h.GetStats)
		users.GET("/favorites", h.ListFavorites)
		users.PUT("/favorites/:characterId", h.SetFavorite)
		users.GET("/relations/:characterId", h.GetRelation)
	}
}
