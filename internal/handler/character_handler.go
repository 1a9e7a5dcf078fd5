// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"persona-chat/internal/middleware"
	"persona-chat/internal/service"
	"persona-chat/pkg/response"
)

// CharacterHandler 角色请求处理器
type CharacterHandler struct {
	characterService *service.CharacterService
	analyticsService *service.AnalyticsService
}

// NewCharacterHandler 创建 CharacterHandler 实例
func NewCharacterHandler(characterService *service.CharacterService, analyticsService *service.AnalyticsService) *CharacterHandler {
	return &CharacterHandler{
		characterService: characterService,
		analyticsService: analyticsService,
	}
}

// ListCharacters 获取公开角色和自己的角色
// @Summary 角色列表
// @Tags 角色
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=service.CharacterListResponse}
// @Router /api/v1/characters [get]
func (h *CharacterHandler) ListCharacters(c *gin.Context) {
	result, err := h.characterService.List(c.Request.Context(),
		middleware.GetUserID(c),
		queryInt(c, "page", 1),
		queryInt(c, "page_size", 20),
	)
	if err != nil {
		writeError(c, err, "list characters")
		return
	}

	response.Success(c, result)
}

// ListMyCharacters 获取自己创建的角色
// @Summary 我的角色
// @Tags 角色
// @Security Bearer
// @Router /api/v1/characters/me [get]
func (h *CharacterHandler) ListMyCharacters(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	characters, err := h.characterService.ListMine(c.Request.Context(), userID.(int64))
	if err != nil {
		writeError(c, err, "list characters")
		return
	}

	response.Success(c, gin.H{
		"characters": characters,
	})
}

// ListPopular 最近一段时间最受欢迎的角色
// @Summary 热门角色
// @Tags 角色
// @Success 200 {object} response.Response{data=[]service.PopularCharacter}
// @Router /api/v1/characters/popular [get]
func (h *CharacterHandler) ListPopular(c *gin.Context) {
	popular, err := h.analyticsService.PopularCharacters(c.Request.Context())
	if err != nil {
		writeError(c, err, "list popular characters")
		return
	}

	response.Success(c, gin.H{
		"characters": popular,
	})
}

// GetCharacter 获取角色详情
// @Summary 角色详情
// @Tags 角色
// @Param id path int true "角色ID"
// @Success 200 {object} response.Response{data=model.Character}
// @Router /api/v1/characters/{id} [get]
func (h *CharacterHandler) GetCharacter(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	character, err := h.characterService.Get(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		writeError(c, err, "get character")
		return
	}

	response.Success(c, character)
}

// CreateCharacter 创建角色
// @Summary 创建角色
// @Tags 角色
// @Security Bearer
// @Accept json
// @Param body body service.CreateCharacterRequest true "角色定义"
// @Success 201 {object} response.Response{data=model.Character}
// @Router /api/v1/characters [post]
func (h *CharacterHandler) CreateCharacter(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req service.CreateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	character, err := h.characterService.Create(c.Request.Context(), userID.(int64), &req)
	if err != nil {
		writeError(c, err, "create character")
		return
	}

	response.Created(c, character)
}

// UpdateCharacter 更新角色，只有创建者可以修改
// @Summary 更新角色
// @Tags 角色
// @Security Bearer
// @Param id path int true "角色ID"
// @Param body body service.UpdateCharacterRequest true "要更新的字段"
// @Router /api/v1/characters/{id} [put]
func (h *CharacterHandler) UpdateCharacter(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req service.UpdateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	character, err := h.characterService.Update(c.Request.Context(), userID.(int64), id, &req)
	if err != nil {
		writeError(c, err, "update character")
		return
	}

	response.Success(c, character)
}

// DeleteCharacter 删除角色
// @Summary 删除角色
// @Tags 角色
// @Security Bearer
// @Param id path int true "角色ID"
// @Router /api/v1/characters/{id} [delete]
func (h *CharacterHandler) DeleteCharacter(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.characterService.Delete(c.Request.Context(), userID.(int64), id); err != nil {
		writeError(c, err, "delete character")
		return
	}

	response.SuccessWithMessage(c, "character deleted", nil)
}

// RegisterRoutes 注册角色路由
func (h *CharacterHandler) RegisterRoutes(v1 *gin.RouterGroup, optionalAuth, auth gin.HandlerFunc) {
	v1.GET("/characters/popular", h.ListPopular)

	characters := v1.Group("/characters")
	{
		characters.GET("", optionalAuth, h.ListCharacters)
		characters.GET("/me", auth, h.ListMyCharacters)
		characters.GET("/:id", optionalAuth, h.GetCharacter)
		characters.POST("", auth, h.CreateCharacter)
		characters.PUT("/:id", auth, h.UpdateCharacter)
		characters.DELETE("/:id", auth, h.DeleteCharacter)
	}
}
