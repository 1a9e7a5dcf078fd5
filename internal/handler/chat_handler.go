// Package handler 提供 HTTP 请求处理器
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/service"
	"persona-chat/pkg/response"
)

// ChatHandler 对话请求处理器
// 登录用户和访客都可以使用，访客通过 guestId 识别
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// StartChat 开始新对话
// @Summary 开始对话
// @Tags 对话
// @Accept json
// @Produce json
// @Param body body service.StartChatRequest true "角色和第一条消息"
// @Success 201 {object} response.Response{data=service.TurnResponse}
// @Router /api/v1/chat [post]
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req service.StartChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.chatService.StartConversation(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		writeError(c, err, "start chat")
		return
	}

	response.Created(c, result)
}

// ContinueChat 在已有对话中发送消息
// @Summary 继续对话
// @Tags 对话
// @Accept json
// @Produce json
// @Param id path int true "对话ID"
// @Param body body service.ContinueChatRequest true "消息"
// @Success 200 {object} response.Response{data=service.TurnResponse}
// @Failure 409 {object} response.Response "上一条回复还在生成"
// @Router /api/v1/chat/{id} [post]
func (h *ChatHandler) ContinueChat(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req service.ContinueChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.chatService.ContinueConversation(c.Request.Context(), callerFrom(c), chatID, &req)
	if err != nil {
		writeError(c, err, "continue chat")
		return
	}

	response.Success(c, result)
}

// ListChats 获取自己的对话列表
// @Summary 对话列表
// @Tags 对话
// @Produce json
// @Param guestId query string false "访客ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Router /api/v1/chat [get]
func (h *ChatHandler) ListChats(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	chats, total, err := h.chatService.ListConversations(c.Request.Context(), callerFrom(c), page, pageSize)
	if err != nil {
		writeError(c, err, "list chats")
		return
	}

	response.Success(c, gin.H{
		"chats": chats,
		"total": total,
	})
}

// GetChat 获取对话详情及全部消息
// @Summary 对话详情
// @Tags 对话
// @Produce json
// @Param id path int true "对话ID"
// @Router /api/v1/chat/{id} [get]
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	chat, err := h.chatService.GetConversation(c.Request.Context(), callerFrom(c), chatID)
	if err != nil {
		writeError(c, err, "get chat")
		return
	}

	response.Success(c, chat)
}

// DeleteChat 删除对话
// @Summary 删除对话
// @Tags 对话
// @Param id path int true "对话ID"
// @Router /api/v1/chat/{id} [delete]
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.chatService.DeleteConversation(c.Request.Context(), callerFrom(c), chatID); err != nil {
		writeError(c, err, "delete chat")
		return
	}

	response.SuccessWithMessage(c, "chat deleted", nil)
}

// UpdateProvider 修改对话使用的供应商、模型和生成参数
// @Summary 修改供应商
// @Tags 对话
// @Accept json
// @Produce json
// @Param id path int true "对话ID"
// @Param body body service.UpdateProviderRequest true "供应商设置"
// @Router /api/v1/chat/{id}/provider [put]
func (h *ChatHandler) UpdateProvider(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req service.UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	chat, err := h.chatService.UpdateProviderSettings(c.Request.Context(), callerFrom(c), chatID, &req)
	if err != nil {
		writeError(c, err, "update chat provider")
		return
	}

	response.Success(c, gin.H{
		"chatId":     chat.ID,
		"aiProvider": chat.AIProvider,
		"aiModel":    chat.AIModel,
		"aiSettings": chat.Settings(),
	})
}

// ShareChat 分享对话，需要登录
// @Summary 分享对话
// @Tags 对话
// @Security Bearer
// @Param id path int true "对话ID"
// @Success 200 {object} response.Response{data=service.ShareResponse}
// @Router /api/v1/chat/{id}/share [post]
func (h *ChatHandler) ShareChat(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.chatService.ShareConversation(c.Request.Context(), callerFrom(c), chatID)
	if err != nil {
		writeError(c, err, "share chat")
		return
	}

	response.Success(c, result)
}

// GetSharedChat 通过分享令牌查看对话，无需登录
// @Summary 查看分享的对话
// @Tags 对话
// @Param token path string true "分享令牌"
// @Success 200 {object} response.Response{data=service.SharedChatResponse}
// @Router /api/v1/chat/shared/{token} [get]
func (h *ChatHandler) GetSharedChat(c *gin.Context) {
	result, err := h.chatService.GetSharedConversation(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err, "get shared chat")
		return
	}

	response.Success(c, result)
}

// SetFeedback 对消息评分
// @Summary 消息反馈
// @Tags 对话
// @Accept json
// @Param id path int true "对话ID"
// @Param seq path int true "消息序号"
// @Param body body service.FeedbackRequest true "评分"
// @Router /api/v1/chat/{id}/messages/{seq}/feedback [put]
func (h *ChatHandler) SetFeedback(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 0 {
		response.BadRequest(c, "invalid seq")
		return
	}

	var req service.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	if err := h.chatService.SetMessageFeedback(c.Request.Context(), callerFrom(c), chatID, seq, &req); err != nil {
		writeError(c, err, "save feedback")
		return
	}

	response.SuccessWithMessage(c, "feedback saved", nil)
}

// RegisterRoutes 注册对话路由
// optionalAuth 用于访客可访问的接口，auth 用于必须登录的接口
func (h *ChatHandler) RegisterRoutes(v1 *gin.RouterGroup, optionalAuth, auth gin.HandlerFunc) {
	v1.GET("/chat/shared/:token", h.GetSharedChat)

	chat := v1.Group("/chat")
	chat.Use(optionalAuth)
	{
		chat.POST("", h.StartChat)
		chat.GET("", h.ListChats)
		chat.GET("/:id", h.GetChat)
		chat.POST("/:id", h.ContinueChat)
		chat.DELETE("/:id", h.DeleteChat)
		chat.PUT("/:id/provider", h.UpdateProvider)
		chat.PUT("/:id/messages/:seq/feedback", h.SetFeedback)
		chat.POST("/:id/share", auth, h.ShareChat)
	}
}
