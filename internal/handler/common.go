// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/middleware"
	"persona-chat/internal/service"
	"persona-chat/pkg/response"
)

// callerFrom 从上下文构造调用方身份
// 登录用户忽略 guestId；访客的 guestId 来自 query，body 中的值由服务层兜底
func callerFrom(c *gin.Context) service.Caller {
	if userID := middleware.GetUserID(c); userID != 0 {
		return service.Caller{UserID: userID}
	}
	return service.Caller{GuestID: c.Query("guestId")}
}

// parseIDParam 解析路径中的正整数 ID
func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt 读取 query 中的整数，缺失或非法时返回默认值
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// writeError 把服务层错误映射为 HTTP 响应
// 未识别的错误记录日志后返回 500
func writeError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, service.ErrMessageRequired),
		errors.Is(err, service.ErrIdentityRequired),
		errors.Is(err, service.ErrUnknownProvider),
		errors.Is(err, service.ErrProviderRequired),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrCharacterNameRequired),
		errors.Is(err, service.ErrSystemPromptRequired),
		errors.Is(err, service.ErrEmailExists):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrUserExists):
		response.UserExists(c)
	case errors.Is(err, service.ErrPasswordWrong):
		response.PasswordWrong(c)
	case errors.Is(err, service.ErrChatAccessDenied),
		errors.Is(err, service.ErrCharacterAccessDenied),
		errors.Is(err, service.ErrNotCharacterOwner),
		errors.Is(err, service.ErrUserDisabled):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrSharedChatNotFound):
		response.ChatNotFound(c)
	case errors.Is(err, service.ErrCharacterNotFound):
		response.CharacterNotFound(c)
	case errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrChatBusy):
		response.Conflict(c, response.CodeChatBusy, err.Error())
	default:
		slog.Error(action+" failed", "path", c.FullPath(), "error", err)
		response.InternalError(c, action+" failed")
	}
}
