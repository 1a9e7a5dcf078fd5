// Package middleware 提供 HTTP 请求的中间件
// 包括 JWT 认证、CORS 跨域、日志记录等
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"persona-chat/pkg/jwt"
	"persona-chat/pkg/response"
	"persona-chat/pkg/util"
)

// TokenChecker 检查 Token 是否在黑名单中，由 cache.RedisCache 实现
type TokenChecker interface {
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// AuthMiddleware 创建 JWT 认证中间件
// 验证请求头中的 Bearer Token，并将用户信息存入上下文
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证 Token
//   - blacklist: Token 黑名单
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AuthMiddleware(jwtService *jwt.JWTService, blacklist TokenChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 从请求头获取 Authorization 字段
		// 格式: "Bearer <token>"
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}

		// 2. 解析 Bearer Token
		tokenString, ok := bearerToken(authHeader)
		if !ok {
			response.Unauthorized(c, "malformed authorization header")
			c.Abort()
			return
		}

		// 3. 验证签名和过期时间
		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		// 4. 用户登出后 Token 会被加入黑名单
		if blacklist.IsTokenBlacklisted(c.Request.Context(), util.HashToken(tokenString)) {
			response.Unauthorized(c, "token has been revoked")
			c.Abort()
			return
		}

		// 5. 将用户信息存入上下文
		setClaims(c, tokenString, claims)
		c.Next()
	}
}

// OptionalAuthMiddleware 创建可选的 JWT 认证中间件
// 与 AuthMiddleware 类似，但不强制要求认证
// 如果提供了有效 Token，会将用户信息存入上下文
// 如果没有提供或 Token 无效，按游客继续处理请求
func OptionalAuthMiddleware(jwtService *jwt.JWTService, blacklist TokenChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			c.Next()
			return
		}
		if blacklist.IsTokenBlacklisted(c.Request.Context(), util.HashToken(tokenString)) {
			c.Next()
			return
		}

		setClaims(c, tokenString, claims)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setClaims(c *gin.Context, tokenString string, claims *jwt.UserClaims) {
	c.Set("user_id", claims.UserID)
	c.Set("username", claims.Username)
	c.Set("token", tokenString)          // 原始 Token，登出时计算哈希
	c.Set("token_exp", claims.ExpiresAt) // 过期时间，登出时设置黑名单 TTL
}

// GetUserID 从上下文获取用户 ID
// 未认证返回 0
func GetUserID(c *gin.Context) int64 {
	userID, exists := c.Get("user_id")
	if !exists {
		return 0
	}
	return userID.(int64)
}

