package middleware

import (
	"net/http"
	"strings"

	"sitechat-go/internal/service"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 验证请求头中的 JWT，并将用户信息注入上下文。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "缺少 Authorization 请求头",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "Authorization 请求头格式错误",
			})
			c.Abort()
			return
		}
		tokenString := parts[1]

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "无效或过期的 token",
			})
			c.Abort()
			return
		}

		// 已登出的 token 被列入黑名单
		if userService.IsTokenBlacklisted(tokenString) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "token 已失效，请重新登录",
			})
			c.Abort()
			return
		}

		user, err := userService.GetByID(claims.UserID)
		if err != nil {
			log.Warnf("AuthMiddleware: Failed to load user %d, error: %v", claims.UserID, err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "用户不存在",
			})
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("claims", claims)
		c.Set("accessToken", tokenString)
		c.Next()
	}
}
