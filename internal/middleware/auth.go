package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminSecretHeader is the alternative to an Authorization bearer token.
const AdminSecretHeader = "X-Admin-Secret"

// RequireAdminSecret guards mutating routes with a shared secret, sent either
// as "Authorization: Bearer <secret>" or in the X-Admin-Secret header.
// An empty secret rejects every request.
func RequireAdminSecret(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Mutations are disabled: no admin secret configured"})
			c.Abort()
			return
		}

		given := c.GetHeader(AdminSecretHeader)
		if given == "" {
			authHeader := c.GetHeader("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				given = strings.TrimSpace(parts[1])
			}
		}

		if given == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin secret required"})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			logger.Warn("Rejected request with invalid admin secret",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin secret"})
			c.Abort()
			return
		}

		c.Next()
	}
}
