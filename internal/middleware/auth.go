package middleware

import (
	"net/http"
	"strings"

	"socialchat/internal/config"
	"socialchat/internal/models"
	"socialchat/internal/utils"
	"socialchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuth
const (
	ContextUserID   = "user_id"
	ContextUserName = "user_name"
	ContextToken    = "token"
)

// JWTAuth validates the bearer token from the Authorization header. The
// socket handshake may carry it in the token query parameter instead,
// since browsers cannot set headers on websocket upgrades.
func JWTAuth(cfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			utils.UnauthorizedResponse(c, "Missing authorization token")
			c.Abort()
			return
		}

		claims, err := utils.ValidateUserJWT(cfg, tokenString)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"path":  c.FullPath(),
				"error": err.Error(),
			}).Debug("Rejected token")
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserName, claims.Name)
		c.Set(ContextToken, tokenString)

		c.Next()
	}
}

// CurrentUser returns the authenticated user reference
func CurrentUser(c *gin.Context) models.UserRef {
	return models.UserRef{ID: c.GetString(ContextUserID), Name: c.GetString(ContextUserName)}
}

func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			return "", false
		}
		return tokenString, true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
