package adminauth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by SessionAuth on a successful admin session token.
const (
	ContextKeyTokenID  = "admin_token_id"
	ContextKeyUserName = "admin_user_name"
)

// SessionAuth gates a route behind a valid, unrevoked session token
// issued by Manager.Issue.
func (m *Manager) SessionAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		claims, err := m.Validate(tokenString)
		if err != nil {
			message := "invalid token"
			switch err {
			case ErrExpiredToken:
				message = "token has expired"
			case ErrRevokedToken:
				message = "token has been revoked"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
			return
		}

		c.Set(ContextKeyTokenID, claims.ID)
		c.Set(ContextKeyUserName, claims.UserName)
		c.Next()
	}
}

// KeyAuth gates a route behind the static admin key, read from the
// X-Admin-Key header or the admin_key query parameter.
func KeyAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = c.Query("admin_key")
		}
		if key == "" || key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing admin key"})
			return
		}
		c.Next()
	}
}

// Either accepts either a valid session token or the static admin key,
// so the admin CRUD group works both for the browser session flow and
// for scripted callers holding only the key.
func Either(m *Manager, adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = c.Query("admin_key")
		}
		if key != "" && key == adminKey {
			c.Next()
			return
		}

		tokenString := extractToken(c)
		if tokenString != "" {
			if claims, err := m.Validate(tokenString); err == nil {
				c.Set(ContextKeyTokenID, claims.ID)
				c.Set(ContextKeyUserName, claims.UserName)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin authentication required"})
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return authHeader
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	return ""
}
