package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TokenValidator resolves an operator token into username and role
type TokenValidator interface {
	ValidateToken(token string) (username, role string, err error)
}

// AdminAuthMiddleware operator authentication middleware
type AdminAuthMiddleware struct {
	logger    *logrus.Logger
	validator TokenValidator
}

// NewAdminAuthMiddleware creates the operator authentication middleware
func NewAdminAuthMiddleware(logger *logrus.Logger, validator TokenValidator) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		logger:    logger,
		validator: validator,
	}
}

func (a *AdminAuthMiddleware) reject(c *gin.Context, status int, msg, code string, fields logrus.Fields) {
	entry := a.logger.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Warn("Admin auth failed - " + code)

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// RequireAdminAuth requires a valid operator Bearer token.
// Websocket upgrades may pass the token as ?token= instead.
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string
		authHeader := c.GetHeader("Authorization")
		switch {
		case authHeader != "":
			if !strings.HasPrefix(authHeader, "Bearer ") {
				a.reject(c, http.StatusUnauthorized, "Invalid authorization format, need Bearer token", "INVALID_AUTH_FORMAT", nil)
				return
			}
			tokenString = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		case c.Query("token") != "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket"):
			tokenString = c.Query("token")
		default:
			a.reject(c, http.StatusUnauthorized, "Authentication required", "MISSING_AUTH_HEADER", nil)
			return
		}

		if tokenString == "" {
			a.reject(c, http.StatusUnauthorized, "Empty token", "EMPTY_TOKEN", nil)
			return
		}

		username, role, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			a.reject(c, http.StatusUnauthorized, "Invalid or expired token", "INVALID_TOKEN", logrus.Fields{"error": err.Error()})
			return
		}

		if role != "admin" {
			a.reject(c, http.StatusForbidden, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS", logrus.Fields{"role": role})
			return
		}

		c.Set("admin_username", username)
		c.Set("admin_role", role)

		c.Next()
	}
}
