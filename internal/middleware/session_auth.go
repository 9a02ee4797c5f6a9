package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/auth"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
)

// Gin context keys set by RequireSession
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
)

// SessionAuth bearer session token check for end-user routes
type SessionAuth struct {
	issuer *auth.SessionIssuer
	logger *logrus.Logger
}

// NewSessionAuth creates the session middleware
func NewSessionAuth(issuer *auth.SessionIssuer, logger *logrus.Logger) *SessionAuth {
	return &SessionAuth{issuer: issuer, logger: logger}
}

// RequireSession rejects requests without a valid "Authorization: Bearer <token>"
func (a *SessionAuth) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Session auth failed - missing bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewError(dto.ReasonUnauthorized, "missing bearer token"))
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := a.issuer.Parse(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Session auth failed - invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewError(dto.ReasonUnauthorized, "invalid or expired session"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)
		c.Next()
	}
}

// UserID returns the authenticated user id set by RequireSession
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
