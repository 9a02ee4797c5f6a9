package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
)

const (
	HeaderAPIKey   = "X-API-Key"
	HeaderTOTPCode = "X-TOTP-Code"
)

// ManufacturerAuth guards /mfg routes with a shared API key and, for plaintext
// export, an optional TOTP second factor.
type ManufacturerAuth struct {
	apiKey     string
	totpSecret string
	logger     *logrus.Logger
}

// NewManufacturerAuth creates the manufacturer middleware. An empty totpSecret disables RequireTOTP.
func NewManufacturerAuth(apiKey, totpSecret string, logger *logrus.Logger) *ManufacturerAuth {
	return &ManufacturerAuth{apiKey: apiKey, totpSecret: totpSecret, logger: logger}
}

// RequireAPIKey checks X-API-Key. Also accepted as ?api_key= for websocket clients
// that cannot set headers.
func (m *ManufacturerAuth) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			key = c.Query("api_key")
		}
		if m.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) != 1 {
			m.logger.WithFields(logrus.Fields{
				"path":      c.Request.URL.Path,
				"method":    c.Request.Method,
				"client_ip": c.ClientIP(),
			}).Warn("Manufacturer auth failed - bad API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewError(dto.ReasonUnauthorized, "invalid API key"))
			return
		}
		c.Next()
	}
}

// RequireTOTP checks X-TOTP-Code against the configured secret
func (m *ManufacturerAuth) RequireTOTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.totpSecret == "" {
			c.Next()
			return
		}
		code := c.GetHeader(HeaderTOTPCode)
		if code == "" || !totp.Validate(code, m.totpSecret) {
			m.logger.WithFields(logrus.Fields{
				"path":      c.Request.URL.Path,
				"client_ip": c.ClientIP(),
			}).Warn("Manufacturer auth failed - bad TOTP code")
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewError(dto.ReasonForbidden, "invalid TOTP code"))
			return
		}
		c.Next()
	}
}
