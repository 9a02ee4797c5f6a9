package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
)

// IPAllowlist restricts operational endpoints to loopback plus the configured IPs and CIDR ranges
type IPAllowlist struct {
	logger   *logrus.Logger
	ips      []net.IP
	networks []*net.IPNet
}

// NewIPAllowlist parses the entries; invalid ones are logged and skipped
func NewIPAllowlist(logger *logrus.Logger, allowed []string) *IPAllowlist {
	l := &IPAllowlist{logger: logger}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.WithError(err).WithField("entry", entry).Warn("Invalid CIDR in allowlist")
				continue
			}
			l.networks = append(l.networks, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			logger.WithField("entry", entry).Warn("Invalid IP in allowlist")
			continue
		}
		l.ips = append(l.ips, ip)
	}
	return l
}

// Restrict aborts with 403 for clients outside the allowlist
func (l *IPAllowlist) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !l.Allowed(clientIP) {
			l.logger.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"path":      c.Request.URL.Path,
			}).Warn("Reject non-allowlisted access")
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewError(dto.ReasonForbidden, "not accessible from this address"))
			return
		}
		c.Next()
	}
}

// Allowed reports whether ip may pass
func (l *IPAllowlist) Allowed(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() {
		return true
	}
	for _, allowed := range l.ips {
		if allowed.Equal(parsed) {
			return true
		}
	}
	for _, ipNet := range l.networks {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}
