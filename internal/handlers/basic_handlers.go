package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
)

// BasicHandler liveness and build info
type BasicHandler struct {
	db       *gorm.DB
	version  string
	demoMode bool
	chain    string
}

// NewBasicHandler creates a BasicHandler
func NewBasicHandler(db *gorm.DB, version string, demoMode bool, chain string) *BasicHandler {
	return &BasicHandler{db: db, version: version, demoMode: demoMode, chain: chain}
}

// Health GET /health
func (h *BasicHandler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "degraded", Database: "unreachable"})
		return
	}
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok", Database: "ok"})
}

// Version GET /version
func (h *BasicHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, dto.VersionResponse{
		Version:  h.version,
		DemoMode: h.demoMode,
		Chain:    h.chain,
	})
}
