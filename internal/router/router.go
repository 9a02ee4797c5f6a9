package router

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/handlers"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/middleware"
)

// Rate limit scopes, also the metric label
const (
	ScopeAuthStart   = "auth_start"
	ScopeVerifyQuote = "verify_quote"
)

// Deps everything the routes are wired to
type Deps struct {
	Config *config.Config
	Logger *logrus.Logger

	Basic        *handlers.BasicHandler
	Auth         *handlers.AuthHandler
	Verify       *handlers.VerifyHandler
	Manufacturer *handlers.ManufacturerHandler

	Session          *middleware.SessionAuth
	ManufacturerAuth *middleware.ManufacturerAuth
	Limiter          *middleware.RateLimiter
	Allowlist        *middleware.IPAllowlist
}

// corsMiddleware answers preflights and echoes allowed origins.
// An empty list or "*" allows every origin, without credentials.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowAll := cfg.AllowsAll()
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[strings.TrimSpace(origin)] = struct{}{}
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, listed := allowed[origin]
			if listed || allowAll {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			// credentials only for origins named in the list
			if listed && !allowAll && cfg.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-API-Key, X-TOTP-Code")
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter builds the gin engine with every route
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(corsMiddleware(d.Config.CORS))

	// ============ Health & Metrics ============
	r.GET("/health", d.Basic.Health)
	r.GET("/version", d.Basic.Version)
	r.GET("/metrics", d.Allowlist.Restrict(), gin.WrapH(promhttp.Handler()))

	// ============ Auth ============
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/start", d.Limiter.Limit(ScopeAuthStart), d.Auth.StartOtp)
		authGroup.POST("/verify", d.Auth.VerifyOtp)
	}
	r.GET("/me", d.Session.RequireSession(), d.Auth.Me)

	// ============ Verification ============
	verifyGroup := r.Group("/verify")
	{
		verifyGroup.POST("/quote", d.Limiter.Limit(ScopeVerifyQuote), d.Verify.Quote)
		verifyGroup.POST("/confirm", d.Session.RequireSession(), d.Verify.Confirm)
	}

	// ============ Manufacturer ============
	mfg := r.Group("/mfg", d.ManufacturerAuth.RequireAPIKey())
	{
		mfg.POST("/batches", d.Manufacturer.CreateBatch)
		mfg.POST("/batches/:batch_public_id/activate", d.Manufacturer.ActivateBatch)
		mfg.GET("/packs/:pack_id", d.Manufacturer.GetPack)
		mfg.GET("/packs/:pack_id/download", d.ManufacturerAuth.RequireTOTP(), d.Manufacturer.DownloadPack)
		mfg.POST("/packs/:pack_id/confirm-printed", d.Manufacturer.ConfirmPrinted)
		mfg.GET("/feed", d.Manufacturer.Feed)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewError("NOT_FOUND", "endpoint not found"))
	})

	return r
}
