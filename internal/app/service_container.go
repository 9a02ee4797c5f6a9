package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/auth"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/clients"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/events"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/handlers"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/middleware"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/router"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/services"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/vault"
)

// ServiceContainer every long-lived dependency of the server, built once at startup
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger

	// Storage
	DB *gorm.DB

	// Secrets
	Vault   *vault.Vault
	Secrets *config.SecretProvider

	// External capabilities
	Ledger    interfaces.Ledger
	EVMLedger *clients.EVMLedger // nil in demo mode
	Identity  interfaces.IdentityProvider

	// Events
	NATS      *events.NATSPublisher // nil when not configured or unreachable
	Hub       *events.Hub
	Publisher interfaces.EventPublisher

	// Core services
	AuthService         *services.AuthService
	VerificationService *services.VerificationService
	ManufacturerService *services.ManufacturerService
	IdempotencyService  *services.IdempotencyService

	Limiter *middleware.RateLimiter
	Router  *gin.Engine
}

// NewLogger builds the process logger: JSON when configured or in release mode, text otherwise.
func NewLogger(cfg config.LogConfig, ginMode string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.Format, "json") || (cfg.Format == "" && ginMode == gin.ReleaseMode) {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// NewServiceContainer wires the services over an already migrated database.
// ledger and identity may be nil, in which case they are built from cfg.
func NewServiceContainer(cfg *config.Config, logger *logrus.Logger, db *gorm.DB, ledger interfaces.Ledger, identity interfaces.IdentityProvider) (*ServiceContainer, error) {
	c := &ServiceContainer{Config: cfg, Logger: logger, DB: db}

	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if c.Vault, err = vault.New(key); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if c.Secrets, err = config.NewSecretProvider(cfg.Security); err != nil {
		return nil, fmt.Errorf("manufacturer secrets: %w", err)
	}

	if err := c.initLedger(ledger); err != nil {
		return nil, err
	}
	c.Identity = identity
	if c.Identity == nil {
		c.Identity = clients.NewIdentityClient(cfg.Identity)
	}

	c.initEvents()

	sessions := auth.NewSessionIssuer(cfg.Security.JWTSecret, cfg.SessionTTL())
	c.AuthService = services.NewAuthService(db, c.Identity, sessions, c.Ledger.Chain(), logger)
	c.VerificationService = services.NewVerificationService(
		db, c.Secrets, c.Identity, c.Ledger, c.Publisher, logger,
		cfg.Verification.RewardAmount, cfg.IntentTTL(),
	)
	c.ManufacturerService = services.NewManufacturerService(
		db, c.Secrets, c.Vault, c.Ledger, c.Publisher, logger, cfg.PackDownloadTTL(),
	)
	c.IdempotencyService = services.NewIdempotencyService(db, services.DefaultIdempotencyTTL)

	c.Limiter = middleware.NewRateLimiter(cfg.RateLimitWindow(), cfg.RateLimit.MaxRequests, logger)

	gin.SetMode(cfg.Server.Mode)
	c.Router = router.SetupRouter(router.Deps{
		Config:           cfg,
		Logger:           logger,
		Basic:            handlers.NewBasicHandler(db, cfg.Version, cfg.DemoMode, c.Ledger.Chain()),
		Auth:             handlers.NewAuthHandler(c.AuthService, logger),
		Verify:           handlers.NewVerifyHandler(c.VerificationService, logger),
		Manufacturer:     handlers.NewManufacturerHandler(c.ManufacturerService, c.IdempotencyService, c.Hub, logger),
		Session:          middleware.NewSessionAuth(sessions, logger),
		ManufacturerAuth: middleware.NewManufacturerAuth(cfg.Security.ManufacturerAPIKey, cfg.Security.ManufacturerTOTPSecret, logger),
		Limiter:          c.Limiter,
		Allowlist:        middleware.NewIPAllowlist(logger, cfg.Admin.AllowedIPs),
	})

	return c, nil
}

func (c *ServiceContainer) initLedger(ledger interfaces.Ledger) error {
	if ledger != nil {
		c.Ledger = ledger
		return nil
	}
	if c.Config.DemoMode {
		c.Logger.Warn("Demo mode: payouts and batch registrations are simulated")
		c.Ledger = clients.NewSimulatedLedger(c.Config.Chain.Name, c.Logger)
		return nil
	}
	evm, err := clients.DialEVMLedger(c.Config.Chain, c.Logger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	c.EVMLedger = evm
	c.Ledger = evm
	c.Logger.WithFields(logrus.Fields{
		"chain":   evm.Chain(),
		"sponsor": evm.SponsorAddress().Hex(),
	}).Info("Ledger connected")
	return nil
}

// initEvents events are best effort: an unreachable NATS server only disables that sink.
func (c *ServiceContainer) initEvents() {
	c.Hub = events.NewHub(c.Config.CORS.AllowedOrigins, c.Logger)

	sinks := []interfaces.EventPublisher{c.Hub}
	if c.Config.NATS.URL != "" {
		nats, err := events.ConnectNATS(c.Config.NATS, c.Logger)
		if err != nil {
			c.Logger.WithError(err).Warn("NATS unavailable, events go to the live feed only")
		} else {
			c.NATS = nats
			sinks = append(sinks, nats)
		}
	}
	c.Publisher = events.NewMultiPublisher(c.Logger, sinks...)
}

// Close releases connections held by the container
func (c *ServiceContainer) Close() {
	if c.NATS != nil {
		c.NATS.Close()
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
