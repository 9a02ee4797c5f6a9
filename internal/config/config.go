package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration, loaded once at startup and passed explicitly
type Config struct {
	Version      string             `yaml:"version"`
	DemoMode     bool               `yaml:"demo_mode"` // simulated ledger, nothing is broadcast
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	Security     SecurityConfig     `yaml:"security"`
	Verification VerificationConfig `yaml:"verification"`
	Identity     IdentityConfig     `yaml:"identity"`
	Chain        ChainConfig        `yaml:"chain"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	CORS         CORSConfig         `yaml:"cors"`
	Admin        AdminConfig        `yaml:"admin"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // gin mode: debug | release | test
}

// LogConfig logrus configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// NATSConfig event publishing; empty URL disables it
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Timeout       int    `yaml:"timeout"` // seconds
}

// SecurityConfig every secret the process needs
type SecurityConfig struct {
	// Root from which each manufacturer's commitment secret is derived.
	ManufacturerMasterSecret string `yaml:"manufacturer_master_secret"`
	// Explicit per-manufacturer secrets, keyed by manufacturer id. Take precedence over derivation.
	ManufacturerSecrets    map[string]string `yaml:"manufacturer_secrets"`
	EncryptionKey          string            `yaml:"encryption_key"` // 32 bytes, hex or base64
	JWTSecret              string            `yaml:"jwt_secret"`
	SessionTTLHours        int               `yaml:"session_ttl_hours"`
	ManufacturerAPIKey     string            `yaml:"manufacturer_api_key"`
	ManufacturerTOTPSecret string            `yaml:"manufacturer_totp_secret"` // optional, guards plaintext export
}

// VerificationConfig quote and confirm parameters
type VerificationConfig struct {
	RewardAmount       int64 `yaml:"reward_amount"` // smallest chain unit
	IntentTTLSeconds   int   `yaml:"intent_ttl_seconds"`
	PackDownloadTTLHrs int   `yaml:"pack_download_ttl_hours"`
}

// IdentityConfig email OTP and embedded wallet provider
type IdentityConfig struct {
	BaseURL   string `yaml:"base_url"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// ChainConfig payout ledger
type ChainConfig struct {
	Name              string `yaml:"name"`
	RPCURL            string `yaml:"rpc_url"`
	ChainID           int64  `yaml:"chain_id"`
	SponsorPrivateKey string `yaml:"sponsor_private_key"` // hex, without 0x
	GasLimit          uint64 `yaml:"gas_limit"`
	GasTrackerURL     string `yaml:"gas_tracker_url"`    // optional Etherscan-style gas oracle
	MaxGasPriceGwei   uint64 `yaml:"max_gas_price_gwei"` // 0 disables the cap
	WaitForReceipt    bool   `yaml:"wait_for_receipt"`
	Timeout           int    `yaml:"timeout"` // seconds
}

// RateLimitConfig per client token bucket: MaxRequests per window, bursting to MaxRequests
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// AllowsAll reports whether every origin is allowed: an empty list or a "*" entry.
func (c CORSConfig) AllowsAll() bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

// AdminConfig IP allowlist for operational endpoints such as /metrics
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowed_ips"`
}

// LoadConfig reads the YAML file, applies env overrides and defaults, and validates.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "verify"
	}
	if c.Security.SessionTTLHours == 0 {
		c.Security.SessionTTLHours = 7 * 24
	}
	if c.Verification.RewardAmount == 0 {
		c.Verification.RewardAmount = 100000
	}
	if c.Verification.IntentTTLSeconds == 0 {
		c.Verification.IntentTTLSeconds = 120
	}
	if c.Verification.PackDownloadTTLHrs == 0 {
		c.Verification.PackDownloadTTLHrs = 24
	}
	if c.Identity.BaseURL == "" {
		c.Identity.BaseURL = "https://auth.privy.io"
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 15
	}
	if c.Chain.Name == "" {
		c.Chain.Name = "evm"
	}
	if c.Chain.GasLimit == 0 {
		c.Chain.GasLimit = 60000
	}
	if c.Chain.Timeout == 0 {
		c.Chain.Timeout = 60
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 30
	}
}

// Validate fails fast on any missing or malformed required setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode %q must be debug, release or test", c.Server.Mode))
	}
	if len(c.Security.ManufacturerMasterSecret) < 32 {
		errs = append(errs, errors.New("security.manufacturer_master_secret must be at least 32 bytes"))
	}
	if _, err := parseEncryptionKey(c.Security.EncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("security.encryption_key: %w", err))
	}
	if len(c.Security.JWTSecret) < 16 {
		errs = append(errs, errors.New("security.jwt_secret must be at least 16 bytes"))
	}
	if c.Security.ManufacturerAPIKey == "" {
		errs = append(errs, errors.New("security.manufacturer_api_key is required"))
	}
	for id, secret := range c.Security.ManufacturerSecrets {
		if len(secret) < 32 {
			errs = append(errs, fmt.Errorf("security.manufacturer_secrets[%s] must be at least 32 bytes", id))
		}
	}
	if c.CORS.AllowCredentials && c.CORS.AllowsAll() {
		errs = append(errs, errors.New("cors.allow_credentials requires an explicit cors.allowed_origins list"))
	}
	if c.Verification.RewardAmount < 0 {
		errs = append(errs, errors.New("verification.reward_amount must not be negative"))
	}
	if c.Verification.IntentTTLSeconds < 0 {
		errs = append(errs, errors.New("verification.intent_ttl_seconds must not be negative"))
	}
	if c.Identity.AppID == "" || c.Identity.AppSecret == "" {
		errs = append(errs, errors.New("identity.app_id and identity.app_secret are required"))
	}
	if !c.DemoMode {
		if c.Chain.RPCURL == "" {
			errs = append(errs, errors.New("chain.rpc_url is required outside demo mode"))
		}
		if c.Chain.SponsorPrivateKey == "" {
			errs = append(errs, errors.New("chain.sponsor_private_key is required outside demo mode"))
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, errors.New("chain.chain_id is required outside demo mode"))
		}
	}
	return errors.Join(errs...)
}

// IntentTTL intent lifetime
func (c *Config) IntentTTL() time.Duration {
	return time.Duration(c.Verification.IntentTTLSeconds) * time.Second
}

// PackDownloadTTL plaintext export window after generation
func (c *Config) PackDownloadTTL() time.Duration {
	return time.Duration(c.Verification.PackDownloadTTLHrs) * time.Hour
}

// SessionTTL user session token lifetime
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Security.SessionTTLHours) * time.Hour
}

// RateLimitWindow per-client counting window
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// Addr listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// overrideFromEnv environment variables take precedence over the file
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		config.Server.Mode = mode
	}
	if version := os.Getenv("APP_VERSION"); version != "" {
		config.Version = version
	}
	if demo := os.Getenv("DEMO_MODE"); demo != "" {
		config.DemoMode = demo == "true"
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	if secret := os.Getenv("MANUFACTURER_MASTER_SECRET"); secret != "" {
		config.Security.ManufacturerMasterSecret = secret
	}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		config.Security.EncryptionKey = key
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if key := os.Getenv("MANUFACTURER_API_KEY"); key != "" {
		config.Security.ManufacturerAPIKey = key
	}
	if secret := os.Getenv("MANUFACTURER_TOTP_SECRET"); secret != "" {
		config.Security.ManufacturerTOTPSecret = secret
	}

	if reward := os.Getenv("DEFAULT_REWARD_AMOUNT"); reward != "" {
		if r, err := strconv.ParseInt(reward, 10, 64); err == nil {
			config.Verification.RewardAmount = r
		}
	}
	if ttl := os.Getenv("CODE_INTENT_TTL_SECONDS"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil {
			config.Verification.IntentTTLSeconds = t
		}
	}

	if baseURL := os.Getenv("IDENTITY_BASE_URL"); baseURL != "" {
		config.Identity.BaseURL = baseURL
	}
	if appID := os.Getenv("IDENTITY_APP_ID"); appID != "" {
		config.Identity.AppID = appID
	}
	if appSecret := os.Getenv("IDENTITY_APP_SECRET"); appSecret != "" {
		config.Identity.AppSecret = appSecret
	}

	if rpcURL := os.Getenv("CHAIN_RPC_URL"); rpcURL != "" {
		config.Chain.RPCURL = rpcURL
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			config.Chain.ChainID = id
		}
	}
	if key := os.Getenv("SPONSOR_PRIVATE_KEY"); key != "" {
		config.Chain.SponsorPrivateKey = strings.TrimPrefix(key, "0x")
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}
