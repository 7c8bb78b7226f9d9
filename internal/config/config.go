// Package config provides configuration management for the dashboard service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like SERVER_PORT, CRM_BASE_URL)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	CRM          CRMConfig          `mapstructure:"crm"`
	Session      SessionConfig      `mapstructure:"session"`
	Notification NotificationConfig `mapstructure:"notification"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Log          LogConfig          `mapstructure:"log"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORS
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// CRMConfig locates the CRM REST API.
type CRMConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	MaxPages  int           `mapstructure:"max_pages"`
}

// SessionConfig contains dashboard session settings.
type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime   time.Duration `mapstructure:"max_lifetime"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LogoutTimeout time.Duration `mapstructure:"logout_timeout"`
	Issuer        string        `mapstructure:"issuer"`
}

// NotificationConfig tunes the per-session notification poller and the
// derivation windows.
type NotificationConfig struct {
	RefreshInterval       time.Duration `mapstructure:"refresh_interval"`
	RefreshTimeout        time.Duration `mapstructure:"refresh_timeout"`
	ViewingWindow         time.Duration `mapstructure:"viewing_window"`
	ViewingUrgent         time.Duration `mapstructure:"viewing_urgent"`
	NewPropertyWindow     time.Duration `mapstructure:"new_property_window"`
	SaleWindow            time.Duration `mapstructure:"sale_window"`
	StaleClientDays       int           `mapstructure:"stale_client_days"`
	StaleClientUrgentDays int           `mapstructure:"stale_client_urgent_days"`
	FutureTolerance       time.Duration `mapstructure:"future_tolerance"`
}

// CacheConfig sizes the reference data cache.
type CacheConfig struct {
	ReferenceSize int           `mapstructure:"reference_size"`
	ReferenceTTL  time.Duration `mapstructure:"reference_ttl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	FetchPoolSize   int `mapstructure:"fetch_pool_size"`
}

// SecurityConfig contains security-related settings.
// Secrets are generated on first boot if missing.
type SecurityConfig struct {
	SessionSecret string `mapstructure:"session_secret"`
	// SessionVerificationKeys are previous secrets still accepted, so the
	// session secret can be rotated without signing everyone out.
	SessionVerificationKeys []string `mapstructure:"session_verification_keys"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/estatedesk")

	// No prefix: crm.base_url → CRM_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Security.SessionSecret == "" {
		errs = append(errs, errors.New("security.session_secret must not be empty"))
	} else if len(c.Security.SessionSecret) < 32 {
		errs = append(errs, errors.New("security.session_secret must be at least 32 characters"))
	}

	if c.CRM.BaseURL == "" {
		errs = append(errs, errors.New("crm.base_url must not be empty"))
	} else if u, err := url.Parse(c.CRM.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("crm.base_url %q must be an absolute http(s) URL", c.CRM.BaseURL))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Notification.RefreshInterval < time.Second {
		errs = append(errs, errors.New("notification.refresh_interval must be at least 1s"))
	}
	if c.Session.IdleTimeout < 0 || c.Session.MaxLifetime <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must not be negative and session.max_lifetime must be positive"))
	}
	if c.Worker.GeneralPoolSize <= 0 || c.Worker.FetchPoolSize <= 0 {
		errs = append(errs, errors.New("worker pool sizes must be positive"))
	}
	if c.Server.UnsafeAllowAllOrigins && c.Server.AllowCredentials {
		errs = append(errs, errors.New("server.unsafe_allow_all_origins cannot be combined with server.allow_credentials"))
	}
	return errors.Join(errs...)
}

// ensureSecrets auto-generates missing secrets.
func (c *Config) ensureSecrets() error {
	if c.Security.SessionSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate session secret: %w", err)
		}
		c.Security.SessionSecret = secret
		logBootstrapWarn(
			"auto-generated session_secret; sessions will not survive a restart, set SECURITY_SESSION_SECRET for persistence",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// CRM
	v.SetDefault("crm.base_url", "http://localhost:8000/api")
	v.SetDefault("crm.timeout", "15s")
	v.SetDefault("crm.user_agent", "estatedesk-dashboard")
	v.SetDefault("crm.max_pages", 200)

	// Session
	v.SetDefault("session.idle_timeout", "30m")
	v.SetDefault("session.max_lifetime", "12h")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("session.logout_timeout", "5s")
	v.SetDefault("session.issuer", "estatedesk")

	// Notification
	v.SetDefault("notification.refresh_interval", "5m")
	v.SetDefault("notification.refresh_timeout", "1m")
	v.SetDefault("notification.viewing_window", "24h")
	v.SetDefault("notification.viewing_urgent", "2h")
	v.SetDefault("notification.new_property_window", "24h")
	v.SetDefault("notification.sale_window", "48h")
	v.SetDefault("notification.stale_client_days", 3)
	v.SetDefault("notification.stale_client_urgent_days", 7)
	v.SetDefault("notification.future_tolerance", "5m")

	// Cache
	v.SetDefault("cache.reference_size", 1024)
	v.SetDefault("cache.reference_ttl", "5m")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 16)
	v.SetDefault("worker.fetch_pool_size", 64)

	// Security
	v.SetDefault("security.session_verification_keys", []string{})
}
