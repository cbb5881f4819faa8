// Package config loads and validates portal configuration from an optional
// YAML file and PORTAL_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/airfi/airfi-portal/internal/router"
	"github.com/airfi/airfi-portal/internal/session"
)

// EnvPrefix is the prefix of environment overrides, e.g. PORTAL_ROUTER_DRIVER.
const EnvPrefix = "PORTAL"

// Router drivers.
const (
	DriverHTTP    = "http"
	DriverOpenWrt = "openwrt"
	DriverMemory  = "memory"
)

// Config holds application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Router   RouterConfig   `mapstructure:"router"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Payments PaymentsConfig `mapstructure:"payments"`
	Plans    []session.Plan `mapstructure:"plans"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address (e.g. :8080).
	Addr string `mapstructure:"addr"`
	// PublicURL is the portal URL shown to guests; printed as a QR code by serve --qr.
	PublicURL       string        `mapstructure:"public_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	// Path is the SQLite file; ":memory:" keeps everything in process.
	Path string `mapstructure:"path"`
}

// RouterConfig selects and configures the router driver.
type RouterConfig struct {
	Driver   string        `mapstructure:"driver"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`

	HTTP    HTTPRouterConfig    `mapstructure:"http"`
	OpenWrt OpenWrtRouterConfig `mapstructure:"openwrt"`
}

// HTTPRouterConfig mirrors router.HTTPConfig.
type HTTPRouterConfig struct {
	BaseURL                string            `mapstructure:"base_url"`
	LandingPath            string            `mapstructure:"landing_path"`
	LoginPath              string            `mapstructure:"login_path"`
	FilterPath             string            `mapstructure:"filter_path"`
	UsernameField          string            `mapstructure:"username_field"`
	PasswordField          string            `mapstructure:"password_field"`
	LoginForm              map[string]string `mapstructure:"login_form"`
	BlacklistForm          map[string]string `mapstructure:"blacklist_form"`
	UnblacklistForm        map[string]string `mapstructure:"unblacklist_form"`
	MACFormat              string            `mapstructure:"mac_format"`
	UserAgent              string            `mapstructure:"user_agent"`
	AuthFailureMarkers     []string          `mapstructure:"auth_failure_markers"`
	RejectMarkers          []string          `mapstructure:"reject_markers"`
	BlacklistNoopMarkers   []string          `mapstructure:"blacklist_noop_markers"`
	UnblacklistNoopMarkers []string          `mapstructure:"unblacklist_noop_markers"`
}

type OpenWrtRouterConfig struct {
	Address        string `mapstructure:"address"`
	Port           int    `mapstructure:"port"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

type SweepConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
}

type AuthConfig struct {
	KeysDir              string        `mapstructure:"keys_dir"`
	Issuer               string        `mapstructure:"issuer"`
	UserTokenTTL         time.Duration `mapstructure:"user_token_ttl"`
	OperatorTokenTTL     time.Duration `mapstructure:"operator_token_ttl"`
	OperatorUsername     string        `mapstructure:"operator_username"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
}

type PaymentsConfig struct {
	// CallbackSecret authenticates the payment gateway's confirmation callback.
	CallbackSecret string `mapstructure:"callback_secret"`
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DefaultPlans is the catalog used when none is configured.
func DefaultPlans() []session.Plan {
	return []session.Plan{
		{ID: "1h", Name: "1 Hour", DurationHours: 1, PriceKsh: 10},
		{ID: "3h", Name: "3 Hours", DurationHours: 3, PriceKsh: 25},
		{ID: "24h", Name: "Daily", DurationHours: 24, PriceKsh: 80},
		{ID: "168h", Name: "Weekly", DurationHours: 168, PriceKsh: 400},
	}
}

func setDefaults(v *viper.Viper) {
	rd := router.DefaultHTTPConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://192.168.1.1:8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database.path", "./data/portal.db")

	v.SetDefault("router.driver", DriverHTTP)
	v.SetDefault("router.username", "admin")
	v.SetDefault("router.password", "")
	v.SetDefault("router.timeout", rd.Timeout)

	v.SetDefault("router.http.base_url", rd.BaseURL)
	v.SetDefault("router.http.landing_path", rd.LandingPath)
	v.SetDefault("router.http.login_path", rd.LoginPath)
	v.SetDefault("router.http.filter_path", rd.FilterPath)
	v.SetDefault("router.http.username_field", rd.UsernameField)
	v.SetDefault("router.http.password_field", rd.PasswordField)
	v.SetDefault("router.http.login_form", rd.LoginForm)
	v.SetDefault("router.http.blacklist_form", rd.BlacklistForm)
	v.SetDefault("router.http.unblacklist_form", rd.UnblacklistForm)
	v.SetDefault("router.http.mac_format", "")
	v.SetDefault("router.http.user_agent", rd.UserAgent)
	v.SetDefault("router.http.auth_failure_markers", rd.AuthFailureMarkers)
	v.SetDefault("router.http.reject_markers", rd.RejectMarkers)
	v.SetDefault("router.http.blacklist_noop_markers", rd.BlacklistNoopMarkers)
	v.SetDefault("router.http.unblacklist_noop_markers", rd.UnblacklistNoopMarkers)

	v.SetDefault("router.openwrt.address", "")
	v.SetDefault("router.openwrt.port", 22)
	v.SetDefault("router.openwrt.private_key_path", "")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", time.Minute)
	v.SetDefault("sweep.retry_max_attempts", 5)

	v.SetDefault("auth.keys_dir", "./keys")
	v.SetDefault("auth.issuer", "airfi-portal")
	v.SetDefault("auth.user_token_ttl", 24*time.Hour)
	v.SetDefault("auth.operator_token_ttl", 8*time.Hour)
	v.SetDefault("auth.operator_username", "operator")
	v.SetDefault("auth.operator_password_hash", "")

	v.SetDefault("payments.callback_secret", "")
}

// Load reads the YAML file at path (if non-empty), applies PORTAL_*
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = DefaultPlans()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr", "must be set")
	}
	if c.Database.Path == "" {
		return invalid("database.path", "must be set")
	}

	switch c.Router.Driver {
	case DriverHTTP:
		if c.Router.HTTP.BaseURL == "" {
			return invalid("router.http.base_url", "required for the http driver")
		}
	case DriverOpenWrt:
		if c.Router.OpenWrt.Address == "" {
			return invalid("router.openwrt.address", "required for the openwrt driver")
		}
	case DriverMemory:
	default:
		return invalid("router.driver", "unknown driver %q (want http, openwrt or memory)", c.Router.Driver)
	}
	if c.Router.Timeout <= 0 {
		return invalid("router.timeout", "must be positive")
	}

	if c.Sweep.Interval <= 0 {
		return invalid("sweep.interval", "must be positive")
	}
	if c.Sweep.RetryMaxAttempts < 1 {
		return invalid("sweep.retry_max_attempts", "must be at least 1")
	}

	if c.Auth.Issuer == "" {
		return invalid("auth.issuer", "must be set")
	}
	if c.Auth.UserTokenTTL <= 0 || c.Auth.OperatorTokenTTL <= 0 {
		return invalid("auth", "token TTLs must be positive")
	}

	seen := make(map[string]bool, len(c.Plans))
	for i, p := range c.Plans {
		field := fmt.Sprintf("plans[%d]", i)
		if p.ID == "" {
			return invalid(field, "id must be set")
		}
		if seen[p.ID] {
			return invalid(field, "duplicate plan id %q", p.ID)
		}
		seen[p.ID] = true
		if p.DurationHours <= 0 {
			return invalid(field, "duration_hours must be positive")
		}
		if p.PriceKsh < 0 {
			return invalid(field, "price_ksh must not be negative")
		}
	}
	return nil
}

// RouterHTTPConfig converts the http driver settings for router.NewHTTPGateway.
func (c *Config) RouterHTTPConfig() router.HTTPConfig {
	h := c.Router.HTTP
	return router.HTTPConfig{
		BaseURL:            h.BaseURL,
		LandingPath:        h.LandingPath,
		LoginPath:          h.LoginPath,
		FilterPath:         h.FilterPath,
		UsernameField:      h.UsernameField,
		PasswordField:      h.PasswordField,
		LoginForm:          h.LoginForm,
		BlacklistForm:      h.BlacklistForm,
		UnblacklistForm:    h.UnblacklistForm,
		MACFormat:          h.MACFormat,
		UserAgent:          h.UserAgent,
		AuthFailureMarkers: h.AuthFailureMarkers,
		RejectMarkers:      h.RejectMarkers,
		Timeout:            c.Router.Timeout,

		BlacklistNoopMarkers:   h.BlacklistNoopMarkers,
		UnblacklistNoopMarkers: h.UnblacklistNoopMarkers,
	}
}

// RouterOpenNDSConfig converts the openwrt driver settings. The SSH key is
// read from PrivateKeyPath when set.
func (c *Config) RouterOpenNDSConfig() (router.OpenNDSConfig, error) {
	o := c.Router.OpenWrt
	cfg := router.OpenNDSConfig{
		Address: o.Address,
		Port:    o.Port,
		Timeout: c.Router.Timeout,
	}
	if o.PrivateKeyPath != "" {
		key, err := os.ReadFile(o.PrivateKeyPath)
		if err != nil {
			return cfg, fmt.Errorf("read router SSH key: %w", err)
		}
		cfg.PrivateKey = string(key)
	}
	return cfg, nil
}

// RouterCredentials returns the admin credentials used for every router login.
func (c *Config) RouterCredentials() router.Credentials {
	return router.Credentials{Username: c.Router.Username, Password: c.Router.Password}
}
