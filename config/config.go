// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/bulwark/domain/breaker"
	"github.com/artpar/bulwark/domain/ratelimit"
)

// Audit store drivers.
const (
	AuditMemory   = "memory"
	AuditSQLite   = "sqlite"
	AuditPostgres = "postgres"
)

// Stats sink drivers.
const (
	StatsNone   = "none"
	StatsMemory = "memory"
	StatsRedis  = "redis"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Breaker   breaker.Config   `yaml:"breaker"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
	Routes    []RouteConfig    `yaml:"routes"`
	Audit     AuditConfig      `yaml:"audit"`
	Stats     StatsConfig      `yaml:"stats"`
	Admin     AdminConfig      `yaml:"admin"`
	Auth      AuthConfig       `yaml:"auth"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	OpenAPI   OpenAPIConfig    `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Development adds stack traces to error responses.
	Development bool `yaml:"development"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	// Tiers maps tier name to its rule. Missing built-in tiers get defaults.
	Tiers       map[string]ratelimit.Rule `yaml:"tiers"`
	BypassPaths []string                  `yaml:"bypass_paths"`
	// KeyHeader, when set, keys callers by this header instead of address.
	KeyHeader         string        `yaml:"key_header"`
	TrustForwardedFor bool          `yaml:"trust_forwarded_for"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	Shards            int           `yaml:"shards"`
}

// UpstreamConfig configures one protected dependency.
type UpstreamConfig struct {
	Name    string         `yaml:"name"`
	URL     string         `yaml:"url"`
	Timeout time.Duration  `yaml:"timeout"`
	Breaker breaker.Config `yaml:"breaker"`
}

// RouteConfig mounts a path prefix onto an upstream.
type RouteConfig struct {
	Path        string   `yaml:"path"`
	Methods     []string `yaml:"methods"`
	Upstream    string   `yaml:"upstream"`
	Tier        string   `yaml:"tier"`
	AuditAction string   `yaml:"audit_action"`
	StripPrefix bool     `yaml:"strip_prefix"`
}

// AuditConfig configures the audit trail store.
type AuditConfig struct {
	Driver        string        `yaml:"driver"` // "memory", "sqlite" or "postgres"
	DSN           string        `yaml:"dsn"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron spec
}

// StatsConfig configures the rate limit decision sink.
type StatsConfig struct {
	Driver string      `yaml:"driver"` // "none", "memory" or "redis"
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password,omitempty"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"` // "minute" or "none"
	TrackKeys bool          `yaml:"track_keys"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// TokenHash is a bcrypt hash of the bearer token. Admin routes are
	// mounted only when it is set.
	TokenHash string `yaml:"token_hash"`
}

// AuthConfig configures caller identification.
type AuthConfig struct {
	// ActorHeader is a header set by a trusted upstream authenticator.
	// Empty means no header is trusted and callers are anonymous.
	ActorHeader string `yaml:"actor_header"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /swagger endpoints
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applying env expansion, overrides,
// defaults and validation.
func Parse(data []byte) (*Config, error) {
	data = expandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// envRef matches ${NAME}. Bare $NAME is left alone so bcrypt hashes
// survive expansion.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	BULWARK_SERVER_HOST        - Server host (default: 0.0.0.0)
//	BULWARK_SERVER_PORT        - Server port (default: 8080)
//	BULWARK_DEVELOPMENT        - Include stacks in error responses
//	BULWARK_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	BULWARK_LOG_FORMAT         - Log format: json or console (default: json)
//	BULWARK_AUDIT_DRIVER       - Audit store: memory, sqlite, postgres (default: sqlite)
//	BULWARK_AUDIT_DSN          - Audit store DSN (default: bulwark.db)
//	BULWARK_AUDIT_RETENTION    - Audit retention, e.g. 720h
//	BULWARK_STATS_DRIVER       - Stats sink: none, memory, redis (default: memory)
//	BULWARK_REDIS_ADDR         - Redis address for the stats sink
//	BULWARK_REDIS_PASSWORD     - Redis password
//	BULWARK_REDIS_DB           - Redis database number
//	BULWARK_TRUST_FORWARDED    - Key callers by X-Forwarded-For
//	BULWARK_ADMIN_TOKEN_HASH   - bcrypt hash of the admin bearer token
//	BULWARK_ACTOR_HEADER       - Trusted header carrying the caller id
//	BULWARK_METRICS_ENABLED    - Enable /metrics endpoint
//	BULWARK_OPENAPI_ENABLED    - Enable Swagger UI
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads from path when the file exists, otherwise from
// environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies BULWARK_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("BULWARK_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BULWARK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BULWARK_DEVELOPMENT"); v != "" {
		cfg.Server.Development = parseBool(v)
	}

	// Logging configuration
	if v := os.Getenv("BULWARK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BULWARK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Audit configuration
	if v := os.Getenv("BULWARK_AUDIT_DRIVER"); v != "" {
		cfg.Audit.Driver = v
	}
	if v := os.Getenv("BULWARK_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("BULWARK_AUDIT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Audit.Retention = d
		}
	}

	// Stats configuration
	if v := os.Getenv("BULWARK_STATS_DRIVER"); v != "" {
		cfg.Stats.Driver = v
	}
	if v := os.Getenv("BULWARK_REDIS_ADDR"); v != "" {
		cfg.Stats.Redis.Addr = v
	}
	if v := os.Getenv("BULWARK_REDIS_PASSWORD"); v != "" {
		cfg.Stats.Redis.Password = v
	}
	if v := os.Getenv("BULWARK_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stats.Redis.DB = n
		}
	}

	// Rate limit configuration
	if v := os.Getenv("BULWARK_TRUST_FORWARDED"); v != "" {
		cfg.RateLimit.TrustForwardedFor = parseBool(v)
	}

	// Admin and auth
	if v := os.Getenv("BULWARK_ADMIN_TOKEN_HASH"); v != "" {
		cfg.Admin.TokenHash = v
	}
	if v := os.Getenv("BULWARK_ACTOR_HEADER"); v != "" {
		cfg.Auth.ActorHeader = v
	}

	// Metrics and docs
	if v := os.Getenv("BULWARK_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("BULWARK_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// DefaultBypassPaths are exempt from every rate limit rule.
var DefaultBypassPaths = []string{"/health", "/health/live", "/health/ready"}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	cfg.RateLimit.Tiers = mergeTiers(cfg.RateLimit.Tiers)
	if cfg.RateLimit.BypassPaths == nil {
		cfg.RateLimit.BypassPaths = append([]string(nil), DefaultBypassPaths...)
	}
	if cfg.RateLimit.CleanupInterval == 0 {
		cfg.RateLimit.CleanupInterval = time.Minute
	}
	if cfg.RateLimit.Shards == 0 {
		cfg.RateLimit.Shards = 32
	}

	cfg.Breaker = cfg.Breaker.WithDefaults()
	for i := range cfg.Upstreams {
		u := &cfg.Upstreams[i]
		if u.Timeout == 0 {
			u.Timeout = 30 * time.Second
		}
		u.Breaker = inheritBreaker(u.Breaker, cfg.Breaker)
	}

	for i := range cfg.Routes {
		if cfg.Routes[i].Tier == "" {
			cfg.Routes[i].Tier = ratelimit.TierGeneral
		}
	}

	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = AuditSQLite
	}
	if cfg.Audit.DSN == "" && cfg.Audit.Driver == AuditSQLite {
		cfg.Audit.DSN = "bulwark.db"
	}
	if cfg.Audit.Retention == 0 {
		cfg.Audit.Retention = 90 * 24 * time.Hour
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = "@daily"
	}

	if cfg.Stats.Driver == "" {
		cfg.Stats.Driver = StatsMemory
	}
	if cfg.Stats.Redis.Prefix == "" {
		cfg.Stats.Redis.Prefix = "bulwark:ratelimit"
	}
	if cfg.Stats.Redis.TTL == 0 {
		cfg.Stats.Redis.TTL = 24 * time.Hour
	}
	if cfg.Stats.Redis.Bucket == "" {
		cfg.Stats.Redis.Bucket = "minute"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// mergeTiers fills missing built-in tiers and zero fields of configured
// built-in tiers from the defaults.
func mergeTiers(configured map[string]ratelimit.Rule) map[string]ratelimit.Rule {
	out := ratelimit.DefaultRules()
	for name, r := range configured {
		if d, ok := out[name]; ok {
			if r.Limit == 0 {
				r.Limit = d.Limit
			}
			if r.Window == 0 {
				r.Window = d.Window
			}
			if r.Message == "" {
				r.Message = d.Message
			}
		}
		r.Name = name
		out[name] = r
	}
	return out
}

// inheritBreaker fills zero fields of an upstream's breaker from the
// global breaker defaults.
func inheritBreaker(c, defaults breaker.Config) breaker.Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}
	if c.OpenDuration == 0 {
		c.OpenDuration = defaults.OpenDuration
	}
	if c.MonitoringPeriod == 0 {
		c.MonitoringPeriod = defaults.MonitoringPeriod
	}
	return c
}

func validate(cfg *Config) error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format))
	}

	if err := ratelimit.ValidateRules(cfg.RateLimit.Tiers); err != nil {
		errs = append(errs, fmt.Errorf("rate_limit.tiers: %w", err))
	}
	if err := cfg.Breaker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("breaker: %w", err))
	}

	upstreams := make(map[string]bool, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		if u.Name == "" {
			errs = append(errs, fmt.Errorf("upstreams[%d].name is required", i))
		} else if upstreams[u.Name] {
			errs = append(errs, fmt.Errorf("upstreams[%d].name %q is duplicated", i, u.Name))
		}
		upstreams[u.Name] = true

		parsed, err := url.Parse(u.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("upstreams[%d].url must be an absolute URL, got %q", i, u.URL))
		}
		if err := u.Breaker.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("upstreams[%d].breaker: %w", i, err))
		}
	}

	for i, r := range cfg.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Errorf("routes[%d].path must start with /, got %q", i, r.Path))
		}
		if !upstreams[r.Upstream] {
			errs = append(errs, fmt.Errorf("routes[%d].upstream %q is not defined", i, r.Upstream))
		}
		if _, ok := cfg.RateLimit.Tiers[r.Tier]; !ok {
			errs = append(errs, fmt.Errorf("routes[%d].tier %q is not defined", i, r.Tier))
		}
	}

	switch cfg.Audit.Driver {
	case AuditMemory:
	case AuditSQLite, AuditPostgres:
		if cfg.Audit.DSN == "" {
			errs = append(errs, fmt.Errorf("audit.dsn is required for driver %q", cfg.Audit.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.driver must be one of memory, sqlite, postgres, got %q", cfg.Audit.Driver))
	}
	if cfg.Audit.Retention < 0 {
		errs = append(errs, errors.New("audit.retention must not be negative"))
	}

	switch cfg.Stats.Driver {
	case StatsNone, StatsMemory:
	case StatsRedis:
		if cfg.Stats.Redis.Addr == "" {
			errs = append(errs, errors.New("stats.redis.addr is required when stats.driver is 'redis'"))
		}
	default:
		errs = append(errs, fmt.Errorf("stats.driver must be one of none, memory, redis, got %q", cfg.Stats.Driver))
	}
	if b := cfg.Stats.Redis.Bucket; b != "minute" && b != "none" {
		errs = append(errs, fmt.Errorf("stats.redis.bucket must be 'minute' or 'none', got %q", b))
	}

	return errors.Join(errs...)
}
