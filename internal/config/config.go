package config

import (
	"time"

	"github.com/quotelens/quotelens/internal/ailink"
)

// Config represents the complete application configuration.
// Values come from built-in defaults, an optional config file, QUOTELENS_*
// environment variables and command flags, in increasing precedence.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Market  MarketConfig  `mapstructure:"market"`
	Refresh RefreshConfig `mapstructure:"refresh"`
	Quotes  QuotesConfig  `mapstructure:"quotes"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	AILink  ailink.Config `mapstructure:"ailink"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Report  ReportConfig  `mapstructure:"report"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MarketConfig selects the exchange session boundaries and holiday list.
// Boundary times are HH:MM in exchange-local time.
type MarketConfig struct {
	Exchange        string   `mapstructure:"exchange"`
	Timezone        string   `mapstructure:"timezone"`
	PreMarketOpen   string   `mapstructure:"pre_market_open"`
	RegularOpen     string   `mapstructure:"regular_open"`
	RegularClose    string   `mapstructure:"regular_close"`
	AfterHoursClose string   `mapstructure:"after_hours_close"`
	Holidays        []string `mapstructure:"holidays"`
	HolidaysFile    string   `mapstructure:"holidays_file"`
}

// RefreshConfig tunes the cache, limiter, debounce and refresh loop.
type RefreshConfig struct {
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	MaxCallsPerMinute int           `mapstructure:"max_calls_per_minute"`
	Debounce          time.Duration `mapstructure:"debounce"`
	Interval          time.Duration `mapstructure:"interval"`
	UpstreamTimeout   time.Duration `mapstructure:"upstream_timeout"`
	Batch             BatchConfig   `mapstructure:"batch"`
}

// BatchConfig tunes the insight batcher.
type BatchConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	MinWait time.Duration `mapstructure:"min_wait"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// QuotesConfig selects the market data provider.
type QuotesConfig struct {
	// Provider is "finnhub" or "sim".
	Provider          string        `mapstructure:"provider"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// BreakerConfig tunes the circuit breaker in front of the quote provider.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
	HalfOpenRequests int           `mapstructure:"half_open_requests"`
	Interval         time.Duration `mapstructure:"interval"`
}

// ChatConfig tunes the chat path.
type ChatConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Role     string        `mapstructure:"role"`
	Debounce time.Duration `mapstructure:"debounce"`
	// MaxCallsPerMinute limits chat sends per process. Zero disables the limit.
	MaxCallsPerMinute int `mapstructure:"max_calls_per_minute"`
	// MaxHistory caps the transcript kept per user.
	MaxHistory int `mapstructure:"max_history"`
}

// ReportConfig tunes report refresh.
type ReportConfig struct {
	AIEnabled  bool          `mapstructure:"ai_enabled"`
	Role       string        `mapstructure:"role"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxAICallsPerMinute limits insight requests. Zero disables the limit.
	MaxAICallsPerMinute int `mapstructure:"max_ai_calls_per_minute"`
}

// AuthConfig controls bearer token checks on /api/v1.
type AuthConfig struct {
	Required    bool   `mapstructure:"required"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	DefaultUser string `mapstructure:"default_user"`
}
