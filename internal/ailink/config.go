package ailink

import "time"

// Config defines provider configuration for AI insights and chat.
type Config struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`

	// CacheTTL caches single-symbol insights. Zero disables caching.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// TraceFile, when set, appends every provider exchange as NDJSON.
	TraceFile string `mapstructure:"trace_file"`

	// Providers is a set of provider instances keyed by a user-defined id (slug).
	// Each instance declares its underlying provider type via AIProvider.
	Providers map[string]ProviderInstanceConfig `mapstructure:"providers"`

	Routing   map[string]string   `mapstructure:"routing"`
	Fallbacks map[string][]string `mapstructure:"fallbacks"`
}

// ProviderInstanceConfig defines a configured provider instance (e.g. "main-xai").
type ProviderInstanceConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AIProvider is the driver identifier: "xai" or "openai".
	AIProvider string `mapstructure:"ai_provider"`

	// SelectionPolicy controls which credential is chosen.
	// Supported values: "priority" (default), "round_robin".
	SelectionPolicy string `mapstructure:"selection_policy"`

	// DefaultCredential, if set, forces selecting the matching credential label.
	// If missing/invalid, selection falls back to SelectionPolicy.
	DefaultCredential string `mapstructure:"default_credential"`

	BaseURL    string            `mapstructure:"base_url"`
	Models     map[string]string `mapstructure:"models"`
	Roles      []string          `mapstructure:"roles"`
	LiveSearch bool              `mapstructure:"live_search"`

	Credentials []CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is a single credential for a provider instance.
//
// Multiple credentials enable key rotation and per-key rate limit handling.
type CredentialConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Label    string `mapstructure:"label"`
	APIKey   string `mapstructure:"api_key"`
	Priority int    `mapstructure:"priority"`
}
