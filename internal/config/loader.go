// Package config provides centralized configuration management for quotelens.
//
// Defaults are registered on a viper instance, which then layers an optional
// config file, QUOTELENS_* environment variables and bound command flags.
// Load decodes the merged settings into a typed Config with mapstructure.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config directory, data directory and database file.
	AppName = "quotelens"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "QUOTELENS"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// defaults holds every known key. Keys missing here are invisible to
// viper's environment lookup.
var defaults = map[string]any{
	"server.host":             "localhost",
	"server.port":             8080,
	"server.read_timeout":     "15s",
	"server.write_timeout":    "30s",
	"server.idle_timeout":     "60s",
	"server.shutdown_timeout": "10s",

	"logging.level": "info",

	"store.driver":     "libsql",
	"store.path":       "",
	"store.url":        "",
	"store.auth_token": "",

	"metrics.enabled": true,
	"metrics.port":    9090,

	"health.enabled": true,

	"market.exchange":          "NYSE",
	"market.timezone":          "America/New_York",
	"market.pre_market_open":   "04:00",
	"market.regular_open":      "09:30",
	"market.regular_close":     "16:00",
	"market.after_hours_close": "20:00",
	"market.holidays":          []string{},
	"market.holidays_file":     "",

	"refresh.cache_ttl":            "30s",
	"refresh.max_calls_per_minute": 5,
	"refresh.debounce":             "500ms",
	"refresh.interval":             "60s",
	"refresh.upstream_timeout":     "10s",
	"refresh.batch.max_size":       10,
	"refresh.batch.min_wait":       "50ms",
	"refresh.batch.max_wait":       "2s",

	"quotes.provider":            "sim",
	"quotes.base_url":            "https://finnhub.io/api/v1",
	"quotes.api_key":             "",
	"quotes.requests_per_minute": 60,
	"quotes.timeout":             "10s",

	"breaker.failure_threshold":  5,
	"breaker.cool_down":          "60s",
	"breaker.half_open_requests": 1,
	"breaker.interval":           "0s",

	"ailink.default_provider": "",
	"ailink.default_timeout":  "30s",
	"ailink.cache_ttl":        "0s",
	"ailink.trace_file":       "",

	"chat.enabled":  true,
	"chat.role":     "chat",
	"chat.debounce": "300ms",

	"chat.max_calls_per_minute": 20,
	"chat.max_history":          100,

	"report.ai_enabled":  true,
	"report.role":        "insight",
	"report.retry_delay": "500ms",

	"report.max_ai_calls_per_minute": 10,

	"auth.required":     false,
	"auth.jwt_secret":   "",
	"auth.default_user": "local",
}

// SetDefaults registers defaults and environment handling on v.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadConfigFile points v at path, or at the first existing candidate from
// ConfigCandidates when path is empty. A missing file is not an error.
func ReadConfigFile(v *viper.Viper, path string) (string, error) {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return "", nil
		}
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// ConfigCandidates lists the config files searched when no --config flag is
// given, in priority order. Only names with a yaml extension qualify, so the
// quotelens binary in the working directory is never read as config.
func ConfigCandidates() []string {
	candidates := []string{
		AppName + ".yaml",
		AppName + ".yml",
		filepath.Join("config", AppName+".yaml"),
		filepath.Join("config", AppName+".yml"),
	}
	if dir := gfconfig.GetAppConfigDir(AppName); dir != "" {
		candidates = append(candidates,
			filepath.Join(dir, AppName+".yaml"),
			filepath.Join(dir, AppName+".yml"),
			filepath.Join(dir, "config.yaml"),
		)
	}
	return candidates
}

func findConfigFile() string {
	for _, candidate := range ConfigCandidates() {
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

// Load decodes the settings held by v into a Config, validates it and
// stores it for GetConfig. Safe to call again on reload.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
		SetDefaults(v)
	}

	settings := v.AllSettings()
	applyAILinkDynamicEnvOverrides(EnvPrefix+"_", settings)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Refresh.CacheTTL <= 0 {
		problems = append(problems, "refresh.cache_ttl must be positive")
	}
	if c.Refresh.MaxCallsPerMinute <= 0 {
		problems = append(problems, "refresh.max_calls_per_minute must be positive")
	}
	if c.Report.MaxAICallsPerMinute < 0 {
		problems = append(problems, "report.max_ai_calls_per_minute must not be negative")
	}
	if c.Refresh.Debounce < 0 {
		problems = append(problems, "refresh.debounce must not be negative")
	}
	if c.Refresh.Interval < time.Second {
		problems = append(problems, "refresh.interval must be at least 1s")
	}
	if c.Refresh.Batch.MaxSize <= 0 {
		problems = append(problems, "refresh.batch.max_size must be positive")
	}
	if c.Refresh.Batch.MaxWait < c.Refresh.Batch.MinWait {
		problems = append(problems, "refresh.batch.max_wait must be >= min_wait")
	}
	switch strings.ToLower(c.Quotes.Provider) {
	case "sim":
	case "finnhub":
		if c.Quotes.BaseURL == "" {
			problems = append(problems, "quotes.base_url is required for finnhub")
		}
	default:
		problems = append(problems, fmt.Sprintf("quotes.provider %q is not one of finnhub, sim", c.Quotes.Provider))
	}
	if c.Breaker.FailureThreshold <= 0 {
		problems = append(problems, "breaker.failure_threshold must be positive")
	}
	if c.Breaker.CoolDown <= 0 {
		problems = append(problems, "breaker.cool_down must be positive")
	}
	if c.Auth.Required && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		problems = append(problems, "auth.jwt_secret is required when auth.required is set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// applyAILinkDynamicEnvOverrides maps provider and routing variables that
// have no fixed key, such as QUOTELENS_AILINK_PROVIDERS_MAIN_CREDENTIALS_0_API_KEY.
func applyAILinkDynamicEnvOverrides(prefix string, settings map[string]any) {
	providerPrefix := prefix + "AILINK_PROVIDERS_"
	routingPrefix := prefix + "AILINK_ROUTING_"

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}

		switch {
		case strings.HasPrefix(key, providerPrefix):
			applyAILinkProviderOverride(settings, key[len(providerPrefix):], value)
		case strings.HasPrefix(key, routingPrefix):
			role := toSlug(key[len(routingPrefix):])
			if role == "" {
				continue
			}
			routing := ensureMap(ensureMap(settings, "ailink"), "routing")
			routing[role] = strings.TrimSpace(value)
		}
	}
}

func applyAILinkProviderOverride(settings map[string]any, raw string, value string) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	section := -1
	for i, part := range parts {
		if part == "ENABLED" || part == "AI" || part == "BASE" || part == "MODELS" || part == "CREDENTIALS" {
			section = i
			break
		}
	}
	if section <= 0 {
		return
	}

	providerID := strings.ToLower(strings.Join(parts[:section], "-"))
	provider := ensureMap(ensureMap(ensureMap(settings, "ailink"), "providers"), providerID)
	value = strings.TrimSpace(value)

	rest := parts[section:]
	switch {
	case len(rest) == 1 && rest[0] == "ENABLED":
		provider["enabled"] = strings.EqualFold(value, "true")
	case len(rest) == 2 && rest[0] == "AI" && rest[1] == "PROVIDER":
		provider["ai_provider"] = strings.ToLower(value)
	case len(rest) == 2 && rest[0] == "BASE" && rest[1] == "URL":
		provider["base_url"] = value
	case len(rest) >= 2 && rest[0] == "MODELS":
		ensureMap(provider, "models")[strings.ToLower(strings.Join(rest[1:], "_"))] = value
	case len(rest) >= 3 && rest[0] == "CREDENTIALS":
		idx, err := strconv.Atoi(rest[1])
		if err != nil || idx < 0 {
			return
		}
		field := strings.ToLower(strings.Join(rest[2:], "_"))
		creds := ensureSlice(provider, "credentials", idx+1)
		cred := ensureSliceMap(creds, idx)
		switch field {
		case "priority":
			if parsed, err := strconv.Atoi(value); err == nil {
				cred[field] = parsed
				return
			}
			cred[field] = value
		case "enabled":
			cred[field] = strings.EqualFold(value, "true")
		default:
			cred[field] = value
		}
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if existing, ok := parent[key].(map[string]any); ok {
		return existing
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func ensureSlice(parent map[string]any, key string, length int) []any {
	existing, _ := parent[key].([]any)
	for len(existing) < length {
		existing = append(existing, map[string]any{})
	}
	parent[key] = existing
	return existing
}

func ensureSliceMap(slice []any, idx int) map[string]any {
	if typed, ok := slice[idx].(map[string]any); ok {
		return typed
	}
	m := map[string]any{}
	slice[idx] = m
	return m
}

func toSlug(raw string) string {
	var clean []string
	for _, part := range strings.Split(strings.TrimSpace(raw), "_") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "-")
}
