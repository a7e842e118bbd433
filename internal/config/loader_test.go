package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 30*time.Second, cfg.Refresh.CacheTTL)
	assert.Equal(t, 5, cfg.Refresh.MaxCallsPerMinute)
	assert.Equal(t, 500*time.Millisecond, cfg.Refresh.Debounce)
	assert.Equal(t, 60*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 10, cfg.Refresh.Batch.MaxSize)

	assert.Equal(t, "America/New_York", cfg.Market.Timezone)
	assert.Equal(t, "09:30", cfg.Market.RegularOpen)
	assert.Equal(t, "sim", cfg.Quotes.Provider)
	assert.Equal(t, 60*time.Second, cfg.Breaker.CoolDown)
	assert.Equal(t, "local", cfg.Auth.DefaultUser)
	assert.NotEmpty(t, cfg.Store.Path)

	assert.Same(t, cfg, GetConfig())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("QUOTELENS_SERVER_PORT", "9999")
	t.Setenv("QUOTELENS_REFRESH_CACHE_TTL", "45s")
	t.Setenv("QUOTELENS_REFRESH_MAX_CALLS_PER_MINUTE", "12")
	t.Setenv("QUOTELENS_MARKET_HOLIDAYS", "2025-01-01,2025-07-04")
	t.Setenv("QUOTELENS_QUOTES_PROVIDER", "finnhub")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Refresh.CacheTTL)
	assert.Equal(t, 12, cfg.Refresh.MaxCallsPerMinute)
	assert.Equal(t, []string{"2025-01-01", "2025-07-04"}, cfg.Market.Holidays)
	assert.Equal(t, "finnhub", cfg.Quotes.Provider)
}

func TestLoadAILinkDynamicEnv(t *testing.T) {
	t.Setenv("QUOTELENS_AILINK_PROVIDERS_MAIN_ENABLED", "true")
	t.Setenv("QUOTELENS_AILINK_PROVIDERS_MAIN_AI_PROVIDER", "xai")
	t.Setenv("QUOTELENS_AILINK_PROVIDERS_MAIN_MODELS_DEFAULT", "grok-4")
	t.Setenv("QUOTELENS_AILINK_PROVIDERS_MAIN_CREDENTIALS_0_API_KEY", "secret")
	t.Setenv("QUOTELENS_AILINK_ROUTING_INSIGHT", "main")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	provider, ok := cfg.AILink.Providers["main"]
	require.True(t, ok)
	assert.True(t, provider.Enabled)
	assert.Equal(t, "xai", provider.AIProvider)
	assert.Equal(t, "grok-4", provider.Models["default"])
	require.Len(t, provider.Credentials, 1)
	assert.Equal(t, "secret", provider.Credentials[0].APIKey)
	assert.Equal(t, "main", cfg.AILink.Routing["insight"])
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotelens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
refresh:
  interval: 2m
  batch:
    max_size: 4
quotes:
  provider: finnhub
  api_key: abc
`), 0o600))

	v := newViper(t)
	used, err := ReadConfigFile(v, path)
	require.NoError(t, err)
	assert.Equal(t, path, used)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, 4, cfg.Refresh.Batch.MaxSize)
	assert.Equal(t, "abc", cfg.Quotes.APIKey)
	assert.Equal(t, 50*time.Millisecond, cfg.Refresh.Batch.MinWait)
}

func TestReadConfigFileMissingIsNotAnError(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	used, err := ReadConfigFile(newViper(t), "")
	require.NoError(t, err)
	assert.Empty(t, used)
}

func TestReadConfigFileIgnoresExtensionlessBinary(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, AppName), []byte("\x7fELF\x02\x01\x01\x00\x00"), 0o755))

	used, err := ReadConfigFile(newViper(t), "")
	require.NoError(t, err)
	assert.Empty(t, used)
}

func TestReadConfigFileSearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, AppName), []byte("\x7fELF"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, AppName+".yml"), []byte("refresh:\n  interval: 3m\n"), 0o600))

	v := newViper(t)
	used, err := ReadConfigFile(v, "")
	require.NoError(t, err)
	assert.Equal(t, AppName+".yml", used)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.Refresh.Interval)
}

func TestReadConfigFileFallsBackToXDGDir(t *testing.T) {
	t.Chdir(t.TempDir())
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir := filepath.Join(xdg, AppName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, AppName+".yaml")
	require.NoError(t, os.WriteFile(path, []byte("chat:\n  max_history: 7\n"), 0o600))

	v := newViper(t)
	used, err := ReadConfigFile(v, "")
	require.NoError(t, err)
	assert.Equal(t, path, used)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Chat.MaxHistory)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(v *viper.Viper){
		"zero ttl":          func(v *viper.Viper) { v.Set("refresh.cache_ttl", "0s") },
		"no calls":          func(v *viper.Viper) { v.Set("refresh.max_calls_per_minute", 0) },
		"fast interval":     func(v *viper.Viper) { v.Set("refresh.interval", "100ms") },
		"bad provider":      func(v *viper.Viper) { v.Set("quotes.provider", "yahoo") },
		"inverted batch":    func(v *viper.Viper) { v.Set("refresh.batch.max_wait", "1ms") },
		"auth w/out secret": func(v *viper.Viper) { v.Set("auth.required", true) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			v := newViper(t)
			mutate(v)
			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestDefaultPathsUseAppName(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	assert.Equal(t, AppName+".db", filepath.Base(DefaultStorePath()))
	if p := DefaultConfigPath(); p != "" {
		assert.Equal(t, "config.yaml", filepath.Base(p))
	}
}
