package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core/store"
	"github.com/quotelens/quotelens/internal/observability"
	"github.com/quotelens/quotelens/internal/output"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation and suggest fixes for common issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		version := crucible.GetVersion()
		checks := []output.Check{
			{Name: "go", OK: true, Detail: runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH},
			{Name: "crucible", OK: version.Crucible != "", Detail: version.Crucible},
			{Name: "gofulmen", OK: version.Gofulmen != "", Detail: version.Gofulmen},
		}

		configPath := config.DefaultConfigPath()
		checks = append(checks, output.Check{
			Name:   "config file",
			OK:     configPath != "",
			Detail: fmt.Sprintf("%s (%s)", configPath, existenceStatus(fileExists(configPath))),
		})

		cfg, cfgErr := loadConfig()
		if cfgErr != nil {
			checks = append(checks, output.Check{Name: "config", Detail: cfgErr.Error()})
			return renderDoctor(cmd, format, checks)
		}

		checks = append(checks, output.Check{Name: "database", OK: true, Detail: describeDatabase(cfg.Store)})

		db, storeErr := openStore(ctx, cfg)
		if storeErr != nil {
			checks = append(checks, output.Check{Name: "call log", Detail: "cannot open store: " + storeErr.Error()})
		} else {
			defer db.Close() //nolint:errcheck
			checks = append(checks, describeCallLog(cmd, db))
		}

		quoteKey := cfg.Quotes.Provider != "finnhub" || strings.TrimSpace(cfg.Quotes.APIKey) != ""
		checks = append(checks, output.Check{
			Name:   "quote provider",
			OK:     quoteKey,
			Detail: cfg.Quotes.Provider + quoteKeyHint(quoteKey),
		})

		checks = append(checks, output.Check{Name: "ai backend", OK: true, Detail: describeAIBackend(cfg)})
		return renderDoctor(cmd, format, checks)
	},
}

func renderDoctor(cmd *cobra.Command, format output.Format, checks []output.Check) error {
	text, err := output.Checks(format, checks)
	if err != nil {
		return err
	}
	if err := emit(cmd, "doctor", format, text); err != nil {
		return err
	}
	for _, c := range checks {
		if !c.OK {
			observability.CLILogger.Warn("Some checks failed. Review the output above for details.")
			return nil
		}
	}
	observability.CLILogger.Debug("All diagnostic checks passed")
	return nil
}

func describeDatabase(cfg config.StoreConfig) string {
	if strings.TrimSpace(cfg.URL) != "" {
		return cfg.URL + " (remote)"
	}
	absPath, _ := filepath.Abs(cfg.Path)
	info, err := os.Stat(absPath)
	switch {
	case err == nil:
		return fmt.Sprintf("%s (%s)", absPath, formatFileSize(info.Size()))
	case os.IsNotExist(err):
		return absPath + " (not created yet)"
	default:
		return fmt.Sprintf("%s (error: %v)", absPath, err)
	}
}

func describeCallLog(cmd *cobra.Command, db *store.Store) output.Check {
	state, err := db.LoadCallLog(cmd.Context(), quoteCallLogEndpoint)
	switch {
	case err != nil:
		return output.Check{Name: "call log", Detail: err.Error()}
	case state == nil:
		return output.Check{Name: "call log", OK: true, Detail: "empty"}
	default:
		return output.Check{Name: "call log", OK: true, Detail: fmt.Sprintf("%d call(s), updated %s", len(state.Calls), formatTimeAgo(state.UpdatedAt))}
	}
}

func quoteKeyHint(ok bool) string {
	if ok {
		return ""
	}
	return fmt.Sprintf(" (set %sQUOTES_API_KEY)", envPrefix())
}

func describeAIBackend(cfg *config.Config) string {
	if len(cfg.AILink.Providers) == 0 {
		return "not configured; reports skip insights and chat is disabled"
	}
	enabled := 0
	for _, p := range cfg.AILink.Providers {
		if p.Enabled {
			enabled++
		}
	}
	return fmt.Sprintf("%d provider(s), %d enabled", len(cfg.AILink.Providers), enabled)
}

var (
	doctorInitForce     bool
	doctorInitQuotesKey string
	doctorResetConfig   bool
	doctorResetData     bool
	doctorResetAll      bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		quotesKey := strings.TrimSpace(doctorInitQuotesKey)
		if strings.EqualFold(quotesKey, "prompt") {
			key, err := promptForValue("Enter Finnhub API key (leave blank to use the simulated provider): ")
			if err != nil {
				return err
			}
			quotesKey = key
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		mode := os.FileMode(0644)
		if quotesKey != "" {
			mode = 0600
		}

		if err := os.WriteFile(configPath, []byte(buildInitConfig(quotesKey)), mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration paths and effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dataDir := gfconfig.GetAppDataDir(config.AppName)
		settings := []output.Check{
			{Name: "config file", OK: true, Detail: orDash(viper.ConfigFileUsed())},
			{Name: "data directory", OK: dataDir != "", Detail: fmt.Sprintf("%s (%s)", dataDir, existenceStatus(fileExists(dataDir)))},
			{Name: "database", OK: true, Detail: describeDatabase(cfg.Store)},
			{Name: "market", OK: true, Detail: fmt.Sprintf("%s %s %s-%s", cfg.Market.Exchange, cfg.Market.Timezone, cfg.Market.RegularOpen, cfg.Market.RegularClose)},
			{Name: "refresh", OK: true, Detail: fmt.Sprintf("%d calls/min, cache %s, debounce %s, interval %s", cfg.Refresh.MaxCallsPerMinute, cfg.Refresh.CacheTTL, cfg.Refresh.Debounce, cfg.Refresh.Interval)},
			{Name: "breaker", OK: true, Detail: fmt.Sprintf("%d failures, cool-down %s", cfg.Breaker.FailureThreshold, cfg.Breaker.CoolDown)},
			{Name: envPrefix() + "QUOTES_API_KEY", OK: true, Detail: envStatus(envPrefix() + "QUOTES_API_KEY")},
			{Name: envPrefix() + "AUTH_JWT_SECRET", OK: true, Detail: envStatus(envPrefix() + "AUTH_JWT_SECRET")},
		}
		text, err := output.Checks(format, settings)
		if err != nil {
			return err
		}
		return emit(cmd, "doctor.config", format, text)
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}

			absPath, _ := filepath.Abs(cfg.Store.Path)
			if err := os.Remove(absPath); err == nil {
				observability.CLILogger.Info("Database removed", zap.String("path", absPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Database already removed", zap.String("path", absPath))
			} else {
				return fmt.Errorf("remove database: %w", err)
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", orDash(viper.ConfigFileUsed())))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)
	addOutputTargetFlags(doctorCmd)
	addOutputTargetFlags(doctorConfigCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitQuotesKey, "quotes-key", "", "set the Finnhub api key or use 'prompt' to enter")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func buildInitConfig(quotesKey string) string {
	lines := []string{
		"# quotelens config - created by 'quotelens doctor init'",
		"refresh:",
		"  max_calls_per_minute: 5",
		"  cache_ttl: 30s",
		"  interval: 60s",
		"quotes:",
	}

	if quotesKey != "" {
		lines = append(lines,
			"  provider: finnhub",
			fmt.Sprintf("  api_key: %q", quotesKey),
		)
	} else {
		lines = append(lines,
			"  provider: sim",
			fmt.Sprintf("  # provider: finnhub  # api key via %sQUOTES_API_KEY", envPrefix()),
		)
	}

	lines = append(lines,
		"ailink:",
		"  default_provider: insights-xai",
		"  providers:",
		"    insights-xai:",
		"      enabled: false",
		"      ai_provider: xai",
		"      base_url: https://api.x.ai/v1",
		"      roles: [insight, chat]",
		"      models:",
		"        default: grok-4-1-fast-reasoning",
		"      credentials:",
		"        - label: default",
		"          priority: 0",
		fmt.Sprintf("          # api_key via %sAILINK_PROVIDERS_INSIGHTS_XAI_CREDENTIALS_0_API_KEY", envPrefix()),
	)

	return strings.Join(lines, "\n") + "\n"
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func envPrefix() string {
	return config.EnvPrefix + "_"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
