package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core/quotes"
	errwrap "github.com/quotelens/quotelens/internal/errors"
	"github.com/quotelens/quotelens/internal/metrics"
	"github.com/quotelens/quotelens/internal/observability"
	"github.com/quotelens/quotelens/internal/server"
	"github.com/quotelens/quotelens/internal/server/handlers"
	servermw "github.com/quotelens/quotelens/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// breakerHealthChecker reports degraded while the quote breaker is open.
type breakerHealthChecker struct {
	breaker *quotes.Breaker
}

func (b breakerHealthChecker) CheckHealth(ctx context.Context) error {
	if b.breaker.IsOpen() {
		return handlers.ErrDegraded
	}
	return nil
}

// storeHealthChecker probes the database with a cheap metadata read.
func storeHealthChecker(rt *appRuntime) handlers.HealthCheckFunc {
	return func(ctx context.Context) error {
		if rt.store == nil {
			return handlers.ErrDegraded
		}
		_, err := rt.store.GetMeta(ctx, "schema_version")
		return err
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

The /api/v1 routes serve quotes, watchlists, refresh streams, reports and
chat. Health probes live under /health and metrics under /metrics.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (logging level only; restart for the rest)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		rt, err := buildRuntime(cmd.Context(), cfg, logger, runtimeOptions{withStore: true, restoreCallLog: true})
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "runtime initialization failed")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("quote_provider", rt.breaker.Name()),
			zap.Int("max_calls_per_minute", rt.limiter.Limit()),
			zap.Bool("ai_insights", rt.insights != nil),
			zap.Bool("chat", rt.chats != nil))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("quote_breaker", breakerHealthChecker{breaker: rt.breaker})
		hm.RegisterChecker("store", storeHealthChecker(rt))

		handlers.SetAppIdentity(identity)
		handlers.SetQuoteProvider(rt.breaker.Name(), quotes.Capabilities(rt.breaker))

		srv := server.New(cfg.Server.Host, cfg.Server.Port)
		srv.SetTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)
		srv.MountAPI(newAPI(rt), servermw.AuthConfig{
			Required:    cfg.Auth.Required,
			Secret:      []byte(cfg.Auth.JWTSecret),
			DefaultUser: cfg.Auth.DefaultUser,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP first, then components, then the logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		if cfg.Metrics.Enabled {
			signals.OnShutdown(func(ctx context.Context) error {
				return observability.ShutdownMetrics()
			})
		}

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping refresh loops and closing store...")
			rt.close(ctx)
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if _, err := config.ReadConfigFile(viper.GetViper(), cfgFile); err != nil {
				logger.Error("Failed to reload config file", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			reloaded, err := config.Load(viper.GetViper())
			if err != nil {
				logger.Error("Reloaded config is invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			if reloaded.Logging.Level != cfg.Logging.Level {
				observability.SetLogLevel(logger, reloaded.Logging.Level)
				logger.Info("Log level updated", zap.String("level", reloaded.Logging.Level))
			}
			logger.Info("Configuration reloaded",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		metrics.SetServerStartTime(time.Now())
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			rt.close(context.Background())
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// newAPI adapts the runtime to the HTTP handler set.
func newAPI(rt *appRuntime) *handlers.API {
	return &handlers.API{
		Watch:          rt.watch,
		Reports:        rt.reports,
		Chat:           rt.chats,
		Schedule:       rt.schedule,
		Limiter:        rt.limiter,
		ChatLimiter:    rt.chatLimiter,
		InsightLimiter: rt.insightLimiter,
		Breaker:        rt.breaker,
		ResetCaches:    rt.resetCaches,
		StreamInterval: rt.cfg.Refresh.Interval,
		Logger:         rt.logger,
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
