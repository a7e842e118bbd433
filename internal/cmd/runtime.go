package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/ailink"
	"github.com/quotelens/quotelens/internal/chat"
	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/market"
	"github.com/quotelens/quotelens/internal/core/quotes"
	"github.com/quotelens/quotelens/internal/core/quotes/finnhub"
	"github.com/quotelens/quotelens/internal/core/quotes/sim"
	"github.com/quotelens/quotelens/internal/core/report"
	"github.com/quotelens/quotelens/internal/core/store"
	"github.com/quotelens/quotelens/internal/core/watch"
	"github.com/quotelens/quotelens/internal/observability"
)

// quoteCallLogEndpoint keys the persisted quote limiter history.
const quoteCallLogEndpoint = "quotes"

// appRuntime holds every wired component. serve and the one-shot CLI
// commands build it the same way so both share one limiter budget.
type appRuntime struct {
	cfg    *config.Config
	logger observability.FieldLogger

	store    *store.Store
	schedule *market.Schedule
	breaker  *quotes.Breaker
	limiter  *engine.RateLimiter
	single   *engine.Coordinator[core.Quote]
	multi    *engine.Coordinator[[]core.Quote]

	watch   *watch.Service
	reports *report.Service

	ai             *ailink.Service
	insights       *ailink.InsightBatcher
	insightLimiter *engine.RateLimiter
	chatLimiter    *engine.RateLimiter
	chats          *chat.Manager

	closeOnce sync.Once
}

type runtimeOptions struct {
	// withStore opens and migrates the database.
	withStore bool
	// restoreCallLog seeds the limiter from the stored call log.
	restoreCallLog bool
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger observability.FieldLogger, opts runtimeOptions) (*appRuntime, error) {
	logger = observability.OrNop(logger)
	rt := &appRuntime{cfg: cfg, logger: logger}

	schedule, err := buildSchedule(cfg.Market)
	if err != nil {
		return nil, err
	}
	rt.schedule = schedule

	if opts.withStore {
		db, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.store = db
	}

	inner, err := buildProvider(cfg.Quotes)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	rt.breaker = quotes.NewBreaker(inner, quotes.BreakerSettings{
		Name:             inner.Name(),
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		CoolDown:         cfg.Breaker.CoolDown,
		HalfOpenRequests: uint32(cfg.Breaker.HalfOpenRequests),
		Interval:         cfg.Breaker.Interval,
	}, logger)

	rt.limiter = engine.NewRateLimiter(cfg.Refresh.MaxCallsPerMinute, nil)
	if opts.restoreCallLog && rt.store != nil {
		state, err := rt.store.LoadCallLog(ctx, quoteCallLogEndpoint)
		if err != nil {
			logger.Warn("Failed to restore quote call log", zap.Error(err))
		} else if state != nil {
			rt.limiter.Restore(state.Calls)
		}
	}

	rt.single = engine.NewCoordinator(engine.CoordinatorOptions[core.Quote]{
		Name:            "quote",
		Delay:           cfg.Refresh.Debounce,
		Cache:           engine.NewTTLCache[core.Quote](cfg.Refresh.CacheTTL, nil),
		Limiter:         rt.limiter,
		UpstreamTimeout: cfg.Refresh.UpstreamTimeout,
		Logger:          logger,
	})
	rt.multi = engine.NewCoordinator(engine.CoordinatorOptions[[]core.Quote]{
		Name:            "quotes",
		Delay:           cfg.Refresh.Debounce,
		Cache:           engine.NewTTLCache[[]core.Quote](cfg.Refresh.CacheTTL, nil),
		Limiter:         rt.limiter,
		UpstreamTimeout: cfg.Refresh.UpstreamTimeout,
		Logger:          logger,
	})

	var watchStore watch.Store
	var reportStore report.Store
	if rt.store != nil {
		watchStore = rt.store
		reportStore = rt.store
	}
	rt.watch, err = watch.NewService(watch.Options{
		Provider: rt.breaker,
		Single:   rt.single,
		Multi:    rt.multi,
		Limiter:  rt.limiter,
		Schedule: schedule,
		Store:    watchStore,
		Logger:   logger,
	})
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	router := ailink.NewRouter(ailink.NewRegistry(cfg.AILink), logger)
	rt.insightLimiter = optionalLimiter(cfg.Report.MaxAICallsPerMinute)
	rt.ai = ailink.NewService(ailink.ServiceOptions{
		Router:      router,
		InsightRole: cfg.Report.Role,
		ChatRole:    cfg.Chat.Role,
		CacheTTL:    cfg.AILink.CacheTTL,
		Limiter:     rt.insightLimiter,
		Logger:      logger,
	})

	var analyzer report.Analyzer
	if cfg.Report.AIEnabled && rt.ai.Available() {
		rt.insights = ailink.NewInsightBatcher(rt.ai, engine.BatchOptions{
			MaxBatchSize: cfg.Refresh.Batch.MaxSize,
			MinWait:      cfg.Refresh.Batch.MinWait,
			MaxWait:      cfg.Refresh.Batch.MaxWait,
		})
		analyzer = rt.insights
	}
	rt.reports, err = report.NewService(report.Options{
		Provider:    rt.breaker,
		Coordinator: rt.single,
		Breaker:     rt.breaker,
		Analyzer:    analyzer,
		Store:       reportStore,
		RetryDelay:  cfg.Report.RetryDelay,
		Logger:      logger,
	})
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	if cfg.Chat.Enabled && rt.ai.ChatAvailable() {
		rt.chatLimiter = optionalLimiter(cfg.Chat.MaxCallsPerMinute)
		rt.chats, err = chat.NewManager(chat.Options{
			Responder: rt.ai,
			// No cache: every chat send is a distinct upstream call.
			Coordinator: engine.NewCoordinator(engine.CoordinatorOptions[string]{
				Name:            "chat",
				Delay:           cfg.Chat.Debounce,
				Limiter:         rt.chatLimiter,
				UpstreamTimeout: cfg.AILink.DefaultTimeout,
				Logger:          logger,
			}),
			Quotes:     rt.watch.Quote,
			MaxHistory: cfg.Chat.MaxHistory,
			Logger:     logger,
		})
		if err != nil {
			rt.close(ctx)
			return nil, err
		}
	}

	return rt, nil
}

// saveCallLog persists the quote limiter history so the next invocation
// sees the same per-minute budget.
func (rt *appRuntime) saveCallLog(ctx context.Context) {
	if rt.store == nil || rt.limiter == nil {
		return
	}
	state := &core.CallLogState{
		Endpoint:  quoteCallLogEndpoint,
		Calls:     rt.limiter.Snapshot(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := rt.store.SaveCallLog(ctx, state); err != nil {
		rt.logger.Warn("Failed to save quote call log", zap.Error(err))
	}
}

// resetCaches drops cached quotes, used after a forced breaker reset.
func (rt *appRuntime) resetCaches() {
	rt.single.Cache().Clear()
	rt.multi.Cache().Clear()
}

func (rt *appRuntime) close(ctx context.Context) {
	rt.closeOnce.Do(func() { rt.shutdown(ctx) })
}

func (rt *appRuntime) shutdown(ctx context.Context) {
	if rt.watch != nil {
		rt.watch.StopAll()
	}
	if rt.insights != nil {
		rt.insights.Close()
	}
	if rt.chats != nil {
		rt.chats.Close()
	}
	if rt.single != nil {
		rt.single.Stop()
	}
	if rt.multi != nil {
		rt.multi.Stop()
	}
	if rt.store != nil {
		rt.saveCallLog(ctx)
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("Failed to close store", zap.Error(err))
		}
	}
}

func buildProvider(cfg config.QuotesConfig) (quotes.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "sim":
		return sim.New(nil), nil
	case "finnhub":
		client := finnhub.NewClient(cfg.BaseURL, cfg.APIKey, cfg.RequestsPerMinute)
		client.Timeout = cfg.Timeout
		return client, nil
	default:
		return nil, fmt.Errorf("unknown quote provider %q", cfg.Provider)
	}
}

func buildSchedule(cfg config.MarketConfig) (*market.Schedule, error) {
	exchange := market.DefaultExchange()
	override := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}
	override(&exchange.Name, cfg.Exchange)
	override(&exchange.Timezone, cfg.Timezone)
	override(&exchange.PreMarketOpen, cfg.PreMarketOpen)
	override(&exchange.RegularOpen, cfg.RegularOpen)
	override(&exchange.RegularClose, cfg.RegularClose)
	override(&exchange.AfterHoursClose, cfg.AfterHoursClose)

	calendar, err := market.NewCalendar(cfg.Holidays...)
	if err != nil {
		return nil, fmt.Errorf("market.holidays: %w", err)
	}
	if path := strings.TrimSpace(cfg.HolidaysFile); path != "" {
		fromFile, err := market.LoadCalendarFile(path)
		if err != nil {
			return nil, err
		}
		for _, h := range fromFile.Holidays() {
			if err := calendar.Add(h.Date, h.Name); err != nil {
				return nil, err
			}
		}
	}
	return market.NewSchedule(exchange, calendar, nil)
}

// optionalLimiter returns nil for a non-positive budget. A nil limiter admits
// every call.
func optionalLimiter(maxCallsPerMinute int) *engine.RateLimiter {
	if maxCallsPerMinute <= 0 {
		return nil
	}
	return engine.NewRateLimiter(maxCallsPerMinute, nil)
}
