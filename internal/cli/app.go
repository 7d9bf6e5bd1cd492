package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ogulcanaydogan/hotel-price-guardian/internal/config"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/cache"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/engine"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/history"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/inventory"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/metrics"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/notify"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/quota"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/recommend"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/registry"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/storage"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/tokenizer"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/watcher"
)

// app holds the fully wired service.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.Storage
	cache     cache.Cache
	promReg   *prometheus.Registry
	metrics   *metrics.Metrics
	areas     *areas.Table
	inventory *inventory.Client
	alerts    *registry.Registry
	history   *history.Store
	engine    *engine.Engine
	watcher   *watcher.Watcher
}

// initApp wires storage, cache, provider clients, the engine and the watcher from config.
func initApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)

	table, err := areas.Load(cfg.Areas.File)
	if err != nil {
		return nil, fmt.Errorf("load areas: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	searchCache, err := initCache(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	inv := inventory.New(inventory.Config{
		BaseURL:           cfg.Provider.BaseURL,
		ClientID:          cfg.Provider.ClientID,
		ClientSecret:      cfg.Provider.ClientSecret,
		Timeout:           cfg.Provider.Timeout,
		TokenMargin:       cfg.Provider.TokenMargin,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		MaxResults:        cfg.Provider.MaxResults,
		DefaultAdults:     cfg.Provider.DefaultAdults,
		Fallback:          cfg.Provider.Fallback,
		CacheTTL:          cfg.Cache.TTL,
	}, table,
		inventory.WithCache(searchCache),
		inventory.WithMetrics(m),
		inventory.WithLogger(logger),
	)
	if !inv.Configured() {
		logger.Warn("provider credentials missing, serving generated prices")
	}

	alerts := registry.New(store, table, cfg.Alerts.MaxActivePerUser, logger).
		WithDefaultGuests(cfg.Provider.DefaultAdults)
	hist := history.NewStore(store)

	eng := engine.New(engine.Config{
		Interval:             cfg.Engine.Interval,
		EvaluationTimeout:    cfg.Engine.EvaluationTimeout,
		Cooldown:             cfg.Engine.Cooldown,
		FailureThreshold:     cfg.Engine.FailureThreshold,
		Concurrency:          cfg.Engine.Concurrency,
		NotifyOnDeactivation: cfg.Engine.NotifyOnDeactivation,
		RunOnStart:           cfg.Engine.RunOnStart,
	}, alerts, inv, hist, initNotifiers(cfg, logger), m, logger)

	counter, err := tokenizer.New(cfg.Recommend.Encoding)
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating prompt size", "encoding", cfg.Recommend.Encoding, "error", err)
		counter = nil
	}
	advisor := recommend.New(recommend.Config{
		BaseURL:      cfg.Recommend.BaseURL,
		APIKey:       cfg.Recommend.APIKey,
		Model:        cfg.Recommend.Model,
		MaxTokens:    cfg.Recommend.MaxTokens,
		PromptBudget: cfg.Recommend.PromptBudget,
		Timeout:      cfg.Recommend.Timeout,
	}, counter, logger)

	w := watcher.New(watcher.Deps{
		Quota:     quota.NewTracker(store, cfg.Quota.DailyActions, cfg.Quota.Window, m, logger),
		Areas:     table,
		Inventory: inv,
		Alerts:    alerts,
		History:   hist,
		Checker:   eng,
		Advisor:   advisor,
		Logger:    logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		cache:     searchCache,
		promReg:   promReg,
		metrics:   m,
		areas:     table,
		inventory: inv,
		alerts:    alerts,
		history:   hist,
		engine:    eng,
		watcher:   w,
	}, nil
}

// Close releases the cache and the store.
func (a *app) Close() error {
	return errors.Join(a.cache.Close(), a.store.Close())
}

// initCache uses Redis when an address is configured and process memory otherwise.
func initCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.TTL <= 0 {
		return cache.Nop{}, nil
	}
	if cfg.Cache.RedisAddr == "" {
		return cache.NewMemory(), nil
	}
	c, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.Prefix)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return c, nil
}

// initNotifiers creates notification sinks from config.
func initNotifiers(cfg *config.Config, logger *slog.Logger) []notify.Notifier {
	var notifiers []notify.Notifier

	if cfg.Notify.Log {
		notifiers = append(notifiers, notify.NewLogNotifier(logger))
	}

	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.BotToken != "" {
		notifiers = append(notifiers, notify.NewTelegramNotifier(
			cfg.Notify.Telegram.BaseURL,
			cfg.Notify.Telegram.BotToken,
		))
	}

	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(
			cfg.Notify.Slack.WebhookURL,
			cfg.Notify.Slack.Channel,
		))
	}

	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(
			cfg.Notify.Webhook.URL,
			cfg.Notify.Webhook.Secret,
		))
	}

	return notifiers
}
