package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finexplain/api"
	"finexplain/cache"
	"finexplain/config"
	"finexplain/database"
	"finexplain/llm"
	"finexplain/market"
	"finexplain/notifications"
	"finexplain/pipeline"
	"finexplain/rag"
	"finexplain/realtime"
)

// App represents the main application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	db       *database.Database
	redis    *cache.RedisClient
	runRepo  *database.RunRepository
	broker   *realtime.Broker
	webhooks *notifications.WebhookManager
	pipeline *pipeline.Pipeline
}

// New creates a new application instance
func New(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		config: cfg,
		logger: logger,
		broker: realtime.NewBroker(logger.Named("broker")),
	}
}

// Pipeline returns the pipeline built by Init
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Init builds the cache, market client, collector, LLM providers and pipeline.
// withDatabase also connects run persistence when it is enabled in config.
func (a *App) Init(ctx context.Context, withDatabase bool) error {
	cfg := a.config

	// 1. Response cache
	var store cache.Store = cache.NewMemoryStore()
	if cfg.Redis.Enabled {
		a.logger.Info("🧠 Connecting to Redis...")
		if rc := cache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, a.logger); rc != nil {
			a.redis = rc
			store = rc
		} else {
			a.logger.Warn("⚠️  Redis unavailable, using in-process cache")
		}
	}

	// 2. Market data and document collection
	marketClient := market.NewClient(
		market.WithBaseURL(cfg.Yahoo.BaseURL),
		market.WithSearchURL(cfg.Yahoo.SearchURL),
		market.WithCredentials(cfg.Yahoo.Crumb, cfg.Yahoo.Cookie),
		market.WithHTTPClient(&http.Client{Timeout: cfg.Yahoo.Timeout}),
		market.WithRateLimit(cfg.Yahoo.RateLimit),
		market.WithCache(store, cfg.Yahoo.CacheTTL),
		market.WithLogger(a.logger.Named("market")),
	)
	collector := rag.NewCollector(marketClient,
		rag.WithCandleRange(cfg.Pipeline.CandleInterval, cfg.Pipeline.CandleRange),
		rag.WithNewsLimit(cfg.Pipeline.NewsLimit),
		rag.WithCollectorLogger(a.logger.Named("collector")),
	)

	// 3. LLM providers
	provider, err := llm.NewProvider(ctx, llm.Settings{
		Provider:    llm.ProviderType(cfg.LLM.Provider),
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, a.logger.Named("llm"))
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}
	a.logger.Info("✅ LLM provider ready", zap.String("provider", cfg.LLM.Provider), zap.String("model", cfg.LLM.Model))

	var consistency llm.Provider
	if cfg.Verifier.Provider != "" {
		model := cfg.Verifier.Model
		if model == "" {
			model = cfg.LLM.Model
		}
		consistency, err = llm.NewProvider(ctx, llm.Settings{
			Provider:    llm.ProviderType(cfg.Verifier.Provider),
			Endpoint:    cfg.Verifier.Endpoint,
			APIKey:      cfg.Verifier.APIKey,
			Model:       model,
			Timeout:     cfg.LLM.Timeout,
			Temperature: 0,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, a.logger.Named("verifier"))
		if err != nil {
			return fmt.Errorf("verifier provider: %w", err)
		}
		a.logger.Info("✅ Consistency verifier ready", zap.String("provider", cfg.Verifier.Provider), zap.String("model", model))
	} else {
		a.logger.Info("ℹ️  Consistency verifier not configured, using rule-based check")
	}

	// 4. Pipeline
	a.pipeline = pipeline.New(collector, provider, consistency, pipeline.Options{
		MaxAttempts:           cfg.Pipeline.MaxAttempts,
		SignalBudgetChars:     cfg.Pipeline.SignalBudgetChars,
		CompactRefBudgetChars: cfg.Pipeline.CompactRefBudgetChars,
		PromptVersion:         cfg.Pipeline.PromptVersion,
		RagVersion:            cfg.Pipeline.RagVersion,
		StrictConsistency:     cfg.Pipeline.StrictConsistency,
	}, a.logger.Named("pipeline"))

	// 5. Run persistence
	if withDatabase && cfg.Database.Enabled {
		a.logger.Info("🗄️  Connecting to database...")
		db, err := database.Connect(cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User, cfg.Database.Password)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		a.db = db
		a.runRepo = database.NewRunRepository(db)
		if err := a.runRepo.InitSchema(); err != nil {
			return fmt.Errorf("schema initialization failed: %w", err)
		}
		a.logger.Info("✅ Run history enabled")
	}

	return nil
}

// Start initializes everything, serves the API and blocks until SIGINT/SIGTERM
func (a *App) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Init(ctx, true); err != nil {
		a.Close()
		return err
	}

	go a.broker.Run(ctx)

	if hooks := a.config.Webhook; len(hooks.URLs) > 0 {
		a.webhooks = notifications.NewWebhookManager(
			notifications.HooksFromURLs(hooks.URLs, hooks.AuthHeader, hooks.AuthValue, hooks.Symbols),
			hooks.RetryCount, hooks.RetryDelay, a.logger.Named("webhook"),
		)
		a.broker.OnNotice(a.webhooks.Send)
		a.logger.Info("✅ Run webhooks enabled", zap.Int("count", len(hooks.URLs)))
	}

	// Interface values must stay nil when persistence is off
	var store api.RunStore
	var health api.HealthChecker
	if a.runRepo != nil {
		store = a.runRepo
		health = a.db
	}
	server := api.NewServer(a.pipeline, store, health, a.broker, a.logger.Named("api"))

	err := server.Start(ctx, a.config.Server.Port)
	a.logger.Info("🛑 Shutdown signal received, closing resources")
	a.Close()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases the database and cache connections
func (a *App) Close() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if a.webhooks != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.webhooks.Wait(ctx)
			cancel()
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.logger.Warn("Error closing database", zap.Error(err))
			} else {
				a.logger.Info("✅ Database connection closed")
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("Error closing redis", zap.Error(err))
			} else {
				a.logger.Info("✅ Redis connection closed")
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		a.logger.Warn("⚠️  Shutdown timeout exceeded")
	}
}
