package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"marketplacer/internal/cache"
	"marketplacer/internal/collector"
	"marketplacer/internal/config"
	cronrunner "marketplacer/internal/cron"
	"marketplacer/internal/db"
	"marketplacer/internal/handler"
	"marketplacer/internal/logger"
	"marketplacer/internal/metrics"
	"marketplacer/internal/models"
	"marketplacer/internal/notify"
	"marketplacer/internal/paas"
	"marketplacer/internal/ratelimit"
	gormrepository "marketplacer/internal/repository/gorm"
	"marketplacer/internal/scheduler"
	"marketplacer/internal/service"
	"marketplacer/internal/taskqueue"
	"marketplacer/internal/worker"

	_ "marketplacer/docs"
)

func main() {
	cfgPath := os.Getenv("MP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("MP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, "marketplacer-collector")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}
	store := gormrepository.New(dbConn.Gorm)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed (falling back to memory)", zap.Error(err))
			rdb = nil
		}
		cancel()
	}

	var dedup cache.Store = cache.NewMemoryStore()
	var spacer ratelimit.Spacer = ratelimit.NewMemorySpacer()
	if rdb != nil {
		dedup = cache.NewRedisStore(rdb, cfg.Redis.Prefix)
		if strings.EqualFold(cfg.RateLimit.Backend, "redis") {
			spacer = ratelimit.NewRedisSpacer(rdb, cfg.Redis.Prefix)
		}
	}

	notifier := &notify.Notifier{
		Senders: initSenders(cfg.Notify, logger),
		Cache:   dedup,
		TTL:     cfg.Notify.DedupTTL,
		Logger:  logger,
	}

	metrics.InitMetrics(cfg.Workers.Size, models.MarketplaceWildberries, models.MarketplaceOzon)

	queue := taskqueue.New(taskqueue.Options{
		BaseBackoff: cfg.Queue.BaseBackoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})
	registry := collector.NewRegistry()
	builder := &service.CollectorBuilder{
		Store:       store,
		Alerts:      notifier,
		Logger:      logger,
		Sync:        cfg.Sync,
		Wildberries: cfg.Wildberries,
		Ozon:        cfg.Ozon,
	}
	registrySync := &service.RegistrySync{
		Repo:     store,
		Registry: registry,
		Build:    builder.Build,
		Logger:   logger,
	}
	if f, ok := spacer.(ratelimit.Forgetter); ok {
		registrySync.Limits = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registrySync.Refresh(ctx); err != nil {
		logger.Warn("initial registry refresh failed", zap.Error(err))
	}

	pool := worker.New(queue, registry, spacer, store, notifier, logger, worker.Options{
		Size:           cfg.Workers.Size,
		DequeueTimeout: cfg.Queue.DequeueTimeout,
		JoinTimeout:    cfg.Workers.JoinTimeout,
		Intervals: map[string]time.Duration{
			models.MarketplaceWildberries: cfg.RateLimit.Wildberries,
			models.MarketplaceOzon:        cfg.RateLimit.Ozon,
		},
	})
	pool.Start(ctx)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Warn("unknown scheduler timezone, using UTC", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
		loc = time.UTC
	}
	sched := scheduler.New(queue, store, logger, scheduler.Options{
		DailyStockHour:     cfg.Scheduler.DailyStockHour,
		Location:           loc,
		ManualPollInterval: cfg.Scheduler.ManualPollInterval,
		ManualBatchSize:    cfg.Scheduler.ManualBatchSize,
		ManualStaleAfter:   cfg.Scheduler.ManualStaleAfter,
	})

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		err := sched.Register(cronRunner, scheduler.Specs{
			Short:           cfg.Cron.Short,
			Medium:          cfg.Cron.Medium,
			Long:            cfg.Cron.Long,
			RetryDrain:      cfg.Cron.RetryDrain,
			RegistryRefresh: cfg.Cron.RegistryRefresh,
		}, registrySync.Refresh)
		if err != nil {
			logger.Fatal("cron register failed", zap.Error(err))
		}
	}
	cronRunner.Start()

	if cfg.Scheduler.StartupPass {
		n, err := sched.StartupPass(ctx)
		if err != nil {
			logger.Warn("startup pass failed", zap.Error(err))
		} else {
			logger.Info("startup pass enqueued", zap.Int("tasks", n))
		}
	}

	go func() {
		if err := sched.RunManualDrain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("manual task drain stopped", zap.Error(err))
		}
	}()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(paas.RequireBearerMiddleware(cfg.Server.AuthToken))

	healthHandler := &handler.HealthHandler{
		DB:      func(ctx context.Context) error { return db.Ping(ctx, dbConn) },
		Workers: pool.Running,
	}
	healthHandler.Register(engine)
	paas.RegisterDocs(engine)
	queueHandler := &handler.QueueHandler{Queue: queue, Collectors: registry, Workers: pool.Size()}
	queueHandler.Register(engine)
	syncStates := &handler.SyncStateHandler{Repo: store}
	syncStates.Register(engine)
	collectionLogs := &handler.CollectionLogHandler{Repo: store}
	collectionLogs.Register(engine)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	cronRunner.Stop()
	if !pool.Stop() {
		logger.Warn("some tasks were abandoned at shutdown", zap.Int("in_flight", queue.Stats().InFlight))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func initSenders(cfg config.NotifyConfig, logger *zap.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		senders = append(senders, notify.TelegramSender{
			HTTP:     &http.Client{Timeout: 10 * time.Second},
			BaseURL:  cfg.Telegram.BaseURL,
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		})
	}
	if cfg.Email.Enabled && len(cfg.Email.To) > 0 {
		senders = append(senders, notify.NewEmailSender(cfg.Email))
	}
	if p := initPaaSClient(cfg.Platform, logger); p != nil {
		senders = append(senders, notify.PlatformSender{Client: p, Agent: cfg.Platform.Agent})
	}
	return senders
}

func initPaaSClient(cfg config.PlatformConfig, logger *zap.Logger) *paas.Client {
	if !cfg.Enabled || strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	p := paas.NewClient(cfg, &http.Client{Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Login(ctx); err != nil {
		logger.Warn("platform login failed (platform alerts disabled)", zap.Error(err))
		return nil
	}
	logger.Info("platform login ok")
	return p
}
