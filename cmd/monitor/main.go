package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"autosell/internal/client/polymarket/clob"
	"autosell/internal/client/tradeskill"
	"autosell/internal/config"
	cronrunner "autosell/internal/cron"
	"autosell/internal/db"
	"autosell/internal/feed"
	"autosell/internal/handler"
	"autosell/internal/logger"
	gormrepository "autosell/internal/repository/gorm"
	"autosell/internal/service"

	_ "autosell/docs"
)

func main() {
	cfgPath := os.Getenv("AS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
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

	clobHTTP := &http.Client{Timeout: cfg.ClobREST.Timeout}
	clobClient := clob.NewClient(clobHTTP, cfg.ClobREST.BaseURL)
	tradeHTTP := &http.Client{Timeout: cfg.TradeSkill.Timeout}
	tradeClient := tradeskill.NewClient(tradeHTTP, cfg.TradeSkill.BaseURL, cfg.TradeSkill.APIKey)

	eventLog := &service.EventLogService{Repo: store, Logger: logger}
	monitor := &service.PositionMonitor{
		Repo:   store,
		Trade:  tradeClient,
		Clob:   clobClient,
		Logger: logger,
	}
	executor := &service.RuleExecutor{
		Repo:   store,
		Trade:  tradeClient,
		Events: eventLog,
		Logger: logger,
	}
	ruleSvc := &service.RuleService{Repo: store, Events: eventLog, Logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := &service.MonitoringWorker{
		Repo:     store,
		Monitor:  monitor,
		Executor: executor,
		Events:   eventLog,
		Logger:   logger,
		Config:   cfg.Worker,
		NewFeed: func() *feed.PriceFeed {
			return feed.New(feed.Options{
				URL:               cfg.PriceFeed.URL,
				KeepAliveInterval: cfg.PriceFeed.KeepAliveInterval,
				PingTimeout:       cfg.PriceFeed.PingTimeout,
				InitialDelay:      cfg.PriceFeed.InitialDelay,
				MaxDelay:          cfg.PriceFeed.MaxDelay,
				Multiplier:        cfg.PriceFeed.Multiplier,
				UpdateBuffer:      cfg.PriceFeed.UpdateBuffer,
				RecordRawEvents:   cfg.PriceFeed.RecordRawEvents,
				Recorder:          store,
				Logger:            logger,
			})
		},
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Worker: worker}
	healthHandler.Register(engine)
	ruleHandler := &handler.RuleHandler{Rules: ruleSvc, Events: eventLog}
	ruleHandler.Register(engine)
	positionHandler := &handler.PositionHandler{Repo: store}
	positionHandler.Register(engine)
	workerHandler := &handler.WorkerHandler{Worker: worker, BaseCtx: ctx}
	workerHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		_, err = cronRunner.Add("@every 10m", func(ctx context.Context) {
			cutoff := time.Now().UTC().Add(-cfg.Cron.RawEventRetention)
			n, err := store.DeleteRawWSEventsBefore(ctx, cutoff)
			if err != nil {
				logger.Warn("raw ws event cleanup failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("deleted old raw ws events", zap.Int64("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register raw event cleanup failed", zap.Error(err))
		}
		_, err = cronRunner.Add("@every 30m", func(ctx context.Context) {
			n, err := monitor.PruneStale(ctx, cfg.Cron.PositionStaleness)
			if err != nil {
				logger.Warn("stale position prune failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("pruned stale positions", zap.Int64("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register position prune failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if cfg.Worker.AutoStart {
		if err := worker.Start(ctx); err != nil {
			logger.Warn("worker auto-start failed", zap.Error(err))
		}
	}

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

	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
