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

	"listingops/internal/auth"
	"listingops/internal/client/listing"
	"listingops/internal/config"
	cronrunner "listingops/internal/cron"
	"listingops/internal/db"
	"listingops/internal/handler"
	"listingops/internal/logger"
	"listingops/internal/progress"
	gormrepository "listingops/internal/repository/gorm"
	"listingops/internal/service"

	_ "listingops/docs"
)

func main() {
	cfgPath := os.Getenv("LO_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("LO_ENV_ONLY"); envOnlyRaw != "" {
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

	listingHTTP := &http.Client{Timeout: cfg.Listing.Timeout}
	listingClient := listing.NewHTTPClient(listingHTTP, cfg.Listing.BaseURL)
	store := gormrepository.New(dbConn.Gorm)
	progressCache := progress.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Sync.ProgressTTL)
	defer progressCache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncService := &service.SyncService{
		Repo:       store,
		Listing:    listingClient,
		Reconciler: &service.Reconciler{Repo: store, Logger: logger},
		Progress:   progressCache,
		Logger:     logger,
		Config:     cfg.Sync,
		BaseCtx:    ctx,
	}
	rankJobService := &service.RankJobService{Repo: store, Logger: logger, Config: cfg.Rank}
	rankLogService := &service.RankLogService{Repo: store, Logger: logger}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(auth.RequireBearerMiddleware(auth.JWT{Secret: []byte(cfg.Auth.Secret)}))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	syncHandler := &handler.SyncHandler{Service: syncService}
	syncHandler.Register(engine)
	rankHandler := &handler.RankHandler{Jobs: rankJobService, Logs: rankLogService}
	rankHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.RankEnqueue, func(ctx context.Context) {
			n, err := rankJobService.EnqueueDailyJobs(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("daily rank enqueue failed", zap.Error(err))
				return
			}
			logger.Info("daily rank jobs enqueued", zap.Int("count", n))
		})
		if err != nil {
			logger.Warn("cron register rank enqueue failed", zap.Error(err))
		}

		_, err = cronRunner.Add(cfg.Cron.ReviewSync, func(ctx context.Context) {
			batch, err := syncService.Start(ctx, "review", nil, nil)
			if err != nil {
				logger.Warn("cron review sync failed to start", zap.Error(err))
				return
			}
			logger.Info("cron review sync started", zap.Uint64("batch_id", batch.ID))
		})
		if err != nil {
			logger.Warn("cron register review sync failed", zap.Error(err))
		}

		_, err = cronRunner.Add(cfg.Cron.JobReaper, func(ctx context.Context) {
			n, err := rankJobService.ReapStale(ctx)
			if err != nil {
				logger.Warn("rank job reaper failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("stale rank jobs reaped", zap.Int("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register job reaper failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
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
