// Package main runs the ad inventory HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/itranswarp/backend/config"
	"github.com/itranswarp/backend/internal/ads"
	"github.com/itranswarp/backend/internal/assets"
	"github.com/itranswarp/backend/internal/auth"
	"github.com/itranswarp/backend/internal/middleware"
	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/internal/worker"
	"github.com/itranswarp/backend/pkg/clock"
	"github.com/itranswarp/backend/pkg/database"
	"github.com/itranswarp/backend/pkg/events"
	"github.com/itranswarp/backend/pkg/queue"
	"github.com/itranswarp/backend/pkg/redis"
	"github.com/itranswarp/backend/pkg/response"
	"github.com/itranswarp/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.AdsBucket,
		PublicBaseURL:   cfg.AWS.PublicBaseURL,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	clk := clock.System{Location: cfg.Ads.Location}
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	if err := auth.EnsureAdmin(ctx, authRepo, cfg.Admin.Email, cfg.Admin.Password, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	// Creative images
	jobQueue := queue.NewQueue(rdb.Client, logger)
	assetService := assets.New(s3Client, jobQueue, logger)

	// Ad inventory
	adRepo := ads.NewRepository(pool)
	inventory := ads.NewInventory(adRepo, authRepo, assetService, clk, logger)
	serving := ads.NewServingCache(redis.NewCache(rdb), adRepo, func(ref string) string {
		return assetService.URLFor(ref, assets.SizeFitted)
	}, clk, ads.CacheOptions{Key: cfg.Ads.CacheKey, TTL: cfg.Ads.CacheTTL}, logger)

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	inventory.OnCommit(serving.Hook())
	inventory.OnCommit(ads.MetricsHook())
	if publisher != nil {
		inventory.OnCommit(ads.EventHook(publisher, clk, logger))
		logger.Info("inventory change events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	adHandler := ads.NewHandler(inventory, serving, clk, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public serving snapshot is rate limited per client IP.
	public := router.Group("")
	public.Use(middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Limit())

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/api/users", middleware.RequireRole(models.RoleAdmin), authHandler.List)
		api.POST("/api/users", middleware.RequireRole(models.RoleAdmin), authHandler.Create)
	}
	adHandler.RegisterRoutes(public, api)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (creative image deletion)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Ads.WorkerInline {
		processor := worker.NewAssetReleaseProcessor(assetService, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("asset worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
