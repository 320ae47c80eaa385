package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/yashrajoria/catalog-service/common/errors"
	"github.com/yashrajoria/catalog-service/common/logger"
	"github.com/yashrajoria/catalog-service/common/middleware"
	"github.com/yashrajoria/catalog-service/controllers"
	"github.com/yashrajoria/catalog-service/database"
	aws_pkg "github.com/yashrajoria/catalog-service/pkg/aws"
	"github.com/yashrajoria/catalog-service/repository"
	"github.com/yashrajoria/catalog-service/routes"
	"github.com/yashrajoria/catalog-service/services"
)

const serviceName = "catalog-service"

func main() {
	// Load .env file (optional, falls back to system env)
	_ = godotenv.Load()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	logger.Initialize(os.Getenv("APP_ENV"))
	defer func() { _ = logger.Log.Sync() }()

	cfg, err := LoadConfig(ctx)
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	// --- 1. Initialization ---
	awsCfg, err := aws_pkg.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		zap.L().Fatal("Failed to load AWS config", zap.Error(err))
	}

	if cfg.CloudWatchEnabled {
		cwLogs, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			zap.L().Warn("CloudWatch Logs unavailable, logging to console only", zap.Error(err))
		} else {
			logger.InitializeWithWriter(cfg.AppEnv, cwLogs)
		}
	}

	if err := database.Connect(ctx, database.Options{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDB,
		ConnectTimeout: cfg.MongoConnectTimeout,
		MaxPoolSize:    cfg.MongoMaxPoolSize,
	}); err != nil {
		zap.L().Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zap.L().Warn("Failed to parse REDIS_URL, falling back to default", zap.Error(err))
		redisOpts = &redis.Options{Addr: "redis:6379", DB: 0}
	}
	rdb := redis.NewClient(redisOpts)

	s3Client := aws_pkg.NewS3Client(awsCfg, cfg.S3Endpoint)
	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	// --- 2. Dependency Injection ---
	catalogRepo := repository.NewCatalogRepository(database.DB)
	if err := catalogRepo.EnsureIndexes(ctx); err != nil {
		zap.L().Warn("Failed to ensure catalog indexes", zap.Error(err))
	}
	assetStore := repository.NewS3AssetStore(
		s3Client,
		aws_pkg.NewS3PresignClient(s3Client),
		cfg.S3Bucket,
		cfg.S3StagingPrefix,
		cfg.S3Prefix,
		cfg.S3Endpoint,
		cfg.CloudFrontDomain,
	)
	metricsClient := aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)

	importService := services.NewImportService(services.ImportServiceDeps{
		Catalog:            catalogRepo,
		Categories:         repository.NewCategoryRepository(database.DB),
		Collections:        repository.NewCollectionRepository(database.DB),
		Attributes:         repository.NewAttributeRepository(database.DB),
		Staged:             repository.NewDynamoStagedAssetAdapter(ddbClient, cfg.StagedAssetTable),
		Assets:             assetStore,
		Transactor:         repository.NewMongoTransactor(database.MongoClient),
		Signer:             assetStore,
		Events:             aws_pkg.NewSNSClient(awsCfg),
		TopicArn:           cfg.CatalogTopicArn,
		Metrics:            metricsClient,
		Cache:              controllers.NewCacheManager(rdb),
		Logger:             zap.L().Named("import"),
		MaxRows:            cfg.ImportMaxRows,
		IdentifierAttempts: cfg.IdentifierAttempts,
		CommitTimeout:      cfg.CommitTimeout,
		StagedAssetTTL:     cfg.StagedAssetTTL,
	})
	jobStore := services.NewRedisJobStore(rdb, 0)

	worker := services.NewImportWorker(jobStore, importService, zap.L().Named("import-worker"))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	validator := controllers.NewRequestValidator()
	importHandler := controllers.NewImportHandler(importService, jobStore, validator, cfg.CommitTimeout)
	stagedHandler := controllers.NewStagedAssetHandler(importService, validator)

	// --- 3. HTTP Server & Middleware ---
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		logger.RequestID(),
		middleware.RequestLogger(zap.L()),
		middleware.MetricsMiddleware(metricsClient, serviceName),
		middleware.SecurityHeaders(),
		middleware.RequestTimeout(cfg.CommitTimeout+30*time.Second),
		apperrors.ErrorMiddleware(),
	)

	// --- 4. Route Registration ---
	limiter := middleware.NewRateLimiter(ctx, rate.Every(time.Minute/100), 50, 5*time.Minute)
	routes.RegisterImportRoutes(r, importHandler, stagedHandler, limiter)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	// --- 5. Graceful Shutdown ---
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		zap.L().Info("Catalog Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down Catalog Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop the worker; a job in flight finishes saving its status first.
	stop()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		zap.L().Warn("Import worker did not stop in time")
	}

	if err := rdb.Close(); err != nil {
		zap.L().Error("Failed to close Redis", zap.Error(err))
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := database.Close(closeCtx); err != nil {
		zap.L().Error("Failed to close MongoDB", zap.Error(err))
	}

	zap.L().Info("Catalog Service stopped gracefully")
}
