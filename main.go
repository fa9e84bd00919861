package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/adapters/awsbatch"
	"github.com/hca-atlas-tracker/tracker/pkg/adapters/s3store"
	"github.com/hca-atlas-tracker/tracker/pkg/adapters/snsverify"
	"github.com/hca-atlas-tracker/tracker/pkg/auth"
	"github.com/hca-atlas-tracker/tracker/pkg/cache"
	"github.com/hca-atlas-tracker/tracker/pkg/config"
	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/handlers"
	"github.com/hca-atlas-tracker/tracker/pkg/logging"
	"github.com/hca-atlas-tracker/tracker/pkg/middleware"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
	"github.com/hca-atlas-tracker/tracker/pkg/retry"
	"github.com/hca-atlas-tracker/tracker/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("aws_region", cfg.AWS.Region))

	if cfg.MigrationsOnStartup {
		if err := migrate(cfg, logger); err != nil {
			return err
		}
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		// The cache only accelerates reads; serve without it.
		logger.Warn("Task count cache disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("load AWS configuration: %w", err)
	}

	// Repositories
	conceptRepo := repositories.NewConceptRepository(db)
	fileRepo := repositories.NewFileRepository(db)
	versionRepo := repositories.NewVersionRepository(db)
	atlasRepo := repositories.NewAtlasRepository(db)
	validationRepo := repositories.NewValidationRepository(db)

	// Services
	taskCounts := cache.NewTaskCountCache(redisClient, cfg.Redis.CacheTTL, logger)
	versionService := services.NewVersionService(db, conceptRepo, versionRepo, logger)
	ingestionService := services.NewIngestionService(db, &cfg.Validator, conceptRepo, fileRepo, atlasRepo, versionService, logger)
	dispatcher := services.NewValidationDispatcher(&cfg.Validator, awsbatch.NewSubmitter(batch.NewFromConfig(awsCfg)), logger)
	validationService := services.NewValidationService(db, fileRepo, dispatcher, retry.DefaultConfig(), logger)
	aggregateService := services.NewAtlasAggregateService(atlasRepo, validationRepo, taskCounts, logger)
	reconciler := services.NewValidationReconciler(db, fileRepo, versionRepo, atlasRepo, validationRepo, aggregateService, logger)
	syncService := services.NewFileSyncService(s3store.NewLister(s3.NewFromConfig(awsCfg), cfg.AWS.ListTimeout), &cfg.Validator, fileRepo, ingestionService, logger)

	// Auth
	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("create JWKS client: %w", err)
	}
	defer jwksClient.Close()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewSNSHandler(
		handlers.SNSTopics{Storage: cfg.AWS.StorageTopicARN, ValidatorResults: cfg.Validator.ResultTopicARN},
		ingestionService, validationService, reconciler,
		snsverify.NewVerifier(&snsverify.HTTPCertFetcher{Client: &http.Client{Timeout: 10 * time.Second}}),
		&handlers.HTTPSubscriptionConfirmer{Client: &http.Client{Timeout: 10 * time.Second}},
		logger,
	).RegisterRoutes(mux)
	handlers.NewFileHandler(validationService, syncService, cfg.Validator.DataBucket, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewConceptHandler(versionService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAtlasHandler(aggregateService, logger).RegisterRoutes(mux, authMiddleware)

	var handler http.Handler = mux
	handler = middleware.Recover(logger)(handler)
	handler = middleware.RequestLogger(logger)(handler)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting atlas tracker",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := database.OpenSQL(cfg.Database.URL())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
