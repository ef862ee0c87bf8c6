package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/cdn"
	"github.com/pulseboard/creator-engine/pkg/config"
	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/fetcher"
	"github.com/pulseboard/creator-engine/pkg/handlers"
	"github.com/pulseboard/creator-engine/pkg/llm"
	"github.com/pulseboard/creator-engine/pkg/repositories"
	"github.com/pulseboard/creator-engine/pkg/retry"
	"github.com/pulseboard/creator-engine/pkg/services"
	"github.com/pulseboard/creator-engine/pkg/stages"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.Float64("acceptance_threshold", cfg.Pipeline.AcceptanceThreshold),
		zap.Int("minimum_post_count", cfg.Pipeline.MinimumPostCount))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migrations run through database/sql; the app itself talks pgx.
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Repositories.
	profileRepo := repositories.NewProfileRepository(db)
	postRepo := repositories.NewPostRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db)
	runRepo := repositories.NewRunRepository(db)
	repairRepo := repositories.NewRepairRepository(db)
	consistencyRepo := repositories.NewConsistencyRepository(db)

	// External collaborators.
	fetchClient := fetcher.NewClient(&fetcher.Config{
		BaseURL:        cfg.Fetcher.BaseURL,
		APIKey:         cfg.Fetcher.APIKey,
		RequestTimeout: cfg.Fetcher.RequestTimeout,
	}, logger)
	llmClient, err := llm.NewClient(&llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}
	uploader, err := cdn.NewGCSUploader(ctx, &cdn.Config{
		Bucket:  cfg.CDN.Bucket,
		BaseURL: cfg.CDN.BaseURL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create CDN uploader", zap.Error(err))
	}

	registry, err := stages.NewRegistry(
		stages.NewCategoryStage(llmClient),
		stages.NewSentimentStage(llmClient),
		stages.NewLanguageStage(llmClient),
		stages.NewThumbnailStage(fetchClient, uploader, logger),
		stages.NewRollupStage(postRepo),
	)
	if err != nil {
		logger.Fatal("Failed to build stage registry", zap.Error(err))
	}

	// Services.
	events := services.NewZapEmitter(logger)
	evaluator := services.NewCompletenessEvaluator(postRepo, cfg.Pipeline.MinimumPostCount)
	orch := services.NewOrchestrator(db, profileRepo, postRepo, runRepo, fetchClient, registry, evaluator,
		services.OrchestratorOptions{
			FetchRetry: &retry.Config{
				MaxRetries:   cfg.Fetcher.MaxRetries,
				InitialDelay: cfg.Fetcher.InitialBackoff,
				MaxDelay:     cfg.Fetcher.MaxBackoff,
				Multiplier:   2.0,
				JitterFactor: 0.1,
			},
			StageRetry: &retry.Config{
				MaxRetries:   cfg.Pipeline.StageMaxRetries,
				InitialDelay: cfg.Pipeline.StageInitialBackoff,
				MaxDelay:     cfg.Pipeline.StageMaxBackoff,
				Multiplier:   2.0,
				JitterFactor: 0.1,
			},
			AcceptanceThreshold: cfg.Pipeline.AcceptanceThreshold,
			StageFanOut:         cfg.Pipeline.StageFanOut,
		}, events, logger)
	gate := services.NewAccessGate(db, ledgerRepo, profileRepo,
		cfg.Pipeline.ProfileCreditCost, cfg.Pipeline.GateTimeout, events, logger)
	engine := services.NewConsistencyEngine(consistencyRepo, profileRepo, postRepo, runRepo, logger)
	driver := services.NewRepairDriver(profileRepo, postRepo, repairRepo, engine, orch, evaluator,
		cfg.Repair, events, logger)

	// HTTP surface.
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewProfileHandler(gate, orch, profileRepo, postRepo, logger).RegisterRoutes(mux)
	handlers.NewOperatorHandler(driver, engine, cfg.OperatorToken, logger).RegisterRoutes(mux)
	handlers.NewWalletHandler(ledgerRepo, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting creator-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
