package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocoloco/brandguard-backend/internal/data/db"
	brandrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/brands"
	jobrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/gcs"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/platform/openai"
	"github.com/rocoloco/brandguard-backend/internal/realtime/bus"
	"github.com/rocoloco/brandguard-backend/internal/services"
	"github.com/rocoloco/brandguard-backend/internal/temporalx"
	"github.com/rocoloco/brandguard-backend/internal/temporalx/temporalworker"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err.Error())
		os.Exit(1)
	}
	gdb := postgresService.DB()

	// Repos
	jobRepo := jobrepo.NewJobRepo(gdb, log)
	brandRepo := brandrepo.NewBrandRepo(gdb, log)

	// Platform clients
	bucketService, err := gcs.NewBucketService(log)
	if err != nil {
		log.Warn("Could not init BucketService", "error", err.Error())
	}
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err.Error())
		os.Exit(1)
	}

	eventBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Error("Could not init Redis bus", "error", err.Error())
		os.Exit(1)
	}
	defer eventBus.Close()

	// Engine
	notifier := services.NewJobNotifier(log, eventBus)
	generator := services.NewGenerator(log, openaiClient, bucketService)
	evaluator := services.NewEvaluator(log, openaiClient)
	webhook := services.NewWebhookNotifier(log, jobRepo)
	engine := services.NewWorkflowEngine(log, jobRepo, brandRepo, generator, evaluator, webhook, notifier)

	// Temporal worker
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Could not init Temporal client", "error", err.Error())
		os.Exit(1)
	}
	if tc == nil {
		log.Error("TEMPORAL_ADDRESS must be set for the worker process")
		os.Exit(1)
	}
	defer tc.Close()

	runner, err := temporalworker.NewRunner(log, tc, engine)
	if err != nil {
		log.Error("Could not init Temporal worker", "error", err.Error())
		os.Exit(1)
	}
	if err := runner.Start(ctx); err != nil {
		log.Error("Temporal worker failed to start", "error", err.Error())
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("Worker shutting down")
}
