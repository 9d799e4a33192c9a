package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rocoloco/brandguard-backend/internal/data/db"
	brandrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/brands"
	jobrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/jobs"
	apihttp "github.com/rocoloco/brandguard-backend/internal/http"
	httpH "github.com/rocoloco/brandguard-backend/internal/http/handlers"
	httpMW "github.com/rocoloco/brandguard-backend/internal/http/middleware"
	"github.com/rocoloco/brandguard-backend/internal/platform/envutil"
	"github.com/rocoloco/brandguard-backend/internal/platform/gcs"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/platform/openai"
	"github.com/rocoloco/brandguard-backend/internal/realtime"
	"github.com/rocoloco/brandguard-backend/internal/realtime/bus"
	"github.com/rocoloco/brandguard-backend/internal/services"
	"github.com/rocoloco/brandguard-backend/internal/temporalx"
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
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err.Error())
	}
	gdb := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
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

	// Realtime
	log.Info("Setting up event bus and SSE hub...")
	eventBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Error("Could not init Redis bus", "error", err.Error())
		os.Exit(1)
	}
	defer eventBus.Close()

	sseHub := realtime.NewSSEHub(log)
	if err := eventBus.StartForwarder(ctx, sseHub.Broadcast); err != nil {
		log.Error("Could not start event forwarder", "error", err.Error())
		os.Exit(1)
	}

	// Services
	log.Info("Setting up services...")
	notifier := services.NewJobNotifier(log, eventBus)
	generator := services.NewGenerator(log, openaiClient, bucketService)
	evaluator := services.NewEvaluator(log, openaiClient)
	webhook := services.NewWebhookNotifier(log, jobRepo)
	engine := services.NewWorkflowEngine(log, jobRepo, brandRepo, generator, evaluator, webhook, notifier)

	// Workflow runner: Temporal when configured, in-process otherwise.
	var runner services.WorkflowRunner
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Could not init Temporal client", "error", err.Error())
		os.Exit(1)
	}
	if tc != nil {
		defer tc.Close()
		runner, err = temporalx.NewWorkflowRunner(log, tc)
		if err != nil {
			log.Error("Could not init workflow runner", "error", err.Error())
			os.Exit(1)
		}
	} else {
		log.Warn("TEMPORAL_ADDRESS not set; running workflows in process")
		runner = services.NewInlineRunner(log, engine)
	}

	jobService := services.NewJobService(log, jobRepo, brandRepo, runner, engine, notifier)
	jobReaper := services.NewReaper(log, jobRepo, bucketService)

	// Middleware
	authMiddleware, err := httpMW.NewAuthMiddleware(log)
	if err != nil {
		log.Error("Could not init auth middleware", "error", err.Error())
		os.Exit(1)
	}

	// Handlers and router
	log.Info("Setting up router...")
	router := apihttp.NewRouter(apihttp.RouterConfig{
		Logger:          log,
		AuthMiddleware:  authMiddleware,
		GenerateHandler: httpH.NewGenerateHandler(jobService),
		JobHandler:      httpH.NewJobHandler(jobService, sseHub),
		BrandHandler:    httpH.NewBrandHandler(brandRepo, log),
		HealthHandler:   httpH.NewHealthHandler(gdb),
	})

	port := envutil.String("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		jobReaper.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited", "error", err.Error())
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}
