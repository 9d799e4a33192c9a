package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/rocoloco/brandguard-backend/internal/platform/envutil"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/services"
	"github.com/rocoloco/brandguard-backend/internal/temporalx"
	"github.com/rocoloco/brandguard-backend/internal/temporalx/jobrun"
)

// Runner hosts the Temporal worker that executes job workflows and tick
// activities.
type Runner struct {
	log    *logger.Logger
	tc     temporalsdkclient.Client
	engine services.WorkflowEngine
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, engine services.WorkflowEngine) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if engine == nil {
		return nil, fmt.Errorf("workflow engine required")
	}
	return &Runner{log: log, tc: tc, engine: engine}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	if envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
		if err := temporalx.EnsureNamespace(ctx, cfg, r.log); err != nil && r.log != nil {
			r.log.Warn("Temporal namespace ensure failed; worker start will retry", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := envutil.Seconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	backoff := envutil.Millis("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	backoffMax := envutil.Millis("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			if r.log != nil {
				r.log.Info("Temporal worker started", "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
			_ = temporalx.EnsureNamespace(ctx, cfg, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			if errors.As(startErr, &nfe) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}
		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		}
		time.Sleep(backoffSleep(backoff, backoffMax, attempt))
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &jobrun.Activities{Log: r.log, Engine: r.engine}
	w.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: jobrun.ActivityTick})
	return w
}

func backoffSleep(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
