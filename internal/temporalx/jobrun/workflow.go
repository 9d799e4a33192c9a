package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/rocoloco/brandguard-backend/internal/services"
)

// Workflow drives one job to a terminal state. The workflow ID is the job
// ID; all real work happens inside the Tick activity, so the history stays
// a flat sequence of ticks and the whole run survives worker restarts.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	const (
		tickInterval         = 2 * time.Second
		reviewPollInterval   = 2 * time.Minute
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		// Generation attempt budgeting lives in the tick itself; this only
		// covers transient infra failures, so keep it short.
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	ticks := 0

	for {
		ticks++
		var out services.TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}

		switch {
		case out.Done:
			if out.Status == "failed" {
				return fmt.Errorf("job failed: %s", out.Message)
			}
			return nil
		case out.AwaitReview:
			// Park until the decision endpoint signals, with a slow poll so a
			// signal lost to a race still gets picked up.
			waitForResumeOrPoll(ctx, resumeCh, reviewPollInterval)
		default:
			if err := workflow.Sleep(ctx, tickInterval); err != nil {
				return err
			}
		}

		if shouldContinueAsNew(ctx, ticks, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func waitForResumeOrPoll(ctx workflow.Context, ch workflow.ReceiveChannel, maxWait time.Duration) {
	timer := workflow.NewTimer(ctx, maxWait)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var v any
		c.Receive(ctx, &v)
	})
	sel.AddFuture(timer, func(f workflow.Future) {})
	sel.Select(ctx)
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
