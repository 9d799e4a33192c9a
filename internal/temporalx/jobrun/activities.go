package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/services"
)

type Activities struct {
	Log    *logger.Logger
	Engine services.WorkflowEngine
}

func (a *Activities) Tick(ctx context.Context, jobID string) (services.TickResult, error) {
	if a == nil || a.Engine == nil {
		return services.TickResult{}, fmt.Errorf("jobrun: activity not configured")
	}

	parsed, err := uuid.Parse(strings.TrimSpace(jobID))
	if err != nil || parsed == uuid.Nil {
		return services.TickResult{}, fmt.Errorf("jobrun: invalid job_id %q", jobID)
	}

	stopHB := startHeartbeat(ctx)
	defer stopHB()

	res, err := a.Engine.Tick(ctx, parsed)
	if err != nil {
		if a.Log != nil {
			a.Log.Error("Job tick failed", "job_id", parsed, "error", err.Error())
		}
		return services.TickResult{}, err
	}
	return res, nil
}

// startHeartbeat keeps the activity alive while a generation or evaluation
// call is in flight.
func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		hb := time.NewTicker(10 * time.Second)
		defer hb.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-hb.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
