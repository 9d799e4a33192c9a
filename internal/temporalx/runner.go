package temporalx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	enums "go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/services"
	"github.com/rocoloco/brandguard-backend/internal/temporalx/jobrun"
)

// workflowRunner implements services.WorkflowRunner on the Temporal client.
type workflowRunner struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
}

func NewWorkflowRunner(log *logger.Logger, tc temporalsdkclient.Client) (services.WorkflowRunner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	return &workflowRunner{
		log:       log.With("service", "WorkflowRunner"),
		tc:        tc,
		taskQueue: LoadConfig().TaskQueue,
	}, nil
}

// StartJobWorkflow launches the job's workflow. The workflow ID is the job
// ID, so a duplicate start of the same job is rejected by Temporal rather
// than spawning a second run.
func (r *workflowRunner) StartJobWorkflow(ctx context.Context, jobID uuid.UUID) error {
	if jobID == uuid.Nil {
		return fmt.Errorf("job id required")
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             r.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	_, err := r.tc.ExecuteWorkflow(ctx, opts, jobrun.WorkflowName)
	return err
}

func (r *workflowRunner) SignalResume(ctx context.Context, jobID uuid.UUID) error {
	return r.tc.SignalWorkflow(ctx, jobID.String(), "", jobrun.SignalResume, nil)
}

func (r *workflowRunner) CancelJobWorkflow(ctx context.Context, jobID uuid.UUID) error {
	return r.tc.CancelWorkflow(ctx, jobID.String(), "")
}
