package services

import (
	"context"

	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/realtime"
	"github.com/rocoloco/brandguard-backend/internal/realtime/bus"
)

// JobNotifier pushes job lifecycle events onto the realtime bus so
// event-stream subscribers see progress as it happens. Publishing is best
// effort; a dead bus never fails a workflow step.
type JobNotifier interface {
	JobCreated(ctx context.Context, job *jobs.Job)
	JobProgress(ctx context.Context, job *jobs.Job, stage string, progress int, message string)
	JobReview(ctx context.Context, job *jobs.Job)
	JobDone(ctx context.Context, job *jobs.Job, imageURL string)
	JobFailed(ctx context.Context, job *jobs.Job, errorMessage string)
	JobCancelled(ctx context.Context, job *jobs.Job)
}

type jobNotifier struct {
	log *logger.Logger
	bus bus.Bus
}

func NewJobNotifier(log *logger.Logger, b bus.Bus) JobNotifier {
	return &jobNotifier{
		log: log.With("service", "JobNotifier"),
		bus: b,
	}
}

func (n *jobNotifier) publish(ctx context.Context, msg realtime.SSEMessage) {
	if n.bus == nil {
		return
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("Failed to publish job event", "channel", msg.Channel, "event", msg.Event, "error", err.Error())
	}
}

func (n *jobNotifier) JobCreated(ctx context.Context, job *jobs.Job) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.SSEEventJobCreated,
		Data: map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		},
	})
}

func (n *jobNotifier) JobProgress(ctx context.Context, job *jobs.Job, stage string, progress int, message string) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.SSEEventJobProgress,
		Data: map[string]any{
			"job_id":   job.ID,
			"status":   job.Status,
			"stage":    stage,
			"progress": progress,
			"message":  message,
		},
	})
}

func (n *jobNotifier) JobReview(ctx context.Context, job *jobs.Job) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.SSEEventJobReview,
		Data: map[string]any{
			"job_id":   job.ID,
			"status":   jobs.StatusNeedsReview,
			"progress": job.Progress,
		},
	})
}

func (n *jobNotifier) JobDone(ctx context.Context, job *jobs.Job, imageURL string) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.SSEEventJobDone,
		Data: map[string]any{
			"job_id":    job.ID,
			"status":    jobs.StatusCompleted,
			"image_url": imageURL,
		},
	})
}

func (n *jobNotifier) JobFailed(ctx context.Context, job *jobs.Job, errorMessage string) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.SSEEventJobFailed,
		Data: map[string]any{
			"job_id": job.ID,
			"status": jobs.StatusFailed,
			"error":  errorMessage,
		},
	})
}

func (n *jobNotifier) JobCancelled(ctx context.Context, job *jobs.Job) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.SSEEventJobCancelled,
		Data: map[string]any{
			"job_id": job.ID,
			"status": jobs.StatusCancelled,
		},
	})
}
