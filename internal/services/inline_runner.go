package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

const (
	inlineTickInterval = 2 * time.Second
	inlineReviewPoll   = 2 * time.Minute
	inlineErrorLimit   = 5
)

// inlineRunner drives job workflows on in-process goroutines for
// deployments without a durable workflow cluster. Progress survives a
// restart only as far as the persisted job state allows.
type inlineRunner struct {
	log    *logger.Logger
	engine WorkflowEngine

	mu   sync.Mutex
	wake map[uuid.UUID]chan struct{}
}

func NewInlineRunner(log *logger.Logger, engine WorkflowEngine) WorkflowRunner {
	return &inlineRunner{
		log:    log.With("service", "InlineRunner"),
		engine: engine,
		wake:   make(map[uuid.UUID]chan struct{}),
	}
}

func (r *inlineRunner) StartJobWorkflow(_ context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	if _, running := r.wake[jobID]; running {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{}, 1)
	r.wake[jobID] = ch
	r.mu.Unlock()

	// Detached from the request context; the loop outlives the HTTP call.
	go r.loop(context.Background(), jobID, ch)
	return nil
}

func (r *inlineRunner) SignalResume(_ context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	ch, ok := r.wake[jobID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// CancelJobWorkflow is a no-op: the caller persists the cancelled status
// first and the next tick observes it and stops.
func (r *inlineRunner) CancelJobWorkflow(_ context.Context, _ uuid.UUID) error {
	return nil
}

func (r *inlineRunner) loop(ctx context.Context, jobID uuid.UUID, wake chan struct{}) {
	defer func() {
		r.mu.Lock()
		delete(r.wake, jobID)
		r.mu.Unlock()
	}()

	errStreak := 0
	for {
		res, err := r.engine.Tick(ctx, jobID)
		if err != nil {
			errStreak++
			if errStreak >= inlineErrorLimit {
				r.log.Error("Abandoning inline workflow after repeated tick failures", "job_id", jobID, "error", err.Error())
				return
			}
			r.log.Warn("Inline workflow tick failed; retrying", "job_id", jobID, "error", err.Error())
			time.Sleep(inlineTickInterval)
			continue
		}
		errStreak = 0

		if res.Done {
			return
		}
		if res.AwaitReview {
			select {
			case <-wake:
			case <-time.After(inlineReviewPoll):
			}
			continue
		}
		time.Sleep(inlineTickInterval)
	}
}
