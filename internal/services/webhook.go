package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	jobrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/envutil"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

// WebhookPayload is posted to the client callback on terminal states.
type WebhookPayload struct {
	JobID  string         `json:"job_id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
}

// WebhookNotifier delivers terminal-state callbacks. Delivery is best
// effort: exhausting retries never fails the owning job.
type WebhookNotifier interface {
	Deliver(ctx context.Context, url string, payload WebhookPayload, jobID uuid.UUID) bool
}

type webhookNotifier struct {
	log         *logger.Logger
	jobs        jobrepo.JobRepo
	client      *http.Client
	maxAttempts int
	sleep       func(time.Duration)
}

func NewWebhookNotifier(log *logger.Logger, jobs jobrepo.JobRepo) WebhookNotifier {
	timeout := envutil.Seconds("WEBHOOK_TIMEOUT_SECONDS", 10)
	return &webhookNotifier{
		log:         log.With("service", "WebhookNotifier"),
		jobs:        jobs,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: envutil.Int("WEBHOOK_MAX_ATTEMPTS", 5),
		sleep:       time.Sleep,
	}
}

// Deliver POSTs payload to url, retrying with exponential backoff. The
// sleep after a failed attempt n is 2^(n+1) seconds, and there is no pause
// between the penultimate and final attempts; the last try fires
// immediately once the one before it fails. The number of POSTs actually
// made is persisted on the job as webhook_attempts whatever the outcome.
func (w *webhookNotifier) Deliver(ctx context.Context, url string, payload WebhookPayload, jobID uuid.UUID) bool {
	if url == "" {
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Error("Webhook payload marshal failed", "job_id", jobID, "error", err.Error())
		return false
	}

	attempts := 0
	defer func() {
		if err := w.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, jobID, map[string]interface{}{
			"webhook_attempts": attempts,
		}); err != nil {
			w.log.Warn("Failed to persist webhook attempts", "job_id", jobID, "error", err.Error())
		}
	}()

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		attempts = attempt

		if w.post(ctx, url, body) {
			w.log.Info("Webhook delivered", "job_id", jobID, "attempt", attempt)
			return true
		}
		w.log.Warn("Webhook attempt failed", "job_id", jobID, "attempt", attempt, "max_attempts", w.maxAttempts)

		if attempt < w.maxAttempts-1 {
			w.sleep(time.Duration(1<<(attempt+1)) * time.Second)
		}
	}

	w.log.Error("Webhook delivery exhausted", "job_id", jobID, "attempts", attempts)
	return false
}

func (w *webhookNotifier) post(ctx context.Context, url string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
