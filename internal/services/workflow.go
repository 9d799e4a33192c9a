package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	brandrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/brands"
	jobrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/jobs"
	"github.com/rocoloco/brandguard-backend/internal/domain/brands"
	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/envutil"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

// Score routing thresholds. Scores in [ReviewFloor, ReviewCeiling) park the
// job for a human verdict; the aggregator's own approval bit is checked
// first, so only unapproved scores ever reach the band check.
const (
	ReviewFloor   = 70.0
	ReviewCeiling = 95.0

	DefaultMaxAttempts = 3
)

// TickResult tells the workflow loop what to do after one step.
type TickResult struct {
	JobID    string
	Status   string
	Progress int
	Message  string

	// Done ends the workflow run.
	Done bool
	// AwaitReview parks the workflow until a user decision arrives.
	AwaitReview bool
}

// WorkflowEngine advances one job one step per call. Each job runs as a
// sequential chain of ticks; the full workflow state is persisted on the
// job record between ticks, so any tick can run on any worker.
type WorkflowEngine interface {
	Tick(ctx context.Context, jobID uuid.UUID) (TickResult, error)
}

type workflowEngine struct {
	log      *logger.Logger
	jobs     jobrepo.JobRepo
	brands   brandrepo.BrandRepo
	gen      Generator
	eval     Evaluator
	webhook  WebhookNotifier
	notifier JobNotifier

	maxAttempts int
}

func NewWorkflowEngine(
	log *logger.Logger,
	jobRepo jobrepo.JobRepo,
	brandRepo brandrepo.BrandRepo,
	gen Generator,
	eval Evaluator,
	webhook WebhookNotifier,
	notifier JobNotifier,
) WorkflowEngine {
	return &workflowEngine{
		log:         log.With("service", "WorkflowEngine"),
		jobs:        jobRepo,
		brands:      brandRepo,
		gen:         gen,
		eval:        eval,
		webhook:     webhook,
		notifier:    notifier,
		maxAttempts: envutil.Int("JOB_MAX_ATTEMPTS", DefaultMaxAttempts),
	}
}

func (e *workflowEngine) Tick(ctx context.Context, jobID uuid.UUID) (TickResult, error) {
	dbc := dbctx.Context{Ctx: ctx}

	job, err := e.jobs.GetByID(dbc, jobID)
	if err != nil {
		return TickResult{}, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		// Reaped out from under the workflow; nothing left to drive.
		return TickResult{JobID: jobID.String(), Status: jobs.StatusFailed, Message: "job record gone", Done: true}, nil
	}
	if jobs.IsTerminal(job.Status) {
		return TickResult{JobID: jobID.String(), Status: job.Status, Progress: job.Progress, Done: true}, nil
	}

	st, err := jobs.UnmarshalState(job.State)
	if err != nil {
		return TickResult{}, fmt.Errorf("decode workflow state: %w", err)
	}

	switch job.Status {
	case jobs.StatusPending:
		return e.tickPending(ctx, job, st)
	case jobs.StatusGenerating, jobs.StatusCorrecting:
		return e.tickGenerate(ctx, job, st)
	case jobs.StatusAuditing:
		return e.tickAudit(ctx, job, st)
	case jobs.StatusNeedsReview:
		return e.tickReview(ctx, job, st)
	default:
		return TickResult{}, fmt.Errorf("unexpected job status %q", job.Status)
	}
}

// tickPending opens the model session and hands off to generation.
func (e *workflowEngine) tickPending(ctx context.Context, job *jobs.Job, st jobs.WorkflowState) (TickResult, error) {
	next := st.Clone()
	next.JobID = job.ID.String()
	next.BrandID = job.BrandID.String()
	next.Status = jobs.StatusGenerating

	if next.SessionID == "" {
		sessionID, err := e.gen.OpenSession(ctx)
		if err != nil {
			// Corrections lose conversational context but attempts still run.
			e.log.Warn("Failed to open generation session", "job_id", job.ID, "error", err.Error())
		} else {
			next.SessionID = sessionID
		}
	}

	if err := e.persist(ctx, job, &next, jobs.StatusGenerating, 10, nil); err != nil {
		return TickResult{}, err
	}
	e.notifier.JobProgress(ctx, job, "generating", 10, "starting generation")
	return TickResult{JobID: job.ID.String(), Status: jobs.StatusGenerating, Progress: 10}, nil
}

// tickGenerate runs one generation attempt. Entered from pending (first
// attempt) and from correcting (loop back).
func (e *workflowEngine) tickGenerate(ctx context.Context, job *jobs.Job, st jobs.WorkflowState) (TickResult, error) {
	brand, err := e.loadBrand(ctx, job.BrandID)
	if err != nil {
		return TickResult{}, err
	}

	next := st.Clone()
	next.AttemptCount = st.AttemptCount + 1
	needsLogos := NeedsLogos(&next)

	var instruction string
	if next.AttemptCount > 1 {
		instruction = jobStateInstruction(&next)
	}

	res, genErr := e.gen.Generate(ctx, GenerateParams{
		JobID:        job.ID.String(),
		Brand:        brand,
		Prompt:       next.Prompt,
		Attempt:      next.AttemptCount,
		IncludeLogos: needsLogos,
		SessionID:    next.SessionID,
		Instruction:  instruction,
	})
	if genErr != nil {
		// Attempt already counted; the job fails outright rather than
		// burning budget on a collaborator outage.
		next.Status = jobs.StatusFailed
		msg := fmt.Sprintf("generation failed: %v", genErr)
		if err := e.persist(ctx, job, &next, jobs.StatusFailed, job.Progress, &msg); err != nil {
			return TickResult{}, err
		}
		e.finishTerminal(ctx, job, &next, jobs.StatusFailed, msg)
		return TickResult{JobID: job.ID.String(), Status: jobs.StatusFailed, Message: msg, Done: true}, nil
	}

	RecordLogoUsage(&next, res.UsedLogos)
	next.CurrentImageURL = res.ImageURL
	next.UserTweakInstruction = ""
	next.UserDecision = ""
	next.Status = jobs.StatusAuditing

	if err := e.persist(ctx, job, &next, jobs.StatusAuditing, 60, nil); err != nil {
		return TickResult{}, err
	}
	e.notifier.JobProgress(ctx, job, "auditing", 60, fmt.Sprintf("attempt %d generated", next.AttemptCount))
	return TickResult{JobID: job.ID.String(), Status: jobs.StatusAuditing, Progress: 60}, nil
}

// tickAudit scores the current image and routes the job.
func (e *workflowEngine) tickAudit(ctx context.Context, job *jobs.Job, st jobs.WorkflowState) (TickResult, error) {
	brand, err := e.loadBrand(ctx, job.BrandID)
	if err != nil {
		return TickResult{}, err
	}

	next := st.Clone()

	score, evalErr := e.eval.Evaluate(ctx, brand, next.CurrentImageURL)
	if evalErr != nil {
		// Routing still needs a well-formed score.
		score = ZeroScore(evalErr.Error())
		e.log.Warn("Evaluation failed, recording zero score", "job_id", job.ID, "error", evalErr.Error())
	}
	next.ComplianceScores = append(next.ComplianceScores, score)
	next.IsApproved = score.Approved

	return e.route(ctx, job, next)
}

// tickReview applies a user decision on a parked job, or keeps waiting.
func (e *workflowEngine) tickReview(ctx context.Context, job *jobs.Job, st jobs.WorkflowState) (TickResult, error) {
	if st.UserDecision == "" {
		return TickResult{JobID: job.ID.String(), Status: jobs.StatusNeedsReview, Progress: job.Progress, AwaitReview: true}, nil
	}
	next := st.Clone()
	next.NeedsReview = false
	next.ReviewRequestedAt = nil
	return e.route(ctx, job, next)
}

// route applies the transition policy to next (whose score history is
// current) and persists the outcome. Rules are checked in order; the first
// match wins.
func (e *workflowEngine) route(ctx context.Context, job *jobs.Job, next jobs.WorkflowState) (TickResult, error) {
	target := routeNext(&next, e.maxAttempts)

	switch target {
	case jobs.StatusCompleted:
		if next.UserDecision == jobs.DecisionApprove && !next.IsApproved {
			next.ApprovalOverride = true
		}
		next.IsApproved = true
		next.Status = jobs.StatusCompleted
		if err := e.persist(ctx, job, &next, jobs.StatusCompleted, 100, nil); err != nil {
			return TickResult{}, err
		}
		e.finishTerminal(ctx, job, &next, jobs.StatusCompleted, "")
		return TickResult{JobID: job.ID.String(), Status: jobs.StatusCompleted, Progress: 100, Done: true}, nil

	case jobs.StatusFailed:
		next.Status = jobs.StatusFailed
		msg := fmt.Sprintf("exhausted %d attempts without approval", next.AttemptCount)
		if err := e.persist(ctx, job, &next, jobs.StatusFailed, job.Progress, &msg); err != nil {
			return TickResult{}, err
		}
		e.finishTerminal(ctx, job, &next, jobs.StatusFailed, msg)
		return TickResult{JobID: job.ID.String(), Status: jobs.StatusFailed, Message: msg, Done: true}, nil

	case jobs.StatusNeedsReview:
		now := time.Now().UTC()
		next.NeedsReview = true
		next.ReviewRequestedAt = &now
		next.Status = jobs.StatusNeedsReview
		if err := e.persist(ctx, job, &next, jobs.StatusNeedsReview, 80, nil); err != nil {
			return TickResult{}, err
		}
		e.notifier.JobReview(ctx, job)
		return TickResult{JobID: job.ID.String(), Status: jobs.StatusNeedsReview, Progress: 80, AwaitReview: true}, nil

	default: // correcting
		next.Status = jobs.StatusCorrecting
		if err := e.persist(ctx, job, &next, jobs.StatusCorrecting, 40, nil); err != nil {
			return TickResult{}, err
		}
		e.notifier.JobProgress(ctx, job, "correcting", 40, "retrying with corrections")
		return TickResult{JobID: job.ID.String(), Status: jobs.StatusCorrecting, Progress: 40}, nil
	}
}

// routeNext picks the next status from the state after an evaluation or a
// user decision. First match wins.
func routeNext(st *jobs.WorkflowState, maxAttempts int) string {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	latest := st.LatestScore()

	if st.UserDecision == jobs.DecisionApprove {
		return jobs.StatusCompleted
	}
	if latest != nil && latest.Approved {
		return jobs.StatusCompleted
	}
	if (st.UserDecision == jobs.DecisionRegenerate || st.UserDecision == jobs.DecisionTweak) &&
		strings.TrimSpace(st.UserTweakInstruction) != "" {
		return jobs.StatusCorrecting
	}

	var overall float64
	if latest != nil {
		overall = latest.OverallScore
	}
	if overall >= ReviewFloor && overall < ReviewCeiling {
		return jobs.StatusNeedsReview
	}
	if overall < ReviewFloor && st.AttemptCount == 1 {
		return jobs.StatusNeedsReview
	}
	if st.AttemptCount >= maxAttempts {
		return jobs.StatusFailed
	}
	return jobs.StatusCorrecting
}

// finishTerminal releases the model session and fires the webhook. Both are
// best effort.
func (e *workflowEngine) finishTerminal(ctx context.Context, job *jobs.Job, st *jobs.WorkflowState, status, errMsg string) {
	if st.SessionID != "" {
		if err := e.gen.CloseSession(ctx, st.SessionID); err != nil {
			e.log.Warn("Failed to release generation session", "job_id", job.ID, "session_id", st.SessionID, "error", err.Error())
		}
	}

	switch status {
	case jobs.StatusCompleted:
		e.notifier.JobDone(ctx, job, st.CurrentImageURL)
	case jobs.StatusFailed:
		e.notifier.JobFailed(ctx, job, errMsg)
	}

	if job.WebhookURL == "" {
		return
	}
	result := map[string]any{}
	if st.CurrentImageURL != "" {
		result["image_url"] = st.CurrentImageURL
	}
	if latest := st.LatestScore(); latest != nil {
		result["compliance_score"] = latest
	}
	if errMsg != "" {
		result["error"] = errMsg
	}
	e.webhook.Deliver(ctx, job.WebhookURL, WebhookPayload{
		JobID:  job.ID.String(),
		Status: status,
		Result: result,
	}, job.ID)
}

// persist writes the status transition and a fresh state snapshot in one
// update.
func (e *workflowEngine) persist(ctx context.Context, job *jobs.Job, st *jobs.WorkflowState, status string, progress int, errMsg *string) error {
	raw, err := st.Marshal()
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}
	updates := map[string]interface{}{
		"status":   status,
		"progress": progress,
		"state":    raw,
	}
	if errMsg != nil {
		updates["error"] = *errMsg
	}
	if err := e.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, updates); err != nil {
		return fmt.Errorf("persist job transition: %w", err)
	}
	job.Status = status
	job.Progress = progress
	return nil
}

func (e *workflowEngine) loadBrand(ctx context.Context, brandID uuid.UUID) (*brands.Brand, error) {
	brand, err := e.brands.GetByID(dbctx.Context{Ctx: ctx}, brandID)
	if err != nil {
		return nil, fmt.Errorf("load brand: %w", err)
	}
	if brand == nil {
		return nil, fmt.Errorf("brand %s not found", brandID)
	}
	return brand, nil
}
