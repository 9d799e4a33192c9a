package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	brandrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/brands"
	jobrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/jobs"
	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/apierr"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

const pgUniqueViolation = "23505"

// syncTickBudget bounds the inline loop in synchronous mode; per attempt a
// job takes at most four ticks, so this comfortably covers the attempt cap.
const syncTickBudget = 16

// WorkflowRunner drives job workflows on the durable execution backend.
type WorkflowRunner interface {
	StartJobWorkflow(ctx context.Context, jobID uuid.UUID) error
	SignalResume(ctx context.Context, jobID uuid.UUID) error
	CancelJobWorkflow(ctx context.Context, jobID uuid.UUID) error
}

type StartJobInput struct {
	BrandID        uuid.UUID
	Prompt         string
	TemplateID     string
	WebhookURL     string
	AsyncMode      bool
	IdempotencyKey string
}

type StartJobOutput struct {
	Job *jobs.Job
	// Replayed is true when an idempotency key matched an existing job and
	// no new one was admitted.
	Replayed bool

	// Populated only in synchronous mode.
	ImageURL string
	Score    *jobs.ComplianceScore
}

type DecisionInput struct {
	JobID       uuid.UUID
	Decision    string
	Instruction string
}

// JobService is the API-facing surface for job admission and lifecycle.
type JobService interface {
	StartJob(ctx context.Context, in StartJobInput) (StartJobOutput, error)
	GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	SubmitDecision(ctx context.Context, in DecisionInput) (*jobs.Job, error)
}

type jobService struct {
	log       *logger.Logger
	templates TemplateCatalog
	jobs      jobrepo.JobRepo
	brands    brandrepo.BrandRepo
	runner    WorkflowRunner
	engine    WorkflowEngine
	notifier  JobNotifier
}

func NewJobService(
	log *logger.Logger,
	jobRepo jobrepo.JobRepo,
	brandRepo brandrepo.BrandRepo,
	runner WorkflowRunner,
	engine WorkflowEngine,
	notifier JobNotifier,
) JobService {
	return &jobService{
		log:       log.With("service", "JobService"),
		templates: LoadTemplates(log),
		jobs:      jobRepo,
		brands:    brandRepo,
		runner:    runner,
		engine:    engine,
		notifier:  notifier,
	}
}

func (s *jobService) StartJob(ctx context.Context, in StartJobInput) (StartJobOutput, error) {
	var out StartJobOutput
	dbc := dbctx.Context{Ctx: ctx}

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return out, apierr.Validation("prompt_required", fmt.Errorf("prompt must not be empty"))
	}
	if in.BrandID == uuid.Nil {
		return out, apierr.Validation("brand_id_required", fmt.Errorf("brand_id must be set"))
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > jobs.MaxIdempotencyKeyLen {
		return out, apierr.Validation("idempotency_key_too_long",
			fmt.Errorf("idempotency_key exceeds %d characters", jobs.MaxIdempotencyKeyLen))
	}

	brand, err := s.brands.GetByID(dbc, in.BrandID)
	if err != nil {
		return out, apierr.Storage("brand_lookup_failed", err)
	}
	if brand == nil {
		return out, apierr.NotFound("brand_not_found", fmt.Errorf("brand %s not found", in.BrandID))
	}

	templateID := strings.TrimSpace(in.TemplateID)
	if templateID != "" {
		tpl, ok := s.templates.Lookup(templateID)
		if !ok {
			return out, apierr.NotFound("template_not_found", fmt.Errorf("template %s not found", templateID))
		}
		prompt = tpl.Apply(prompt)
	}

	if key != "" {
		existing, err := s.jobs.GetByIdempotencyKey(dbc, key)
		if err != nil {
			return out, apierr.Storage("idempotency_lookup_failed", err)
		}
		if existing != nil {
			s.log.Info("Idempotent replay", "job_id", existing.ID, "idempotency_key", key)
			out.Job = existing
			out.Replayed = true
			return out, nil
		}
	}

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:         uuid.New(),
		BrandID:    in.BrandID,
		Status:     jobs.StatusPending,
		WebhookURL: strings.TrimSpace(in.WebhookURL),
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(jobs.JobTTL),
	}
	if key != "" {
		job.IdempotencyKey = &key
	}

	st := jobs.WorkflowState{
		JobID:      job.ID.String(),
		BrandID:    in.BrandID.String(),
		Prompt:     prompt,
		TemplateID: templateID,
		Status:     jobs.StatusPending,
	}
	if job.State, err = st.Marshal(); err != nil {
		return out, apierr.Storage("state_encode_failed", err)
	}

	if _, err := s.jobs.Create(dbc, job); err != nil {
		// Two admissions racing on the same key: the store's unique index
		// decides, and the loser adopts the winner's job.
		if key != "" && isUniqueViolation(err) {
			existing, lookupErr := s.jobs.GetByIdempotencyKey(dbc, key)
			if lookupErr == nil && existing != nil {
				s.log.Info("Idempotency race resolved by unique index", "job_id", existing.ID, "idempotency_key", key)
				out.Job = existing
				out.Replayed = true
				return out, nil
			}
			// No live holder: an expired job still owns the key and the
			// reaper has not swept it yet. Free the key and retry once so
			// the admission does not have to wait for the next sweep.
			if lookupErr == nil && existing == nil {
				if released, relErr := s.jobs.ReleaseExpiredIdempotencyKey(dbc, key); relErr == nil && released {
					s.log.Info("Reclaimed idempotency key from expired job", "idempotency_key", key)
					if _, retryErr := s.jobs.Create(dbc, job); retryErr == nil {
						err = nil
					}
				}
			}
		}
		if err != nil {
			return out, apierr.Storage("job_create_failed", err)
		}
	}

	s.notifier.JobCreated(ctx, job)

	if in.AsyncMode {
		if err := s.runner.StartJobWorkflow(ctx, job.ID); err != nil {
			return out, apierr.Storage("workflow_start_failed", err)
		}
		out.Job = job
		return out, nil
	}

	return s.runInline(ctx, job)
}

// runInline drives the workflow to its first stopping point on the caller's
// request, for clients that opted out of async mode.
func (s *jobService) runInline(ctx context.Context, job *jobs.Job) (StartJobOutput, error) {
	var out StartJobOutput
	for i := 0; i < syncTickBudget; i++ {
		res, err := s.engine.Tick(ctx, job.ID)
		if err != nil {
			return out, apierr.Storage("workflow_tick_failed", err)
		}
		if res.Done || res.AwaitReview {
			break
		}
	}

	final, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if err != nil || final == nil {
		return out, apierr.Storage("job_reload_failed", err)
	}
	st, err := jobs.UnmarshalState(final.State)
	if err != nil {
		return out, apierr.Storage("state_decode_failed", err)
	}

	out.Job = final
	out.ImageURL = st.CurrentImageURL
	out.Score = st.LatestScore()
	return out, nil
}

func (s *jobService) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, apierr.Storage("job_lookup_failed", err)
	}
	if job == nil {
		return nil, apierr.NotFound("job_not_found", fmt.Errorf("job %s not found", id))
	}
	return job, nil
}

func (s *jobService) CancelJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !jobs.IsCancellable(job.Status) {
		return nil, apierr.Validation("job_not_cancellable",
			fmt.Errorf("job %s is %s and cannot be cancelled", id, job.Status))
	}

	if err := s.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, id, map[string]interface{}{
		"status": jobs.StatusCancelled,
	}); err != nil {
		return nil, apierr.Storage("job_cancel_failed", err)
	}
	job.Status = jobs.StatusCancelled

	if err := s.runner.CancelJobWorkflow(ctx, id); err != nil {
		// The workflow's next tick observes the terminal status anyway.
		s.log.Warn("Failed to cancel workflow", "job_id", id, "error", err.Error())
	}
	s.notifier.JobCancelled(ctx, job)
	return job, nil
}

func (s *jobService) SubmitDecision(ctx context.Context, in DecisionInput) (*jobs.Job, error) {
	job, err := s.GetJob(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusNeedsReview {
		return nil, apierr.Validation("job_not_in_review",
			fmt.Errorf("job %s is %s; decisions apply only to jobs awaiting review", in.JobID, job.Status))
	}

	decision := strings.ToLower(strings.TrimSpace(in.Decision))
	instruction := strings.TrimSpace(in.Instruction)
	switch decision {
	case jobs.DecisionApprove:
	case jobs.DecisionTweak:
		if instruction == "" {
			return nil, apierr.Validation("instruction_required",
				fmt.Errorf("a tweak decision needs an instruction"))
		}
	case jobs.DecisionRegenerate:
		if instruction == "" {
			instruction = "generate a fresh variation of the original prompt"
		}
	default:
		return nil, apierr.Validation("invalid_decision",
			fmt.Errorf("decision must be approve, tweak, or regenerate"))
	}

	st, err := jobs.UnmarshalState(job.State)
	if err != nil {
		return nil, apierr.Storage("state_decode_failed", err)
	}
	next := st.Clone()
	next.UserDecision = decision
	next.IsTweak = decision == jobs.DecisionTweak
	if decision != jobs.DecisionApprove {
		next.UserTweakInstruction = instruction
	}

	raw, err := next.Marshal()
	if err != nil {
		return nil, apierr.Storage("state_encode_failed", err)
	}
	if err := s.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, in.JobID, map[string]interface{}{
		"state": raw,
	}); err != nil {
		return nil, apierr.Storage("decision_persist_failed", err)
	}

	if err := s.runner.SignalResume(ctx, in.JobID); err != nil {
		return nil, apierr.Storage("workflow_resume_failed", err)
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
