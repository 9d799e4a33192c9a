package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rocoloco/brandguard-backend/internal/domain/brands"
	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

func stateWith(attempt int, score float64, approved bool) *jobs.WorkflowState {
	return &jobs.WorkflowState{
		AttemptCount: attempt,
		ComplianceScores: []jobs.ComplianceScore{
			{OverallScore: score, Approved: approved},
		},
	}
}

func TestRouteNext(t *testing.T) {
	cases := []struct {
		name string
		st   *jobs.WorkflowState
		want string
	}{
		{"high score first attempt", stateWith(1, 92, true), jobs.StatusCompleted},
		{"low score first attempt", stateWith(1, 65, false), jobs.StatusNeedsReview},
		{"low score at max attempts", stateWith(3, 65, false), jobs.StatusFailed},
		{"review band second attempt", stateWith(2, 82, false), jobs.StatusNeedsReview},
		{"low score mid budget", stateWith(2, 65, false), jobs.StatusCorrecting},
		{"band lower bound", stateWith(2, 70, false), jobs.StatusNeedsReview},
		{"band upper bound excluded", stateWith(2, 95, false), jobs.StatusCorrecting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := routeNext(tc.st, 3); got != tc.want {
				t.Fatalf("routeNext = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRouteNextUserDecisions(t *testing.T) {
	st := stateWith(2, 65, false)
	st.UserDecision = jobs.DecisionApprove
	if got := routeNext(st, 3); got != jobs.StatusCompleted {
		t.Fatalf("approve must complete, got %q", got)
	}

	st = stateWith(3, 65, false)
	st.UserDecision = jobs.DecisionTweak
	st.UserTweakInstruction = "warmer colors"
	if got := routeNext(st, 3); got != jobs.StatusCorrecting {
		t.Fatalf("tweak with instruction beats the attempt cap, got %q", got)
	}

	// An instructionless tweak falls through to the score rules.
	st = stateWith(2, 65, false)
	st.UserDecision = jobs.DecisionTweak
	if got := routeNext(st, 3); got != jobs.StatusCorrecting {
		t.Fatalf("got %q", got)
	}
}

func newTestEngine(t *testing.T, repo *fakeJobRepo, gen *fakeGenerator, eval *fakeEvaluator, hook *fakeWebhook, brand *brands.Brand) *workflowEngine {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &workflowEngine{
		log:         log,
		jobs:        repo,
		brands:      &fakeBrandRepo{brand: brand},
		gen:         gen,
		eval:        eval,
		webhook:     hook,
		notifier:    &fakeNotifier{},
		maxAttempts: 3,
	}
}

func seedJob(t *testing.T, repo *fakeJobRepo, brandID uuid.UUID, st jobs.WorkflowState, status string) *jobs.Job {
	t.Helper()
	now := time.Now().UTC()
	raw, err := st.Marshal()
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	job := &jobs.Job{
		ID:         uuid.New(),
		BrandID:    brandID,
		Status:     status,
		State:      raw,
		WebhookURL: "https://client.example.com/hook",
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(jobs.JobTTL),
	}
	if _, err := repo.Create(dbctx.Context{Ctx: context.Background()}, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func currentState(t *testing.T, repo *fakeJobRepo, id uuid.UUID) (*jobs.Job, jobs.WorkflowState) {
	t.Helper()
	job, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil || job == nil {
		t.Fatalf("reload job: %v", err)
	}
	st, err := jobs.UnmarshalState(job.State)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return job, st
}

func testBrand() *brands.Brand {
	return &brands.Brand{ID: uuid.New(), Name: "Acme", CompressedProfile: "blue, bold, friendly"}
}

func TestWorkflowHappyPath(t *testing.T) {
	brand := testBrand()
	repo := newFakeJobRepo()
	gen := &fakeGenerator{}
	eval := &fakeEvaluator{scores: []jobs.ComplianceScore{{OverallScore: 96, Approved: true}}}
	hook := &fakeWebhook{ok: true}
	engine := newTestEngine(t, repo, gen, eval, hook, brand)

	job := seedJob(t, repo, brand.ID, jobs.WorkflowState{Prompt: "hero banner"}, jobs.StatusPending)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		res, err := engine.Tick(ctx, job.ID)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if res.Done {
			break
		}
	}

	got, st := currentState(t, repo, job.ID)
	if got.Status != jobs.StatusCompleted || got.Progress != 100 {
		t.Fatalf("status=%s progress=%d, want completed/100", got.Status, got.Progress)
	}
	if st.AttemptCount != 1 {
		t.Fatalf("attempt_count = %d, want 1", st.AttemptCount)
	}
	if !st.IsApproved || len(st.ComplianceScores) != 1 {
		t.Fatalf("state not approved with one score: %+v", st)
	}
	if st.OriginalHadLogos == nil {
		t.Fatalf("first generation must record logo usage")
	}
	if len(hook.delivered) != 1 || hook.delivered[0].Status != jobs.StatusCompleted {
		t.Fatalf("webhook not delivered on completion: %+v", hook.delivered)
	}
	if len(gen.closed) != 1 {
		t.Fatalf("model session not released")
	}
}

func TestWorkflowLowFirstScoreParksForReview(t *testing.T) {
	brand := testBrand()
	repo := newFakeJobRepo()
	gen := &fakeGenerator{}
	eval := &fakeEvaluator{scores: []jobs.ComplianceScore{{OverallScore: 55, Approved: false}}}
	hook := &fakeWebhook{ok: true}
	engine := newTestEngine(t, repo, gen, eval, hook, brand)

	job := seedJob(t, repo, brand.ID, jobs.WorkflowState{Prompt: "poster"}, jobs.StatusPending)
	ctx := context.Background()

	var last TickResult
	for i := 0; i < 4; i++ {
		res, err := engine.Tick(ctx, job.ID)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		last = res
		if res.AwaitReview || res.Done {
			break
		}
	}

	if !last.AwaitReview {
		t.Fatalf("expected the workflow to park, got %+v", last)
	}
	got, st := currentState(t, repo, job.ID)
	if got.Status != jobs.StatusNeedsReview {
		t.Fatalf("status = %s, want needs_review", got.Status)
	}
	if !st.NeedsReview || st.ReviewRequestedAt == nil {
		t.Fatalf("review markers not set: %+v", st)
	}
	if len(hook.delivered) != 0 {
		t.Fatalf("no webhook before a terminal state")
	}
}

func TestWorkflowCorrectionLoopExhaustsBudget(t *testing.T) {
	brand := testBrand()
	repo := newFakeJobRepo()
	gen := &fakeGenerator{}
	// Attempt 1 lands in the review band? No: keep it out of review by
	// scoring below the floor on attempts 2 and 3 after a parked first
	// attempt is resumed with a regenerate decision.
	eval := &fakeEvaluator{scores: []jobs.ComplianceScore{
		{OverallScore: 60, Approved: false},
		{OverallScore: 62, Approved: false},
		{OverallScore: 64, Approved: false},
	}}
	hook := &fakeWebhook{ok: true}
	engine := newTestEngine(t, repo, gen, eval, hook, brand)

	job := seedJob(t, repo, brand.ID, jobs.WorkflowState{Prompt: "flyer"}, jobs.StatusPending)
	ctx := context.Background()

	// Drive to needs_review.
	for i := 0; i < 4; i++ {
		res, err := engine.Tick(ctx, job.ID)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if res.AwaitReview {
			break
		}
	}

	// User asks for a regenerate with an instruction.
	_, st := currentState(t, repo, job.ID)
	st.UserDecision = jobs.DecisionRegenerate
	st.UserTweakInstruction = "try a different layout"
	raw, _ := st.Marshal()
	if err := repo.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{"state": raw}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var last TickResult
	for i := 0; i < 10; i++ {
		res, err := engine.Tick(ctx, job.ID)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		last = res
		if res.Done {
			break
		}
		if res.AwaitReview {
			t.Fatalf("unexpected second review park: %+v", res)
		}
	}

	if !last.Done || last.Status != jobs.StatusFailed {
		t.Fatalf("expected failed terminal, got %+v", last)
	}
	got, st := currentState(t, repo, job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if st.AttemptCount != 3 {
		t.Fatalf("attempt_count = %d, want 3", st.AttemptCount)
	}
	if len(hook.delivered) != 1 || hook.delivered[0].Status != jobs.StatusFailed {
		t.Fatalf("failure webhook missing: %+v", hook.delivered)
	}
}

func TestWorkflowApproveOverride(t *testing.T) {
	brand := testBrand()
	repo := newFakeJobRepo()
	gen := &fakeGenerator{}
	eval := &fakeEvaluator{scores: []jobs.ComplianceScore{{OverallScore: 82, Approved: false}}}
	hook := &fakeWebhook{ok: true}
	engine := newTestEngine(t, repo, gen, eval, hook, brand)

	job := seedJob(t, repo, brand.ID, jobs.WorkflowState{Prompt: "banner"}, jobs.StatusPending)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		res, err := engine.Tick(ctx, job.ID)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if res.AwaitReview {
			break
		}
	}

	_, st := currentState(t, repo, job.ID)
	st.UserDecision = jobs.DecisionApprove
	raw, _ := st.Marshal()
	if err := repo.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{"state": raw}); err != nil {
		t.Fatalf("update: %v", err)
	}

	res, err := engine.Tick(ctx, job.ID)
	if err != nil {
		t.Fatalf("resume tick: %v", err)
	}
	if !res.Done || res.Status != jobs.StatusCompleted {
		t.Fatalf("approve must complete, got %+v", res)
	}

	_, st = currentState(t, repo, job.ID)
	if !st.ApprovalOverride || !st.IsApproved {
		t.Fatalf("override markers not set: %+v", st)
	}
}

func TestWorkflowGenerationFailureFailsJob(t *testing.T) {
	brand := testBrand()
	repo := newFakeJobRepo()
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	eval := &fakeEvaluator{}
	hook := &fakeWebhook{ok: true}
	engine := newTestEngine(t, repo, gen, eval, hook, brand)

	job := seedJob(t, repo, brand.ID, jobs.WorkflowState{Prompt: "card"}, jobs.StatusPending)
	ctx := context.Background()

	if _, err := engine.Tick(ctx, job.ID); err != nil {
		t.Fatalf("pending tick: %v", err)
	}
	res, err := engine.Tick(ctx, job.ID)
	if err != nil {
		t.Fatalf("generate tick: %v", err)
	}
	if !res.Done || res.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %+v", res)
	}

	got, st := currentState(t, repo, job.ID)
	if got.Status != jobs.StatusFailed || got.Error == "" {
		t.Fatalf("failure not persisted: %+v", got)
	}
	if st.AttemptCount != 1 {
		t.Fatalf("attempt must still be counted, got %d", st.AttemptCount)
	}
	if eval.calls != 0 {
		t.Fatalf("evaluator must not run after a failed generation")
	}
}

func TestWorkflowEvaluatorFailureRecordsZeroScore(t *testing.T) {
	brand := testBrand()
	repo := newFakeJobRepo()
	gen := &fakeGenerator{}
	eval := &fakeEvaluator{err: errors.New("scoring timeout")}
	hook := &fakeWebhook{ok: true}
	engine := newTestEngine(t, repo, gen, eval, hook, brand)

	job := seedJob(t, repo, brand.ID, jobs.WorkflowState{Prompt: "ad"}, jobs.StatusPending)
	ctx := context.Background()

	var last TickResult
	for i := 0; i < 4; i++ {
		res, err := engine.Tick(ctx, job.ID)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		last = res
		if res.AwaitReview || res.Done {
			break
		}
	}

	// Zero score on attempt 1 parks for review rather than crashing.
	if !last.AwaitReview {
		t.Fatalf("expected review park on zero score, got %+v", last)
	}
	_, st := currentState(t, repo, job.ID)
	score := st.LatestScore()
	if score == nil || score.OverallScore != 0 || score.Approved {
		t.Fatalf("zero score not recorded: %+v", score)
	}
}

func TestWorkflowTerminalJobIsNoop(t *testing.T) {
	brand := testBrand()
	repo := newFakeJobRepo()
	engine := newTestEngine(t, repo, &fakeGenerator{}, &fakeEvaluator{}, &fakeWebhook{ok: true}, brand)

	job := seedJob(t, repo, brand.ID, jobs.WorkflowState{}, jobs.StatusCancelled)
	res, err := engine.Tick(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !res.Done || res.Status != jobs.StatusCancelled {
		t.Fatalf("terminal tick must be a done no-op, got %+v", res)
	}
}
