package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/gcs"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

func newTestReaper(t *testing.T, repo *fakeJobRepo, bucket *fakeBucket) *reaper {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &reaper{
		log:        log,
		jobs:       repo,
		bucket:     bucket,
		interval:   time.Hour,
		batchLimit: 100,
	}
}

func seedAgedJob(t *testing.T, repo *fakeJobRepo, status string, age time.Duration) *jobs.Job {
	t.Helper()
	created := time.Now().UTC().Add(-age)
	job := &jobs.Job{
		ID:        uuid.New(),
		BrandID:   uuid.New(),
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
		ExpiresAt: created.Add(jobs.JobTTL),
	}
	if _, err := repo.Create(dbctx.Context{Ctx: context.Background()}, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestReaperSweepDeletesExpired(t *testing.T) {
	repo := newFakeJobRepo()
	bucket := newFakeBucket()
	r := newTestReaper(t, repo, bucket)
	ctx := context.Background()

	expired := seedAgedJob(t, repo, jobs.StatusCompleted, 25*time.Hour)
	fresh := seedAgedJob(t, repo, jobs.StatusCompleted, 23*time.Hour)

	res, err := r.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.JobsDeleted != 1 {
		t.Fatalf("jobs_deleted = %d, want 1", res.JobsDeleted)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	if j, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, expired.ID); j != nil {
		t.Fatalf("expired job still present")
	}
	if j, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, fresh.ID); j == nil {
		t.Fatalf("unexpired job must survive the sweep")
	}
}

func TestReaperDeletesFailedJobAssets(t *testing.T) {
	repo := newFakeJobRepo()
	bucket := newFakeBucket()
	r := newTestReaper(t, repo, bucket)
	ctx := context.Background()

	failed := seedAgedJob(t, repo, jobs.StatusFailed, 25*time.Hour)
	completed := seedAgedJob(t, repo, jobs.StatusCompleted, 25*time.Hour)

	for i := 1; i <= 2; i++ {
		key := fmt.Sprintf("assets/%s/attempt-%d.png", failed.ID, i)
		if err := bucket.UploadFile(ctx, gcs.BucketCategoryAsset, key, bytes.NewReader([]byte("png"))); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}
	keepKey := fmt.Sprintf("assets/%s/attempt-1.png", completed.ID)
	if err := bucket.UploadFile(ctx, gcs.BucketCategoryAsset, keepKey, bytes.NewReader([]byte("png"))); err != nil {
		t.Fatalf("upload: %v", err)
	}

	res, err := r.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.JobsDeleted != 2 {
		t.Fatalf("jobs_deleted = %d, want 2", res.JobsDeleted)
	}
	if res.FilesDeleted != 2 {
		t.Fatalf("files_deleted = %d, want 2 (failed job only)", res.FilesDeleted)
	}
	// Completed-job assets stay until their own retention handling.
	if keys, _ := bucket.ListKeys(ctx, gcs.BucketCategoryAsset, "assets/"); len(keys) != 1 {
		t.Fatalf("surviving assets = %v, want just the completed job's", keys)
	}
}

func TestReaperFileFailureDoesNotAbortSweep(t *testing.T) {
	repo := newFakeJobRepo()
	bucket := newFakeBucket()
	r := newTestReaper(t, repo, bucket)
	ctx := context.Background()

	failed := seedAgedJob(t, repo, jobs.StatusFailed, 25*time.Hour)
	key := fmt.Sprintf("assets/%s/attempt-1.png", failed.ID)
	if err := bucket.UploadFile(ctx, gcs.BucketCategoryAsset, key, bytes.NewReader([]byte("png"))); err != nil {
		t.Fatalf("upload: %v", err)
	}
	bucket.deleteErr[key] = errors.New("storage hiccup")

	res, err := r.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.JobsDeleted != 1 {
		t.Fatalf("job record must still be deleted, got %d", res.JobsDeleted)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("file failure must be reported: %v", res.Errors)
	}
}

func TestReaperListFailureIsFailedSweep(t *testing.T) {
	repo := newFakeJobRepo()
	repo.listErr = errors.New("db offline")
	r := newTestReaper(t, repo, newFakeBucket())

	if _, err := r.Sweep(context.Background(), 100); err == nil {
		t.Fatalf("a sweep that cannot list must fail outright")
	}
}

func TestReaperRespectsBatchLimit(t *testing.T) {
	repo := newFakeJobRepo()
	r := newTestReaper(t, repo, newFakeBucket())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedAgedJob(t, repo, jobs.StatusCompleted, 25*time.Hour)
	}

	res, err := r.Sweep(ctx, 2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.JobsDeleted != 2 {
		t.Fatalf("jobs_deleted = %d, want the batch limit", res.JobsDeleted)
	}
}
