package services

import (
	"context"
	"fmt"
	"time"

	jobrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/jobs"
	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/envutil"
	"github.com/rocoloco/brandguard-backend/internal/platform/gcs"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

// SweepResult reports one reaper pass. Per-item failures are collected, not
// fatal; only an inability to even list expired jobs fails the sweep.
type SweepResult struct {
	JobsDeleted  int      `json:"jobs_deleted"`
	FilesDeleted int      `json:"files_deleted"`
	Errors       []string `json:"errors,omitempty"`
}

// Reaper deletes expired job records and, for failed jobs, their orphaned
// generated assets.
type Reaper interface {
	Sweep(ctx context.Context, limit int) (SweepResult, error)
	Run(ctx context.Context)
}

type reaper struct {
	log    *logger.Logger
	jobs   jobrepo.JobRepo
	bucket gcs.BucketService

	interval   time.Duration
	batchLimit int
}

func NewReaper(log *logger.Logger, jobRepo jobrepo.JobRepo, bucket gcs.BucketService) Reaper {
	return &reaper{
		log:        log.With("service", "Reaper"),
		jobs:       jobRepo,
		bucket:     bucket,
		interval:   envutil.Seconds("REAPER_INTERVAL_SECONDS", 3600),
		batchLimit: envutil.Int("REAPER_BATCH_LIMIT", 100),
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Reaper started", "interval", r.interval.String(), "batch_limit", r.batchLimit)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Reaper stopped")
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx, r.batchLimit)
			if err != nil {
				r.log.Error("Sweep failed", "error", err.Error())
				continue
			}
			if res.JobsDeleted > 0 || len(res.Errors) > 0 {
				r.log.Info("Sweep finished",
					"jobs_deleted", res.JobsDeleted,
					"files_deleted", res.FilesDeleted,
					"errors", len(res.Errors),
				)
			}
		}
	}
}

// Sweep deletes up to limit expired jobs, whatever state they died in.
func (r *reaper) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult

	expired, err := r.jobs.ListExpired(dbctx.Context{Ctx: ctx}, limit)
	if err != nil {
		return res, fmt.Errorf("list expired jobs: %w", err)
	}

	for _, job := range expired {
		if job.Status == jobs.StatusFailed {
			res.FilesDeleted += r.deleteAssets(ctx, job.ID.String(), &res)
		}

		if err := r.jobs.Delete(dbctx.Context{Ctx: ctx}, job.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("delete job %s: %v", job.ID, err))
			continue
		}
		res.JobsDeleted++
	}
	return res, nil
}

// deleteAssets removes a failed job's generated files. Best effort: listing
// or per-file failures are recorded and the sweep moves on.
func (r *reaper) deleteAssets(ctx context.Context, jobID string, res *SweepResult) int {
	if r.bucket == nil {
		return 0
	}
	prefix := fmt.Sprintf("assets/%s/", jobID)

	keys, err := r.bucket.ListKeys(ctx, gcs.BucketCategoryAsset, prefix)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list assets for job %s: %v", jobID, err))
		return 0
	}

	deleted := 0
	for _, key := range keys {
		ok, err := r.bucket.DeleteFile(ctx, gcs.BucketCategoryAsset, key)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("delete asset %s: %v", key, err))
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted
}
