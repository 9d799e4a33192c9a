package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/rocoloco/brandguard-backend/internal/data/repos/testutil"
	types "github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
)

func newJob(brandID uuid.UUID, age time.Duration) *types.Job {
	now := time.Now().UTC()
	created := now.Add(-age)
	return &types.Job{
		ID:        uuid.New(),
		BrandID:   brandID,
		Status:    types.StatusPending,
		State:     datatypes.JSON([]byte(`{}`)),
		CreatedAt: created,
		UpdatedAt: created,
		ExpiresAt: created.Add(types.JobTTL),
	}
}

func TestJobRepoCreateGetDelete(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := newJob(uuid.New(), 0)
	if _, err := repo.Create(dbc, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("GetByID: expected %v got %v", job.ID, got)
	}

	if got, err := repo.GetByID(dbc, uuid.New()); err != nil || got != nil {
		t.Fatalf("GetByID unknown: err=%v got=%v", err, got)
	}

	if err := repo.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":   types.StatusGenerating,
		"progress": 25,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, err = repo.GetByID(dbc, job.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID after update: err=%v", err)
	}
	if got.Status != types.StatusGenerating || got.Progress != 25 {
		t.Fatalf("UpdateFields not applied: status=%s progress=%d", got.Status, got.Progress)
	}
	if !got.UpdatedAt.After(job.UpdatedAt) {
		t.Fatalf("UpdateFields should bump updated_at")
	}

	if err := repo.Delete(dbc, job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := repo.GetByID(dbc, job.ID); err != nil || got != nil {
		t.Fatalf("GetByID after delete: err=%v got=%v", err, got)
	}
}

func TestJobRepoIdempotencyKeyExpiry(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	key := "client-key-1"
	live := newJob(uuid.New(), 1*time.Hour)
	live.IdempotencyKey = &key
	if _, err := repo.Create(dbc, live); err != nil {
		t.Fatalf("Create live: %v", err)
	}

	got, err := repo.GetByIdempotencyKey(dbc, key)
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if got == nil || got.ID != live.ID {
		t.Fatalf("expected live job for key, got %v", got)
	}

	// An expired holder of a key must not be returned.
	staleKey := "client-key-2"
	stale := newJob(uuid.New(), 25*time.Hour)
	stale.IdempotencyKey = &staleKey
	if _, err := repo.Create(dbc, stale); err != nil {
		t.Fatalf("Create stale: %v", err)
	}
	if got, err := repo.GetByIdempotencyKey(dbc, staleKey); err != nil || got != nil {
		t.Fatalf("expired key should not resolve: err=%v got=%v", err, got)
	}

	if got, err := repo.GetByIdempotencyKey(dbc, "no-such-key"); err != nil || got != nil {
		t.Fatalf("unknown key should not resolve: err=%v got=%v", err, got)
	}
}

func TestJobRepoReleaseExpiredIdempotencyKey(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	key := "client-key-3"
	live := newJob(uuid.New(), 1*time.Hour)
	live.IdempotencyKey = &key
	if _, err := repo.Create(dbc, live); err != nil {
		t.Fatalf("Create live: %v", err)
	}

	// A live holder keeps its key.
	released, err := repo.ReleaseExpiredIdempotencyKey(dbc, key)
	if err != nil {
		t.Fatalf("ReleaseExpiredIdempotencyKey: %v", err)
	}
	if released {
		t.Fatalf("must not release a key held by a live job")
	}

	staleKey := "client-key-4"
	stale := newJob(uuid.New(), 25*time.Hour)
	stale.IdempotencyKey = &staleKey
	if _, err := repo.Create(dbc, stale); err != nil {
		t.Fatalf("Create stale: %v", err)
	}

	released, err = repo.ReleaseExpiredIdempotencyKey(dbc, staleKey)
	if err != nil {
		t.Fatalf("ReleaseExpiredIdempotencyKey stale: %v", err)
	}
	if !released {
		t.Fatalf("expected the expired holder's key to be released")
	}
	got, err := repo.GetByID(dbc, stale.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID stale: err=%v", err)
	}
	if got.IdempotencyKey != nil {
		t.Fatalf("stale job still holds key %q", *got.IdempotencyKey)
	}

	// Freed key admits a new holder without tripping the unique index.
	reuse := newJob(uuid.New(), 0)
	reuse.IdempotencyKey = &staleKey
	if _, err := repo.Create(dbc, reuse); err != nil {
		t.Fatalf("Create after release: %v", err)
	}
}

func TestJobRepoListExpired(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	brandID := uuid.New()
	expired := newJob(brandID, 25*time.Hour)
	fresh := newJob(brandID, 23*time.Hour)
	if _, err := repo.Create(dbc, expired); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	if _, err := repo.Create(dbc, fresh); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	rows, err := repo.ListExpired(dbc, 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != expired.ID {
		t.Fatalf("ListExpired: expected only 25h-old job, got %d rows", len(rows))
	}

	// Batch limit is honored.
	for i := 0; i < 5; i++ {
		if _, err := repo.Create(dbc, newJob(brandID, 30*time.Hour)); err != nil {
			t.Fatalf("Create batch: %v", err)
		}
	}
	rows, err = repo.ListExpired(dbc, 3)
	if err != nil {
		t.Fatalf("ListExpired limited: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("ListExpired limit: expected 3 got %d", len(rows))
	}
}
