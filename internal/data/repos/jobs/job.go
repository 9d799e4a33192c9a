package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) (*types.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	// GetByIdempotencyKey returns the non-expired job holding key, or nil.
	GetByIdempotencyKey(dbc dbctx.Context, key string) (*types.Job, error)
	// ReleaseExpiredIdempotencyKey clears key from rows already past their
	// expires_at, so the unique index stops blocking a fresh admission
	// before the reaper sweeps them. Reports whether a row was updated.
	ReleaseExpiredIdempotencyKey(dbc dbctx.Context, key string) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// ListExpired returns up to limit jobs whose expires_at has passed,
	// oldest first.
	ListExpired(dbc dbctx.Context, limit int) ([]*types.Job, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) GetByIdempotencyKey(dbc dbctx.Context, key string) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(dbc.Ctx).
		Where("idempotency_key = ? AND expires_at > ?", key, time.Now().UTC()).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) ReleaseExpiredIdempotencyKey(dbc dbctx.Context, key string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("idempotency_key = ? AND expires_at <= ?", key, time.Now().UTC()).
		Update("idempotency_key", nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) ListExpired(dbc dbctx.Context, limit int) ([]*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Job
	err := transaction.WithContext(dbc.Ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Job{}).Error
}
