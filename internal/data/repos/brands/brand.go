package brands

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/rocoloco/brandguard-backend/internal/domain/brands"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

type BrandRepo interface {
	Create(dbc dbctx.Context, brand *types.Brand) (*types.Brand, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Brand, error)
}

type brandRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBrandRepo(db *gorm.DB, baseLog *logger.Logger) BrandRepo {
	return &brandRepo{
		db:  db,
		log: baseLog.With("repo", "BrandRepo"),
	}
}

func (r *brandRepo) Create(dbc dbctx.Context, brand *types.Brand) (*types.Brand, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if brand == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(brand).Error; err != nil {
		return nil, err
	}
	return brand, nil
}

func (r *brandRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Brand, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var brand types.Brand
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&brand).Error
	if err != nil {
		return nil, err
	}
	if brand.ID == uuid.Nil {
		return nil, nil
	}
	return &brand, nil
}

// Weights decodes the brand's per-category weight overrides; nil when unset.
func Weights(brand *types.Brand) map[string]float64 {
	if brand == nil || len(brand.CategoryWeights) == 0 {
		return nil
	}
	var out map[string]float64
	if err := json.Unmarshal(brand.CategoryWeights, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LogoKeys decodes the brand's logo asset keys.
func LogoKeys(brand *types.Brand) []string {
	if brand == nil || len(brand.LogoAssetKeys) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(brand.LogoAssetKeys, &out); err != nil {
		return nil
	}
	return out
}
