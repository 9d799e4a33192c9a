package brands

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Brand struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Name string `gorm:"column:name;not null" json:"name"`

	// CompressedProfile is the condensed, token-bounded rule summary handed
	// to the generation model on every attempt.
	CompressedProfile string `gorm:"column:compressed_profile;type:text" json:"compressed_profile"`

	// Guidelines is the complete, unabridged rule set handed to the
	// evaluation model.
	Guidelines datatypes.JSON `gorm:"column:guidelines;type:jsonb" json:"guidelines"`

	// LogoAssetKeys are object-store keys of the brand's logo files,
	// attached to generation requests when the logo policy asks for them.
	LogoAssetKeys datatypes.JSON `gorm:"column:logo_asset_keys;type:jsonb" json:"logo_asset_keys"`

	// CategoryWeights overrides the aggregator's default per-category weight.
	CategoryWeights datatypes.JSON `gorm:"column:category_weights;type:jsonb" json:"category_weights,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Brand) TableName() string { return "brand" }
