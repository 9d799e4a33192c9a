package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/rocoloco/brandguard-backend/internal/data/repos/brands"
	types "github.com/rocoloco/brandguard-backend/internal/domain/brands"
	"github.com/rocoloco/brandguard-backend/internal/http/response"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

type BrandHandler struct {
	brands brands.BrandRepo
	log    *logger.Logger
}

func NewBrandHandler(repo brands.BrandRepo, baseLog *logger.Logger) *BrandHandler {
	return &BrandHandler{
		brands: repo,
		log:    baseLog.With("handler", "BrandHandler"),
	}
}

type createBrandRequest struct {
	Name              string             `json:"name" binding:"required"`
	CompressedProfile string             `json:"compressed_profile"`
	Guidelines        map[string]any     `json:"guidelines"`
	LogoAssetKeys     []string           `json:"logo_asset_keys"`
	CategoryWeights   map[string]float64 `json:"category_weights"`
}

// POST /v1/brands
func (h *BrandHandler) CreateBrand(c *gin.Context) {
	var req createBrandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	now := time.Now().UTC()
	brand := &types.Brand{
		ID:                uuid.New(),
		Name:              req.Name,
		CompressedProfile: req.CompressedProfile,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Guidelines != nil {
		raw, err := json.Marshal(req.Guidelines)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_guidelines", err)
			return
		}
		brand.Guidelines = datatypes.JSON(raw)
	}
	if req.LogoAssetKeys != nil {
		raw, err := json.Marshal(req.LogoAssetKeys)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_logo_asset_keys", err)
			return
		}
		brand.LogoAssetKeys = datatypes.JSON(raw)
	}
	if req.CategoryWeights != nil {
		raw, err := json.Marshal(req.CategoryWeights)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_category_weights", err)
			return
		}
		brand.CategoryWeights = datatypes.JSON(raw)
	}

	created, err := h.brands.Create(dbctx.Context{Ctx: c.Request.Context()}, brand)
	if err != nil {
		h.log.Error("Failed to create brand", "error", err.Error())
		response.RespondError(c, http.StatusInternalServerError, "brand_create_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"brand": created})
}

// GET /v1/brands/:id
func (h *BrandHandler) GetBrand(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_brand_id", err)
		return
	}
	brand, err := h.brands.GetByID(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		h.log.Error("Failed to load brand", "error", err.Error())
		response.RespondError(c, http.StatusInternalServerError, "brand_lookup_failed", err)
		return
	}
	if brand == nil {
		response.RespondError(c, http.StatusNotFound, "brand_not_found", errors.New("no brand with that id"))
		return
	}
	response.RespondOK(c, gin.H{"brand": brand})
}
