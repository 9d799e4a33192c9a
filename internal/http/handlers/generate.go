package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rocoloco/brandguard-backend/internal/http/response"
	"github.com/rocoloco/brandguard-backend/internal/services"
)

type GenerateHandler struct {
	jobs services.JobService
}

func NewGenerateHandler(jobs services.JobService) *GenerateHandler {
	return &GenerateHandler{jobs: jobs}
}

type generateRequest struct {
	BrandID        string `json:"brand_id" binding:"required"`
	Prompt         string `json:"prompt" binding:"required"`
	TemplateID     string `json:"template_id"`
	WebhookURL     string `json:"webhook_url"`
	AsyncMode      bool   `json:"async_mode"`
	IdempotencyKey string `json:"idempotency_key"`
}

// POST /v1/generate
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	brandID, err := uuid.Parse(strings.TrimSpace(req.BrandID))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_brand_id", err)
		return
	}

	// The header form wins over the body field when both are supplied.
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = req.IdempotencyKey
	}

	out, err := h.jobs.StartJob(c.Request.Context(), services.StartJobInput{
		BrandID:        brandID,
		Prompt:         req.Prompt,
		TemplateID:     req.TemplateID,
		WebhookURL:     req.WebhookURL,
		AsyncMode:      req.AsyncMode,
		IdempotencyKey: key,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}

	message := "job accepted"
	if out.Replayed {
		message = "idempotent replay; existing job returned"
	}

	payload := gin.H{
		"job_id":  out.Job.ID,
		"status":  out.Job.Status,
		"message": message,
	}
	if out.ImageURL != "" {
		payload["image_url"] = out.ImageURL
	}
	if out.Score != nil {
		payload["compliance_score"] = out.Score
	}
	response.RespondOK(c, payload)
}
