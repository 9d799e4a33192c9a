package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	brandrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/brands"
	"github.com/rocoloco/brandguard-backend/internal/domain/brands"
	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/platform/openai"
)

// Evaluator scores a candidate image against a brand's guidelines.
type Evaluator interface {
	Evaluate(ctx context.Context, brand *brands.Brand, imageURL string) (jobs.ComplianceScore, error)
}

type evaluator struct {
	log    *logger.Logger
	ai     openai.Client
	rubric Rubric
}

func NewEvaluator(log *logger.Logger, ai openai.Client) Evaluator {
	return &evaluator{
		log:    log.With("service", "Evaluator"),
		ai:     ai,
		rubric: LoadRubric(log),
	}
}

const evaluatorRole = `You are a strict brand compliance auditor.
Score the supplied image against the brand guidelines on a 0-100 scale per
category. A category passes at 70 or above. List concrete violations for any
category that fails. Judge only what is visible in the image.`

func (e *evaluator) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString(evaluatorRole)
	if block := e.rubric.CriteriaBlock(); block != "" {
		sb.WriteString("\n\nCategory criteria:\n")
		sb.WriteString(block)
	}
	return sb.String()
}

func complianceSchema(categoryNames []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"categories": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category": map[string]any{
							"type": "string",
							"enum": categoryNames,
						},
						"score":  map[string]any{"type": "number", "minimum": 0, "maximum": 100},
						"passed": map[string]any{"type": "boolean"},
						"violations": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required":             []string{"category", "score", "passed", "violations"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"categories"},
		"additionalProperties": false,
	}
}

func (e *evaluator) Evaluate(ctx context.Context, brand *brands.Brand, imageURL string) (jobs.ComplianceScore, error) {
	if brand == nil {
		return jobs.ComplianceScore{}, fmt.Errorf("brand required")
	}
	if strings.TrimSpace(imageURL) == "" {
		return jobs.ComplianceScore{}, fmt.Errorf("image url required")
	}

	var sb strings.Builder
	sb.WriteString("Brand guidelines:\n")
	sb.WriteString(guidelinesText(brand))
	sb.WriteString("\n\nScore the attached image per category.")

	obj, err := e.ai.GenerateJSONWithImages(ctx, e.systemPrompt(), sb.String(),
		[]openai.ImageInput{{ImageURL: imageURL, Detail: "high"}},
		"compliance_report", complianceSchema(e.rubric.CategoryNames()))
	if err != nil {
		return jobs.ComplianceScore{}, fmt.Errorf("score image: %w", err)
	}

	cats, err := decodeCategories(obj)
	if err != nil {
		return jobs.ComplianceScore{}, err
	}

	score := AggregateCompliance(cats, mergeWeights(e.rubric.Weights(), brandrepo.Weights(brand)))
	e.log.Info("Scored image",
		"brand_id", brand.ID,
		"overall", score.OverallScore,
		"approved", score.Approved,
	)
	return score, nil
}

// guidelinesText prefers the full guideline document; the compressed
// profile is a fallback for brands created before full guidelines existed.
func guidelinesText(brand *brands.Brand) string {
	if len(brand.Guidelines) > 0 && string(brand.Guidelines) != "null" {
		return string(brand.Guidelines)
	}
	return strings.TrimSpace(brand.CompressedProfile)
}

// mergeWeights overlays per-brand overrides on the rubric defaults.
func mergeWeights(defaults, overrides map[string]float64) map[string]float64 {
	if len(overrides) == 0 {
		return defaults
	}
	out := make(map[string]float64, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

func decodeCategories(obj map[string]any) ([]jobs.CategoryScore, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Categories []jobs.CategoryScore `json:"categories"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode compliance report: %w", err)
	}
	if len(parsed.Categories) == 0 {
		return nil, fmt.Errorf("compliance report has no categories")
	}
	return parsed.Categories, nil
}
