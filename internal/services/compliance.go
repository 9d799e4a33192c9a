package services

import (
	"strings"

	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
)

const (
	// Categories scored by the evaluator.
	CategoryColorPalette    = "color_palette"
	CategoryTypography      = "typography"
	CategoryLogoUsage       = "logo_usage"
	CategoryToneComposition = "tone_composition"

	// DefaultCategoryWeight applies when a brand carries no override for a
	// category.
	DefaultCategoryWeight = 0.25

	// ApprovalThreshold is the minimum weighted overall score for an
	// automatic approval.
	ApprovalThreshold = 80.0
)

// ScoredCategories is the canonical category order for reports.
var ScoredCategories = []string{
	CategoryColorPalette,
	CategoryTypography,
	CategoryLogoUsage,
	CategoryToneComposition,
}

// AggregateCompliance folds per-category results into one ComplianceScore.
// Weights come from the brand profile; missing entries fall back to
// DefaultCategoryWeight. Weights are renormalized over the categories
// actually present so a partial evaluator response still yields a score on
// the 0..100 scale.
func AggregateCompliance(categories []jobs.CategoryScore, weights map[string]float64) jobs.ComplianceScore {
	out := jobs.ComplianceScore{}
	if len(categories) == 0 {
		out.Summary = "no category scores returned"
		return out
	}

	// The schema asks the model for 0..100 but cannot guarantee it; clamp
	// before weighing so the stored history stays on scale too.
	cats := make([]jobs.CategoryScore, len(categories))
	copy(cats, categories)

	var weighted, totalWeight float64
	var failed []string
	for i := range cats {
		cats[i].Score = clampScore(cats[i].Score)
		cat := cats[i]
		w := DefaultCategoryWeight
		if weights != nil {
			if override, ok := weights[strings.TrimSpace(cat.Category)]; ok && override > 0 {
				w = override
			}
		}
		weighted += cat.Score * w
		totalWeight += w
		if !cat.Passed {
			failed = append(failed, cat.Category)
		}
	}
	out.Categories = cats
	if totalWeight > 0 {
		out.OverallScore = weighted / totalWeight
	}
	out.Approved = out.OverallScore >= ApprovalThreshold

	switch {
	case out.Approved:
		out.Summary = "meets brand guidelines"
	case len(failed) > 0:
		out.Summary = "failing categories: " + strings.Join(failed, ", ")
	default:
		out.Summary = "below approval threshold"
	}
	return out
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// ZeroScore is recorded when the evaluator itself errors. A zero keeps the
// attempt history honest and routes the job into correction or review
// instead of silently approving.
func ZeroScore(reason string) jobs.ComplianceScore {
	cats := make([]jobs.CategoryScore, 0, len(ScoredCategories))
	for _, name := range ScoredCategories {
		cats = append(cats, jobs.CategoryScore{
			Category:   name,
			Score:      0,
			Passed:     false,
			Violations: []string{"evaluation unavailable"},
		})
	}
	summary := "evaluation failed"
	if strings.TrimSpace(reason) != "" {
		summary = "evaluation failed: " + strings.TrimSpace(reason)
	}
	return jobs.ComplianceScore{
		OverallScore: 0,
		Categories:   cats,
		Approved:     false,
		Summary:      summary,
	}
}
