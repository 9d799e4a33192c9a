package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	brandrepo "github.com/rocoloco/brandguard-backend/internal/data/repos/brands"
	"github.com/rocoloco/brandguard-backend/internal/domain/brands"
	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/gcs"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
	"github.com/rocoloco/brandguard-backend/internal/platform/openai"
)

// GenerateParams describes one generation attempt.
type GenerateParams struct {
	JobID        string
	Brand        *brands.Brand
	Prompt       string
	Attempt      int
	IncludeLogos bool

	// Set on correction attempts: the model-side conversation carrying the
	// prior image and verdicts.
	SessionID string

	// Non-empty on tweak/correction attempts.
	Instruction string
}

// GenerateResult is the persisted outcome of one attempt.
type GenerateResult struct {
	ImageURL string
	AssetKey string

	// UsedLogos reports whether logo assets were actually attached. A brand
	// with no uploaded logos yields false even when they were requested.
	UsedLogos bool
}

// Generator produces one candidate image per call and persists it to object
// storage.
type Generator interface {
	Generate(ctx context.Context, p GenerateParams) (GenerateResult, error)
	OpenSession(ctx context.Context) (string, error)
	CloseSession(ctx context.Context, sessionID string) error
}

type generator struct {
	log    *logger.Logger
	ai     openai.Client
	bucket gcs.BucketService
}

func NewGenerator(log *logger.Logger, ai openai.Client, bucket gcs.BucketService) Generator {
	return &generator{
		log:    log.With("service", "Generator"),
		ai:     ai,
		bucket: bucket,
	}
}

func (g *generator) OpenSession(ctx context.Context) (string, error) {
	return g.ai.CreateConversation(ctx)
}

func (g *generator) CloseSession(ctx context.Context, sessionID string) error {
	return g.ai.DeleteConversation(ctx, sessionID)
}

func (g *generator) Generate(ctx context.Context, p GenerateParams) (GenerateResult, error) {
	var out GenerateResult
	if p.Brand == nil {
		return out, fmt.Errorf("brand required")
	}

	prompt := buildGenerationPrompt(p)

	var refs []openai.ImageInput
	if p.IncludeLogos {
		for _, key := range brandrepo.LogoKeys(p.Brand) {
			refs = append(refs, openai.ImageInput{
				ImageURL: g.bucket.GetPublicURL(gcs.BucketCategoryLogo, key),
				Detail:   "high",
			})
		}
	}

	var (
		img openai.ImageGeneration
		err error
	)
	if strings.TrimSpace(p.SessionID) != "" && strings.TrimSpace(p.Instruction) != "" {
		img, err = g.ai.GenerateImageInConversation(ctx, p.SessionID, prompt)
	} else {
		img, err = g.ai.GenerateImage(ctx, prompt, refs)
	}
	if err != nil {
		return out, fmt.Errorf("generate image: %w", err)
	}
	out.UsedLogos = p.IncludeLogos && len(refs) > 0

	key := fmt.Sprintf("assets/%s/attempt-%d.png", p.JobID, p.Attempt)
	if err := g.bucket.UploadFile(ctx, gcs.BucketCategoryAsset, key, bytes.NewReader(img.Bytes)); err != nil {
		return out, fmt.Errorf("persist image: %w", err)
	}

	out.AssetKey = key
	out.ImageURL = g.bucket.GetPublicURL(gcs.BucketCategoryAsset, key)
	g.log.Info("Generated attempt image",
		"job_id", p.JobID,
		"attempt", p.Attempt,
		"include_logos", p.IncludeLogos,
		"asset_key", key,
	)
	return out, nil
}

func buildGenerationPrompt(p GenerateParams) string {
	var sb strings.Builder

	if strings.TrimSpace(p.Instruction) != "" {
		sb.WriteString("Refine the previous image. Requested change: ")
		sb.WriteString(strings.TrimSpace(p.Instruction))
		sb.WriteString("\n\n")
	} else {
		sb.WriteString(strings.TrimSpace(p.Prompt))
		sb.WriteString("\n\n")
	}

	if profile := strings.TrimSpace(p.Brand.CompressedProfile); profile != "" {
		sb.WriteString("Brand guidelines to follow strictly:\n")
		sb.WriteString(profile)
		sb.WriteString("\n\n")
	}

	if p.IncludeLogos {
		sb.WriteString("Incorporate the attached brand logo assets faithfully. Do not redraw, distort, or recolor them.")
	} else {
		sb.WriteString("Do not include any logos, brand marks, or wordmarks in the image.")
	}
	return sb.String()
}

// jobStateInstruction picks the instruction text a correction attempt should
// use: an explicit user tweak wins over the evaluator's feedback.
func jobStateInstruction(st *jobs.WorkflowState) string {
	if s := strings.TrimSpace(st.UserTweakInstruction); s != "" {
		return s
	}
	if last := st.LatestScore(); last != nil {
		return correctionInstruction(*last)
	}
	return ""
}

func correctionInstruction(score jobs.ComplianceScore) string {
	var parts []string
	for _, cat := range score.Categories {
		if cat.Passed {
			continue
		}
		if len(cat.Violations) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", cat.Category, strings.Join(cat.Violations, "; ")))
		} else {
			parts = append(parts, cat.Category)
		}
	}
	if len(parts) == 0 {
		return "improve overall adherence to the brand guidelines"
	}
	return "fix these compliance violations: " + strings.Join(parts, ". ")
}
