package services

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

const rubricYAMLEnv = "COMPLIANCE_RUBRIC_YAML"

//go:embed rubric.yaml
var rubricFS embed.FS

// RubricCategory describes one scored dimension of a compliance audit.
type RubricCategory struct {
	Name     string  `yaml:"name"`
	Weight   float64 `yaml:"weight"`
	Criteria string  `yaml:"criteria"`
}

// Rubric is the audit definition handed to the evaluator: which categories
// get scored, their default weights, and the criteria text injected into
// the scoring prompt. Loaded once from COMPLIANCE_RUBRIC_YAML when set,
// otherwise from the embedded default.
type Rubric struct {
	Name       string           `yaml:"rubric"`
	Version    int              `yaml:"version"`
	Categories []RubricCategory `yaml:"categories"`
}

var (
	rubricOnce sync.Once
	rubricSpec Rubric
)

func fallbackRubric() Rubric {
	cats := make([]RubricCategory, 0, len(ScoredCategories))
	for _, name := range ScoredCategories {
		cats = append(cats, RubricCategory{Name: name, Weight: DefaultCategoryWeight})
	}
	return Rubric{Name: "brand_compliance", Version: 1, Categories: cats}
}

// LoadRubric returns the process-wide rubric. Invalid or missing YAML falls
// back to the built-in category set so the evaluator always has a rubric.
func LoadRubric(log *logger.Logger) Rubric {
	rubricOnce.Do(func() {
		rubricSpec = loadRubricSpec(log)
	})
	return rubricSpec
}

func loadRubricSpec(log *logger.Logger) Rubric {
	raw, source := rubricBytes(log)
	if len(raw) == 0 {
		return fallbackRubric()
	}

	var spec Rubric
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		if log != nil {
			log.Warn("Invalid rubric YAML; using built-in rubric", "source", source, "error", err.Error())
		}
		return fallbackRubric()
	}
	if err := validateRubric(spec); err != nil {
		if log != nil {
			log.Warn("Rejected rubric YAML; using built-in rubric", "source", source, "error", err.Error())
		}
		return fallbackRubric()
	}
	if log != nil {
		log.Info("Loaded compliance rubric", "source", source, "rubric", spec.Name, "version", spec.Version, "categories", len(spec.Categories))
	}
	return spec
}

func rubricBytes(log *logger.Logger) ([]byte, string) {
	if path := strings.TrimSpace(os.Getenv(rubricYAMLEnv)); path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, path
		}
		if log != nil {
			log.Warn("Could not read rubric override; using embedded rubric", "path", path, "error", err.Error())
		}
	}
	raw, err := rubricFS.ReadFile("rubric.yaml")
	if err != nil {
		return nil, ""
	}
	return raw, "embedded"
}

func validateRubric(spec Rubric) error {
	if len(spec.Categories) == 0 {
		return fmt.Errorf("rubric has no categories")
	}
	seen := make(map[string]bool, len(spec.Categories))
	for _, cat := range spec.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return fmt.Errorf("rubric category with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate rubric category %q", name)
		}
		seen[name] = true
		if cat.Weight < 0 {
			return fmt.Errorf("rubric category %q has negative weight", name)
		}
	}
	return nil
}

// CategoryNames returns rubric category names in declaration order.
func (r Rubric) CategoryNames() []string {
	out := make([]string, 0, len(r.Categories))
	for _, cat := range r.Categories {
		out = append(out, strings.TrimSpace(cat.Name))
	}
	return out
}

// Weights returns the rubric's default per-category weights; zero-weight
// entries fall back to DefaultCategoryWeight.
func (r Rubric) Weights() map[string]float64 {
	out := make(map[string]float64, len(r.Categories))
	for _, cat := range r.Categories {
		w := cat.Weight
		if w <= 0 {
			w = DefaultCategoryWeight
		}
		out[strings.TrimSpace(cat.Name)] = w
	}
	return out
}

// CriteriaBlock renders the per-category criteria for the scoring prompt.
func (r Rubric) CriteriaBlock() string {
	var sb strings.Builder
	for _, cat := range r.Categories {
		sb.WriteString("- ")
		sb.WriteString(strings.TrimSpace(cat.Name))
		if criteria := strings.TrimSpace(cat.Criteria); criteria != "" {
			sb.WriteString(": ")
			sb.WriteString(criteria)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
