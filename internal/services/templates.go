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

const templatesYAMLEnv = "ASSET_TEMPLATES_YAML"

//go:embed templates.yaml
var templatesFS embed.FS

// AssetTemplate is a named layout scaffold a caller can pick at admission.
// The scaffold text is prepended to the caller's prompt.
type AssetTemplate struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Aspect   string `yaml:"aspect"`
	Scaffold string `yaml:"scaffold"`
}

type TemplateCatalog struct {
	Name      string          `yaml:"catalog"`
	Version   int             `yaml:"version"`
	Templates []AssetTemplate `yaml:"templates"`
}

var (
	templatesOnce    sync.Once
	templatesCatalog TemplateCatalog
)

// LoadTemplates returns the process-wide template catalog, read from
// ASSET_TEMPLATES_YAML when set, otherwise from the embedded default.
func LoadTemplates(log *logger.Logger) TemplateCatalog {
	templatesOnce.Do(func() {
		templatesCatalog = loadTemplateCatalog(log)
	})
	return templatesCatalog
}

func loadTemplateCatalog(log *logger.Logger) TemplateCatalog {
	raw, source := templateBytes(log)
	if len(raw) == 0 {
		return TemplateCatalog{}
	}
	var catalog TemplateCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		if log != nil {
			log.Warn("Invalid template catalog YAML; templates disabled", "source", source, "error", err.Error())
		}
		return TemplateCatalog{}
	}
	if err := validateTemplates(catalog); err != nil {
		if log != nil {
			log.Warn("Rejected template catalog YAML; templates disabled", "source", source, "error", err.Error())
		}
		return TemplateCatalog{}
	}
	if log != nil {
		log.Info("Loaded asset templates", "source", source, "templates", len(catalog.Templates))
	}
	return catalog
}

func templateBytes(log *logger.Logger) ([]byte, string) {
	if path := strings.TrimSpace(os.Getenv(templatesYAMLEnv)); path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, path
		}
		if log != nil {
			log.Warn("Could not read template catalog override; using embedded catalog", "path", path, "error", err.Error())
		}
	}
	raw, err := templatesFS.ReadFile("templates.yaml")
	if err != nil {
		return nil, ""
	}
	return raw, "embedded"
}

func validateTemplates(catalog TemplateCatalog) error {
	seen := make(map[string]bool, len(catalog.Templates))
	for _, tpl := range catalog.Templates {
		id := strings.TrimSpace(tpl.ID)
		if id == "" {
			return fmt.Errorf("template with empty id")
		}
		if seen[id] {
			return fmt.Errorf("duplicate template id %q", id)
		}
		seen[id] = true
		if strings.TrimSpace(tpl.Scaffold) == "" {
			return fmt.Errorf("template %q has no scaffold", id)
		}
	}
	return nil
}

// Lookup finds a template by id.
func (c TemplateCatalog) Lookup(id string) (AssetTemplate, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return AssetTemplate{}, false
	}
	for _, tpl := range c.Templates {
		if strings.EqualFold(strings.TrimSpace(tpl.ID), id) {
			return tpl, true
		}
	}
	return AssetTemplate{}, false
}

// Apply prepends the template scaffold to the caller's prompt.
func (t AssetTemplate) Apply(prompt string) string {
	scaffold := strings.TrimSpace(t.Scaffold)
	if scaffold == "" {
		return prompt
	}
	return scaffold + "\n\n" + strings.TrimSpace(prompt)
}
