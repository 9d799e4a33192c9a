package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedTemplateCatalog(t *testing.T) {
	catalog := loadTemplateCatalog(nil)
	if len(catalog.Templates) == 0 {
		t.Fatal("embedded catalog is empty")
	}
	tpl, ok := catalog.Lookup("banner")
	if !ok {
		t.Fatal("banner template missing")
	}
	if tpl.Aspect != "wide" {
		t.Fatalf("banner aspect = %q", tpl.Aspect)
	}

	// Lookup ignores case and surrounding whitespace.
	if _, ok := catalog.Lookup("  Social_Post "); !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if _, ok := catalog.Lookup("postcard"); ok {
		t.Fatal("unknown id must not resolve")
	}
}

func TestTemplateApply(t *testing.T) {
	tpl := AssetTemplate{ID: "x", Scaffold: "Design a tall poster."}
	got := tpl.Apply("  neon skyline  ")
	if !strings.HasPrefix(got, "Design a tall poster.") || !strings.HasSuffix(got, "neon skyline") {
		t.Fatalf("Apply = %q", got)
	}

	empty := AssetTemplate{ID: "y"}
	if got := empty.Apply("neon skyline"); got != "neon skyline" {
		t.Fatalf("empty scaffold changed prompt: %q", got)
	}
}

func TestTemplateCatalogOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	override := `catalog: custom
version: 3
templates:
  - id: story
    name: Story
    aspect: tall
    scaffold: Design a tall story frame.
`
	if err := os.WriteFile(path, []byte(override), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(templatesYAMLEnv, path)

	catalog := loadTemplateCatalog(nil)
	if catalog.Name != "custom" || len(catalog.Templates) != 1 {
		t.Fatalf("loaded %+v", catalog)
	}
	if _, ok := catalog.Lookup("banner"); ok {
		t.Fatal("override must replace the embedded catalog")
	}
}

func TestTemplateCatalogRejectsDuplicates(t *testing.T) {
	bad := TemplateCatalog{Templates: []AssetTemplate{
		{ID: "a", Scaffold: "x"},
		{ID: "a", Scaffold: "y"},
	}}
	if err := validateTemplates(bad); err == nil {
		t.Fatal("expected duplicate id error")
	}
	noScaffold := TemplateCatalog{Templates: []AssetTemplate{{ID: "a"}}}
	if err := validateTemplates(noScaffold); err == nil {
		t.Fatal("expected missing scaffold error")
	}
}
