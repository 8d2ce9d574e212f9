package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_Defaults(t *testing.T) {
	pm := NewManager("")
	if err := pm.Validate(); err != nil {
		t.Fatal(err)
	}

	prompt, err := pm.Get(StageQuery)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(prompt, "You are QueryPilot") {
		t.Errorf("identity should come first, got %q", prompt[:40])
	}
	if !strings.Contains(prompt, "## Task: write the query") {
		t.Error("query directive missing")
	}
}

func TestManager_DirectoryOverrides(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"identity.md": "Identity Override",
		"chart.md":    "Chart Override",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	pm := NewManager(dir)
	chart, err := pm.Get(StageChart)
	if err != nil {
		t.Fatal(err)
	}
	if chart != "Identity Override\n\n---\n\nChart Override" {
		t.Errorf("unexpected chart prompt: %q", chart)
	}

	// Stages without an override file fall back to the embedded directive.
	summary, err := pm.Get(StageSummary)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "Identity Override") || !strings.Contains(summary, "## Task: summarize") {
		t.Errorf("unexpected summary prompt: %q", summary)
	}
}

func TestManager_UnknownStage(t *testing.T) {
	if _, err := NewManager("").Get(Stage("nope")); err == nil {
		t.Error("expected error for unknown stage")
	}
}
