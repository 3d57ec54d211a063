package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	logLevel = LevelInfo
}

// TestCategoriesLog verifies that categories create log files when enabled.
func TestCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	defer resetState()

	if err := Initialize(tempDir, Settings{Enabled: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	categories := []Category{
		CategoryBus, CategoryAgents, CategoryTools,
		CategoryArtifacts, CategoryUI, CategoryConversation,
	}
	for _, cat := range categories {
		Get(cat).Info("test entry for %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".hive", "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	found := make(map[string]bool)
	for _, e := range entries {
		for _, cat := range categories {
			if strings.Contains(e.Name(), string(cat)) {
				found[string(cat)] = true
			}
		}
	}
	for _, cat := range categories {
		if !found[string(cat)] {
			t.Errorf("no log file created for category %s", cat)
		}
	}
}

// TestProductionModeNoLogs verifies nothing is written when logging is off.
func TestProductionModeNoLogs(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	defer resetState()

	if err := Initialize(tempDir, Settings{}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Bus("this should go nowhere")
	ToolsDebug("and this too")

	if _, err := os.Stat(filepath.Join(tempDir, ".hive", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

// TestCategoryRestriction verifies the category list limits which files are
// written.
func TestCategoryRestriction(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	defer resetState()

	err := Initialize(tempDir, Settings{
		Enabled:    true,
		Level:      "info",
		Categories: []string{"bus", "tools"},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Bus("routed")
	Tools("dispatched")
	Agents("should be filtered out")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".hive", "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), string(CategoryAgents)) {
			t.Errorf("agents category should not have a log file, found %s", e.Name())
		}
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 log files (bus, tools), got %d", len(entries))
	}
}

func TestIsCategoryEnabled(t *testing.T) {
	resetState()
	defer resetState()

	applySettings(Settings{Enabled: true, Categories: []string{"bus"}})

	tests := []struct {
		category Category
		want     bool
	}{
		{CategoryBus, true},
		{CategoryTools, false},
		{CategoryAgents, false}, // not listed, filtered out
	}
	for _, tt := range tests {
		if got := IsCategoryEnabled(tt.category); got != tt.want {
			t.Errorf("IsCategoryEnabled(%s) = %v, want %v", tt.category, got, tt.want)
		}
	}

	applySettings(Settings{Enabled: true})
	if !IsCategoryEnabled(CategoryAgents) {
		t.Error("empty category list should enable every category")
	}
}
