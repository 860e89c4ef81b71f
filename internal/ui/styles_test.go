package ui

import (
	"os"
	"strings"
	"testing"
)

func TestShouldUseColor_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor() {
		t.Error("ShouldUseColor() = true with NO_COLOR set")
	}
}

func TestIsTerminal_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer f.Close()

	if IsTerminal(f) {
		t.Error("IsTerminal() = true for a regular file")
	}
}

func TestRenderKeepsText(t *testing.T) {
	for _, render := range []func(string) string{RenderPass, RenderWarn, RenderFail, RenderAccent, RenderMuted, RenderBold, RenderHeader} {
		if got := render("synced"); !strings.Contains(got, "synced") {
			t.Errorf("render dropped text: %q", got)
		}
	}
}

func TestTable(t *testing.T) {
	got := Table([][]string{
		{"KIND", "DIRTY"},
		{"project", "2"},
		{"task", "10"},
	})

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Table() rendered %d lines, want 3:\n%s", len(lines), got)
	}
	// Second column starts at the same offset on every line.
	col := strings.Index(lines[1], "2")
	if col != len("project")+2 {
		t.Errorf("second column at %d, want %d:\n%s", col, len("project")+2, got)
	}
	if strings.Index(lines[2], "10") != col {
		t.Errorf("columns not aligned:\n%s", got)
	}

	if Table(nil) != "" {
		t.Error("Table(nil) should be empty")
	}
}
