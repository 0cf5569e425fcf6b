package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuild_PresetSubstitution(t *testing.T) {
	got := Build(Config{
		Preset:  PresetDefault,
		Context: &Context{ToolNames: []string{"Read", "Write"}},
	})
	if !strings.Contains(got, "Read, Write") {
		t.Fatalf("expected tool names substituted, got %q", got)
	}
}

func TestBuild_PrependAppend(t *testing.T) {
	got := Build(Config{Preset: PresetMinimal, Prepend: "PRE", Append: "POST"})
	if !strings.HasPrefix(got, "PRE") {
		t.Fatalf("expected prepend first, got %q", got)
	}
	if !strings.HasSuffix(got, "POST") {
		t.Fatalf("expected append last, got %q", got)
	}
}

func TestBuild_Custom(t *testing.T) {
	got := Build(Config{Custom: "totally custom"})
	if !strings.Contains(got, "totally custom") {
		t.Fatalf("got %q", got)
	}
}

func TestBuild_MinimalPresetNonEmpty(t *testing.T) {
	got := Build(Config{Preset: PresetMinimal})
	if got == "" {
		t.Fatal("minimal preset should not be empty")
	}
}

func TestBuild_ZeroValueConfigIsEmpty(t *testing.T) {
	got := Build(Config{})
	if got != "" {
		t.Fatalf("expected empty prompt for a zero-value config (spec §4.8), got %q", got)
	}
}

func TestBuild_UnknownPresetFallsBackToDefault(t *testing.T) {
	got := Build(Config{Preset: Preset("nonexistent")})
	if got == "" {
		t.Fatal("expected an unknown, non-empty preset name to fall back to the default preset")
	}
}

func TestBuild_SettingSources(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("project rules"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Build(Config{Preset: PresetMinimal, SettingSources: []string{dir}})
	if !strings.Contains(got, "project rules") {
		t.Fatalf("expected project context merged in, got %q", got)
	}
}
