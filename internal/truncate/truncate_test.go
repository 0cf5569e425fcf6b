package truncate

import (
	"os"
	"strings"
	"testing"
)

func TestGuard_Apply_UnderLimitsPassesThrough(t *testing.T) {
	g := NewGuard()
	g.TempDir = t.TempDir()

	content := "line one\nline two\n"
	out, path, ok := g.Apply(content)
	if !ok {
		t.Fatalf("expected ok=true for small content")
	}
	if out != content {
		t.Fatalf("expected content unchanged, got %q", out)
	}
	if path != "" {
		t.Fatalf("expected no spill path, got %q", path)
	}
}

func TestGuard_Apply_LineLimitSpillsAndTruncates(t *testing.T) {
	g := &Guard{MaxLines: 10, MaxBytes: DefaultMaxBytes, Mode: Head, TempDir: t.TempDir()}

	var b strings.Builder
	for i := 0; i < 10000; i++ {
		b.WriteString("x\n")
	}
	content := b.String()

	out, path, ok := g.Apply(content)
	if ok {
		t.Fatalf("expected ok=false for oversized content")
	}
	if path == "" {
		t.Fatalf("expected a spill path")
	}
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected truncation marker in output, got %q", out)
	}

	data, err := readFile(path)
	if err != nil {
		t.Fatalf("reading spilled file: %v", err)
	}
	if data != content {
		t.Fatalf("spilled file does not match original content verbatim")
	}
}

func TestGuard_Apply_TailMode(t *testing.T) {
	g := &Guard{MaxLines: 3, MaxBytes: DefaultMaxBytes, Mode: Tail, TempDir: t.TempDir()}
	content := "a\nb\nc\nd\ne\n"

	out, _, ok := g.Apply(content)
	if ok {
		t.Fatalf("expected truncation")
	}
	idx := strings.Index(out, "truncated")
	hintIdx := strings.Index(out, "Full output saved")
	if hintIdx > idx {
		t.Fatalf("expected hint before marker for tail mode")
	}
	if !strings.Contains(out, "e\n") {
		t.Fatalf("expected tail preview to retain the last lines, got %q", out)
	}
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
