// Package truncate caps oversized tool output before it enters chat history,
// spilling the full content to a temp file with a recovery hint (spec §4.4).
package truncate

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxLines = 2000
	DefaultMaxBytes = 50 * 1024

	outputSubdir   = "formagent-sdk-output"
	retentionDays  = 7
	filenamePrefix = "tool_"
)

// Mode selects which end of the content is retained as the preview.
type Mode string

const (
	Head Mode = "head"
	Tail Mode = "tail"
)

// Guard enforces line/byte limits on tool output.
type Guard struct {
	MaxLines int
	MaxBytes int
	Mode     Mode
	TempDir  string // base temp dir; defaults to os.TempDir()
}

// NewGuard creates a Guard with spec defaults (2000 lines OR 50 KB, head preview).
func NewGuard() *Guard {
	return &Guard{MaxLines: DefaultMaxLines, MaxBytes: DefaultMaxBytes, Mode: Head}
}

// Apply checks content against the guard's limits. If both are respected,
// content is returned unchanged and ok is true. Otherwise it spills the full
// content to a temp file and returns a truncated preview plus a recovery
// hint, with ok=false.
func (g *Guard) Apply(content string) (result string, path string, ok bool) {
	maxLines := g.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	maxBytes := g.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	lines := splitLinesKeepEnds(content)
	if len(lines) <= maxLines && len(content) <= maxBytes {
		return content, "", true
	}

	mode := g.Mode
	if mode == "" {
		mode = Head
	}

	preview, unit, count := g.slice(lines, maxLines, maxBytes, mode)

	path, err := g.spill(content)
	if err != nil {
		log.Warn().Err(err).Msg("truncate: failed to spill full output to temp file")
		path = ""
	}

	marker := fmt.Sprintf("...%d %s truncated...", count, unit)
	hint := fmt.Sprintf("Full output saved to %s. Use the Read or Grep tool to inspect it.", path)

	var b strings.Builder
	switch mode {
	case Tail:
		b.WriteString(hint)
		b.WriteString("\n")
		b.WriteString(marker)
		b.WriteString("\n")
		b.WriteString(preview)
	default:
		b.WriteString(preview)
		b.WriteString("\n")
		b.WriteString(marker)
		b.WriteString("\n")
		b.WriteString(hint)
	}
	return b.String(), path, false
}

// slice extends the retained preview line by line until adding the next line
// would violate either limit, returning the preview text, the unit name of
// whichever limit was hit first, and the truncated count in that unit.
func (g *Guard) slice(lines []string, maxLines, maxBytes int, mode Mode) (preview string, unit string, count int) {
	ordered := lines
	if mode == Tail {
		ordered = reversed(lines)
	}

	var kept []string
	byteTotal := 0
	hitBytes := false
	for _, l := range ordered {
		if len(kept) >= maxLines {
			break
		}
		if byteTotal+len(l) > maxBytes {
			hitBytes = true
			break
		}
		kept = append(kept, l)
		byteTotal += len(l)
	}

	if mode == Tail {
		kept = reversed(kept)
	}

	totalLines := len(lines)
	keptLines := len(kept)
	if !hitBytes {
		unit = "lines"
		count = totalLines - keptLines
	} else {
		unit = "bytes"
		totalBytes := 0
		for _, l := range lines {
			totalBytes += len(l)
		}
		count = totalBytes - byteTotal
	}

	return strings.Join(kept, ""), unit, count
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

// splitLinesKeepEnds splits content into lines, preserving the trailing
// newline of every line but the last so rejoining reproduces the original.
func splitLinesKeepEnds(content string) []string {
	if content == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

func (g *Guard) spill(content string) (string, error) {
	base := g.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, outputSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("truncate: mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s%d_%s.txt", filenamePrefix, time.Now().UnixMilli(), randomBase36(6))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("truncate: write %s: %w", path, err)
	}
	return path, nil
}

func randomBase36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// Sweep deletes tool_*.txt files under dir/formagent-sdk-output older than
// retentionDays, based on the epoch-millis timestamp embedded in the
// filename.
func Sweep(baseTempDir string) error {
	if baseTempDir == "" {
		baseTempDir = os.TempDir()
	}
	dir := filepath.Join(baseTempDir, outputSubdir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-retentionDays * 24 * time.Hour)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filenamePrefix) {
			continue
		}
		ts, ok := timestampFromFilename(e.Name())
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				log.Warn().Err(err).Str("file", e.Name()).Msg("truncate: sweep failed to remove file")
			}
		}
	}
	return nil
}

func timestampFromFilename(name string) (time.Time, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, filenamePrefix), ".txt")
	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
