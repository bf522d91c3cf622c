package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// binarySniffLen is how many leading bytes are scanned for a NUL byte to
// decide whether a file's contents are opaque, per spec.md §4.4.
const binarySniffLen = 8192

// isBinary reports whether data's first binarySniffLen bytes contain a
// NUL byte, MeowDiff's implementation-defined binary heuristic.
func isBinary(data []byte) bool {
	n := len(data)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

// unifiedSection is one file's unified-diff text plus its tallied stats.
type unifiedSection struct {
	text  string
	stats meowdiff.FileStats
}

// generateSection builds the unified-diff text and stats for one file's
// op, old text, and new text. op-specific header conventions follow
// spec.md §6: create uses an empty "before" side, delete an empty
// "after" side.
func generateSection(path string, op meowdiff.Op, oldText, newText []byte, binary bool) unifiedSection {
	fromName, toName := headerNames(path, op)

	if binary {
		return unifiedSection{
			text: fmt.Sprintf("--- %s\n+++ %s\nBinary files differ\n", fromName, toName),
		}
	}

	a := splitLinesKeepNL(string(oldText))
	b := splitLinesKeepNL(string(newText))

	u := difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		text = fmt.Sprintf("--- %s\n+++ %s\n# diff generation failed: %v\n", fromName, toName, err)
	}

	added, removed, chunks := tally(text)
	return unifiedSection{text: text, stats: meowdiff.FileStats{Added: added, Removed: removed, Chunks: chunks}}
}

// headerNames returns the a/b header names for a file's unified-diff
// section, using /dev/null for the side that does not exist per op.
func headerNames(path string, op meowdiff.Op) (from, to string) {
	switch op {
	case meowdiff.OpCreate:
		return "/dev/null", "b/" + path
	case meowdiff.OpDelete:
		return "a/" + path, "/dev/null"
	default:
		return "a/" + path, "b/" + path
	}
}

// splitLinesKeepNL splits s into lines, retaining trailing newlines, so
// difflib's unified output matches the source file's own line endings.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

// tally counts added/removed lines and hunk count from unified-diff text.
func tally(unified string) (added, removed, chunks int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			chunks++
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			// header lines, not content
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return
}
