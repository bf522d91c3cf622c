package pipeline

import (
	"strings"
	"testing"

	"github.com/anthropic/meowdiff/internal/meowdiff"
)

func TestIsBinaryDetectsNULByte(t *testing.T) {
	if isBinary([]byte("plain text, no nulls here")) {
		t.Error("text content flagged as binary")
	}
	if !isBinary([]byte("abc\x00def")) {
		t.Error("content with a NUL byte not flagged as binary")
	}
}

func TestIsBinaryOnlySniffsLeadingBytes(t *testing.T) {
	data := make([]byte, binarySniffLen+10)
	for i := range data {
		data[i] = 'a'
	}
	data[len(data)-1] = 0 // NUL well past the sniff window

	if isBinary(data) {
		t.Error("NUL byte beyond the sniff window should not flag content as binary")
	}
}

func TestGenerateSectionCreate(t *testing.T) {
	sec := generateSection("a.txt", meowdiff.OpCreate, nil, []byte("line one\nline two\n"), false)

	if !strings.Contains(sec.text, "--- /dev/null") {
		t.Errorf("create diff missing /dev/null before-header:\n%s", sec.text)
	}
	if !strings.Contains(sec.text, "+++ b/a.txt") {
		t.Errorf("create diff missing b/a.txt after-header:\n%s", sec.text)
	}
	if sec.stats.Added != 2 {
		t.Errorf("stats.Added = %d, want 2", sec.stats.Added)
	}
	if sec.stats.Removed != 0 {
		t.Errorf("stats.Removed = %d, want 0", sec.stats.Removed)
	}
}

func TestGenerateSectionDelete(t *testing.T) {
	sec := generateSection("a.txt", meowdiff.OpDelete, []byte("line one\n"), nil, false)

	if !strings.Contains(sec.text, "--- a/a.txt") {
		t.Errorf("delete diff missing a/a.txt before-header:\n%s", sec.text)
	}
	if !strings.Contains(sec.text, "+++ /dev/null") {
		t.Errorf("delete diff missing /dev/null after-header:\n%s", sec.text)
	}
	if sec.stats.Removed != 1 {
		t.Errorf("stats.Removed = %d, want 1", sec.stats.Removed)
	}
}

func TestGenerateSectionModify(t *testing.T) {
	sec := generateSection("a.txt", meowdiff.OpModify, []byte("old\n"), []byte("new\n"), false)

	if sec.stats.Added != 1 || sec.stats.Removed != 1 {
		t.Errorf("stats = %+v, want +1/-1", sec.stats)
	}
	if sec.stats.Chunks != 1 {
		t.Errorf("stats.Chunks = %d, want 1", sec.stats.Chunks)
	}
}

func TestGenerateSectionBinary(t *testing.T) {
	sec := generateSection("image.png", meowdiff.OpModify, []byte{0, 1, 2}, []byte{0, 3, 4}, true)

	if !strings.Contains(sec.text, "Binary files differ") {
		t.Errorf("binary diff text = %q, want it to mention binary files differ", sec.text)
	}
	if sec.stats.Added != 0 || sec.stats.Removed != 0 {
		t.Errorf("binary diff should not tally line stats, got %+v", sec.stats)
	}
}
