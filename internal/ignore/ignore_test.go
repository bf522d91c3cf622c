package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPatternsIgnoreGitAndMeowdiffDirs(t *testing.T) {
	m, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{".meowdiff", true, true},
		{"node_modules", true, true},
		{"src/main.go", false, false},
		{"notes.swp", false, true},
		{".DS_Store", false, true},
	}
	for _, c := range cases {
		if got := m.Matches(c.path, c.isDir); got != c.want {
			t.Errorf("Matches(%q, isDir=%v) = %v, want %v", c.path, c.isDir, got, c.want)
		}
	}
}

func TestExtraPatternsAreIgnored(t *testing.T) {
	m, err := New(t.TempDir(), []string{"*.log"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !m.Matches("server.log", false) {
		t.Error("extra pattern *.log did not match server.log")
	}
	if m.Matches("server.txt", false) {
		t.Error("extra pattern *.log unexpectedly matched server.txt")
	}
}

func TestMeowdiffignoreFileCanNegateADefault(t *testing.T) {
	root := t.TempDir()
	content := "!*.tmp\n"
	if err := os.WriteFile(filepath.Join(root, ".meowdiffignore"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Matches("scratch.tmp", false) {
		t.Error(".meowdiffignore negation of *.tmp did not take effect")
	}
}

func TestMeowdiffignoreFileAddsExtraPattern(t *testing.T) {
	root := t.TempDir()
	content := "# a comment\nsecrets/\n"
	if err := os.WriteFile(filepath.Join(root, ".meowdiffignore"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !m.Matches("secrets", true) {
		t.Error(".meowdiffignore pattern secrets/ did not match")
	}
}

func TestNoMeowdiffignoreFileIsNotAnError(t *testing.T) {
	if _, err := New(t.TempDir(), nil); err != nil {
		t.Fatalf("New with no .meowdiffignore present: %v", err)
	}
}
