// Package ignore implements the Matcher interface consumed by MeowDiff's
// Watcher and Pipeline, per spec.md §6: "Matcher.matches(path) -> bool,
// built from compiled-in defaults plus an optional .meowdiffignore at the
// project root; !pattern negates." Rather than hand-rolling glob matching
// (the teacher's internal/watcher/filter.go does exactly that with
// filepath.Match), this wraps go-git's gitignore pattern engine, which
// already implements negation and directory-aware matching correctly.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// defaultPatterns are always ignored regardless of user configuration,
// mirroring the teacher's defaultIgnorePatterns.
var defaultPatterns = []string{
	".git/",
	".meowdiff/",
	"node_modules/",
	".idea/",
	".vscode/",
	"__pycache__/",
	"*.swp",
	"*.swo",
	"*~",
	"*.tmp",
	".DS_Store",
	"build/",
	"dist/",
	"target/",
}

// Matcher checks project-relative paths against a merged set of
// gitignore-syntax patterns.
type Matcher struct {
	patterns []gitignore.Pattern
	rules    []string
}

// New builds a Matcher from the compiled-in defaults, the caller-supplied
// extra patterns (config's default_ignore.extra), and the contents of a
// .meowdiffignore file at projectRoot, if present. Later patterns take
// precedence, matching gitignore semantics, so .meowdiffignore can
// override both defaults and extras via negation.
func New(projectRoot string, extra []string) (*Matcher, error) {
	var lines []string
	lines = append(lines, defaultPatterns...)
	lines = append(lines, extra...)

	if data, err := os.ReadFile(filepath.Join(projectRoot, ".meowdiffignore")); err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	patterns := make([]gitignore.Pattern, 0, len(lines))
	for _, line := range lines {
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	return &Matcher{patterns: patterns, rules: lines}, nil
}

// Rules returns the merged pattern lines (defaults, extras, and
// .meowdiffignore) in match precedence order, for `meowdiff ignore list`,
// mirroring original_source's handle_ignore List arm.
func (m *Matcher) Rules() []string {
	out := make([]string, len(m.rules))
	copy(out, m.rules)
	return out
}

// Matches reports whether path (project-relative, forward-slash
// normalized) should be ignored. isDir indicates whether path names a
// directory, which affects trailing-slash-anchored patterns.
func (m *Matcher) Matches(path string, isDir bool) bool {
	clean := filepath.ToSlash(path)
	components := strings.Split(strings.Trim(clean, "/"), "/")

	ignored := false
	for _, p := range m.patterns {
		switch p.Match(components, isDir) {
		case gitignore.Exclude:
			ignored = true
		case gitignore.Include:
			ignored = false
		}
	}
	return ignored
}
