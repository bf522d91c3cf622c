// Package restore implements spec.md §4.5's restore operation: print or
// apply a record's before/after state back onto the filesystem, with
// conflict detection against the current on-disk content.
package restore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/meowdiff"
	"github.com/anthropic/meowdiff/internal/timeline"
)

// Mode selects whether Restore previews or mutates the filesystem.
type Mode string

const (
	ModePrint Mode = "print"
	ModeApply Mode = "apply"
)

// Policy selects which side of the record's before/after pair is the
// restore target, per spec.md §4.5 step 3.
type Policy string

const (
	// PolicyBefore restores to the record's pre-batch state (the default
	// when --apply is used without further flags).
	PolicyBefore Policy = "before"
	// PolicyAfter restores to the record's post-batch state.
	PolicyAfter Policy = "after"
)

// Restorer applies or previews a restore against one project's root.
type Restorer struct {
	root  string
	index *timeline.Index
	blobs *blobstore.Store
}

// New creates a Restorer.
func New(root string, index *timeline.Index, blobs *blobstore.Store) *Restorer {
	return &Restorer{root: root, index: index, blobs: blobs}
}

// target describes what one file's restore would do: the bytes to write
// (nil means delete the file), the current on-disk content (for building
// a preview patch), and whether the target conflicts with the current
// on-disk content.
type target struct {
	entry         meowdiff.FileEntry
	wantSHA       string // "" means delete
	currentBytes  []byte
	currentExists bool
	conflict      bool
}

// Restore implements spec.md §4.5 steps 1-5. With mode=print it always
// returns the unified patch that restoring would apply and never errors
// on conflict, per spec.md §4.5 step 4: print is a read-only preview and
// must succeed regardless of the working tree's state. With mode=apply a
// conflicting working tree aborts with RestoreConflictError unless force
// is set.
func (r *Restorer) Restore(recordID string, mode Mode, policy Policy, force bool) ([]byte, error) {
	rec, err := r.index.Show(recordID)
	if err != nil {
		return nil, fmt.Errorf("restore: show record: %w", err)
	}

	targets, conflictPaths, err := r.planTargets(rec, policy)
	if err != nil {
		return nil, err
	}

	if mode == ModePrint {
		return r.buildPreviewPatch(targets)
	}

	if len(conflictPaths) > 0 && !force {
		return nil, &meowdiff.RestoreConflictError{Paths: conflictPaths}
	}

	if err := r.applyTargets(rec.ProjectID, recordID, targets); err != nil {
		return nil, err
	}
	return nil, nil
}

// planTargets resolves, for every FileEntry in rec, the restore target
// bytes' sha and whether the current on-disk content conflicts with the
// expected pre-restore state, per spec.md §4.5 steps 2-3.
func (r *Restorer) planTargets(rec meowdiff.Record, policy Policy) ([]target, []string, error) {
	var targets []target
	var conflicts []string

	for _, fe := range rec.Files {
		absPath := filepath.Join(r.root, filepath.FromSlash(fe.Path))

		currentBytes, statErr := os.ReadFile(absPath)
		currentExists := statErr == nil
		var currentSHA string
		if currentExists {
			currentSHA = blobstore.Sha(currentBytes)
		}

		var wantSHA string
		var expectSHA string // the sha current content must match to be conflict-free
		switch policy {
		case PolicyAfter:
			wantSHA = fe.AfterSHA
			expectSHA = fe.BeforeSHA
		default: // PolicyBefore
			wantSHA = fe.BeforeSHA
			expectSHA = fe.AfterSHA
		}

		conflict := false
		if expectSHA == "" {
			// Expected state is "file absent".
			if currentExists {
				conflict = true
			}
		} else if currentSHA != expectSHA {
			conflict = true
		}

		if conflict {
			conflicts = append(conflicts, fe.Path)
		}

		targets = append(targets, target{
			entry:         fe,
			wantSHA:       wantSHA,
			currentBytes:  currentBytes,
			currentExists: currentExists,
			conflict:      conflict,
		})
	}

	sort.Strings(conflicts)
	return targets, conflicts, nil
}

// buildPreviewPatch renders the unified patch that applying targets would
// produce: current on-disk content on the "a" side, the restore target's
// content on the "b" side. This is the inverse of the forward record
// diff shown by `meowdiff diff` — it previews what restore itself would
// write, per spec.md §4.5 step 4.
func (r *Restorer) buildPreviewPatch(targets []target) ([]byte, error) {
	var buf strings.Builder
	for _, t := range targets {
		var wantBytes []byte
		if t.wantSHA != "" {
			data, err := r.blobs.Get(t.wantSHA)
			if err != nil {
				return nil, fmt.Errorf("restore: read target blob for %s: %w", t.entry.Path, err)
			}
			wantBytes = data
		}

		fromName, toName := "a/"+t.entry.Path, "b/"+t.entry.Path
		if !t.currentExists {
			fromName = "/dev/null"
		}
		if wantBytes == nil {
			toName = "/dev/null"
		}

		u := difflib.UnifiedDiff{
			A:        splitLinesKeepNL(string(t.currentBytes)),
			B:        splitLinesKeepNL(string(wantBytes)),
			FromFile: fromName,
			ToFile:   toName,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(u)
		if err != nil {
			return nil, fmt.Errorf("restore: preview diff for %s: %w", t.entry.Path, err)
		}
		buf.WriteString(text)
	}
	return []byte(buf.String()), nil
}

// splitLinesKeepNL splits s into lines, retaining trailing newlines, so
// difflib's unified output matches the source content's own line
// endings, matching internal/pipeline/diffgen.go's helper of the same
// name (duplicated here since that one is unexported to its package).
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

// applyTargets writes every target's content (or deletes, if wantSHA is
// empty) and updates latest_snapshots in one transaction, per spec.md
// §4.5 step 5. Restore does not itself create a record.
func (r *Restorer) applyTargets(projectID, recordID string, targets []target) error {
	type write struct {
		path string
		data []byte // nil means delete
	}
	var writes []write

	for _, t := range targets {
		if t.wantSHA == "" {
			writes = append(writes, write{path: t.entry.Path})
			continue
		}
		data, err := r.blobs.Get(t.wantSHA)
		if err != nil {
			return fmt.Errorf("restore: read target blob for %s: %w", t.entry.Path, err)
		}
		writes = append(writes, write{path: t.entry.Path, data: data})
	}

	for _, w := range writes {
		absPath := filepath.Join(r.root, filepath.FromSlash(w.path))
		if w.data == nil {
			if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("restore: remove %s: %w", w.path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return fmt.Errorf("restore: mkdir for %s: %w", w.path, err)
		}
		if err := writeAtomic(absPath, w.data); err != nil {
			return fmt.Errorf("restore: write %s: %w", w.path, err)
		}
	}

	return r.index.WithWriteTx(func(tx *sql.Tx) error {
		for _, t := range targets {
			sha := t.wantSHA
			if err := timeline.SetLatestSnapshotTx(tx, projectID, t.entry.Path, sha, recordID); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
