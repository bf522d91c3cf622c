// Package query implements spec.md §4.5's read-side operations: list,
// show, diff, extract. restore lives in internal/restore since it
// mutates the filesystem and LatestSnapshot rather than only reading.
package query

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/meowdiff"
	"github.com/anthropic/meowdiff/internal/project"
	"github.com/anthropic/meowdiff/internal/timeline"
)

// API bundles the Timeline Index, Blob Store, and project layout needed
// to answer read-side queries.
type API struct {
	project *project.Project
	index   *timeline.Index
	blobs   *blobstore.Store
	decoder *zstd.Decoder
}

// New creates a query API over one project's state.
func New(p *project.Project, index *timeline.Index, blobs *blobstore.Store) (*API, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("query: new decoder: %w", err)
	}
	return &API{project: p, index: index, blobs: blobs, decoder: dec}, nil
}

// Close releases the API's shared zstd decoder.
func (a *API) Close() { a.decoder.Close() }

// List returns records for the project's records in the [fromTS, toTS]
// window (milliseconds since epoch; 0 = unbounded), most recent first,
// per spec.md §4.5.
func (a *API) List(projectID string, fromTS, toTS int64, limit int) ([]meowdiff.Record, error) {
	return a.index.List(projectID, fromTS, toTS, limit)
}

// Show returns one record's metadata by id.
func (a *API) Show(recordID string) (meowdiff.Record, error) {
	return a.index.Show(recordID)
}

// Diff decompresses a record's unified patch, optionally filtered to the
// section naming one path.
func (a *API) Diff(recordID string, path string) ([]byte, error) {
	patchPath := filepath.Join(a.project.RecordDir(recordID), "diff.patch.zst")
	raw, err := os.ReadFile(patchPath)
	if err != nil {
		return nil, fmt.Errorf("query: read patch: %w", err)
	}
	data, err := a.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("query: decompress patch: %w", err)
	}
	if path == "" {
		return data, nil
	}
	return filterSection(data, path), nil
}

// filterSection returns only the unified-diff section whose header names
// path, matching on "a/<path>" or "b/<path>" per spec.md §6's header
// convention.
func filterSection(patch []byte, path string) []byte {
	fromHeader := []byte("--- a/" + path)
	toHeader := []byte("+++ b/" + path)
	lines := bytes.Split(patch, []byte("\n"))

	var out [][]byte
	inSection := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if bytes.HasPrefix(line, []byte("--- ")) {
			inSection = bytes.Equal(line, fromHeader)
			if !inSection && i+1 < len(lines) && bytes.HasPrefix(lines[i+1], []byte("+++ ")) {
				inSection = bytes.Equal(lines[i+1], toHeader)
			}
		}
		if inSection {
			out = append(out, line)
		}
	}
	return bytes.Join(out, []byte("\n"))
}

// Extract writes every file with a non-null after_sha from record
// recordID into outputDir, creating parent directories as needed. It
// deletes nothing. Fails with TargetConflictError if outputDir is
// non-empty and force is false, per spec.md §4.5.
func (a *API) Extract(recordID, outputDir string, force bool) error {
	if !force {
		empty, err := dirIsEmpty(outputDir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("query: check output dir: %w", err)
		}
		if err == nil && !empty {
			return &meowdiff.TargetConflictError{Dir: outputDir}
		}
	}

	rec, err := a.index.Show(recordID)
	if err != nil {
		return fmt.Errorf("query: show record: %w", err)
	}

	for _, fe := range rec.Files {
		if fe.AfterSHA == "" {
			continue
		}
		data, err := a.blobs.Get(fe.AfterSHA)
		if err != nil {
			return fmt.Errorf("query: extract %s: %w", fe.Path, err)
		}
		dest := filepath.Join(outputDir, filepath.FromSlash(fe.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("query: mkdir for %s: %w", fe.Path, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("query: write %s: %w", fe.Path, err)
		}
	}
	return nil
}

func dirIsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
