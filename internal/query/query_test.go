package query

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/meowdiff"
	"github.com/anthropic/meowdiff/internal/project"
	"github.com/anthropic/meowdiff/internal/recordwriter"
	"github.com/anthropic/meowdiff/internal/timeline"
)

func setupAPI(t *testing.T) (*API, *project.Project, meowdiff.Record) {
	t.Helper()
	root := t.TempDir()
	home := t.TempDir()
	t.Setenv("HOME", home)

	proj, err := project.Open(root)
	if err != nil {
		t.Fatalf("project.Open: %v", err)
	}
	idx, err := timeline.Open(proj.DBPath())
	if err != nil {
		t.Fatalf("timeline.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	blobs, err := blobstore.Open(proj.BlobsDir())
	if err != nil {
		t.Fatalf("blobstore.Open: %v", err)
	}
	t.Cleanup(blobs.Close)

	w, err := recordwriter.New(proj, blobs, idx)
	if err != nil {
		t.Fatalf("recordwriter.New: %v", err)
	}
	t.Cleanup(w.Close)

	content := []byte("line one\nline two\n")
	afterSHA := blobstore.Sha(content)
	draft := meowdiff.RecordDraft{
		ProjectID: proj.ID,
		TsStart:   time.Now(),
		TsEnd:     time.Now(),
		Files: []meowdiff.FileEntry{
			{Path: "a.txt", Op: meowdiff.OpCreate, AfterSHA: afterSHA, Stats: meowdiff.FileStats{Added: 2}},
		},
		UnifiedPatchBytes: []byte("--- /dev/null\n+++ b/a.txt\n@@ -0,0 +1,2 @@\n+line one\n+line two\n"),
		FileContents:      map[string][]byte{afterSHA: content},
	}
	rec, err := w.Commit(draft)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	api, err := New(proj, idx, blobs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(api.Close)

	return api, proj, rec
}

func TestListReturnsCommittedRecord(t *testing.T) {
	api, proj, rec := setupAPI(t)

	records, err := api.List(proj.ID, 0, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].RecordID != rec.RecordID {
		t.Fatalf("List = %+v, want one record with id %q", records, rec.RecordID)
	}
}

func TestShowRoundTrips(t *testing.T) {
	api, _, rec := setupAPI(t)

	got, err := api.Show(rec.RecordID)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if got.RecordID != rec.RecordID || len(got.Files) != 1 || got.Files[0].Path != "a.txt" {
		t.Errorf("Show = %+v", got)
	}
}

func TestDiffReturnsFullPatch(t *testing.T) {
	api, _, rec := setupAPI(t)

	data, err := api.Diff(rec.RecordID, "")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(string(data), "+++ b/a.txt") {
		t.Errorf("Diff output missing expected header, got: %s", data)
	}
	if !strings.Contains(string(data), "+line one") {
		t.Errorf("Diff output missing expected content, got: %s", data)
	}
}

func TestDiffFiltersByPath(t *testing.T) {
	api, _, rec := setupAPI(t)

	data, err := api.Diff(rec.RecordID, "a.txt")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(string(data), "b/a.txt") {
		t.Errorf("filtered diff missing its own section: %s", data)
	}

	empty, err := api.Diff(rec.RecordID, "nonexistent.txt")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("filtering by a path absent from the patch should return empty, got: %s", empty)
	}
}

func TestExtractWritesFiles(t *testing.T) {
	api, _, rec := setupAPI(t)
	outDir := t.TempDir() + "/out"

	if err := api.Extract(rec.RecordID, outDir, false); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	data, err := os.ReadFile(outDir + "/a.txt")
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(data) != "line one\nline two\n" {
		t.Errorf("extracted content = %q", data)
	}
}

func TestExtractRefusesNonEmptyOutputDirWithoutForce(t *testing.T) {
	api, _, rec := setupAPI(t)
	outDir := t.TempDir()
	if err := os.WriteFile(outDir+"/existing.txt", []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := api.Extract(rec.RecordID, outDir, false)
	if err == nil {
		t.Fatal("Extract into non-empty dir without force returned nil error")
	}

	var conflict *meowdiff.TargetConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Extract error = %v, want TargetConflictError", err)
	}
}

func TestExtractForceAllowsNonEmptyOutputDir(t *testing.T) {
	api, _, rec := setupAPI(t)
	outDir := t.TempDir()
	if err := os.WriteFile(outDir+"/existing.txt", []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := api.Extract(rec.RecordID, outDir, true); err != nil {
		t.Fatalf("Extract with force: %v", err)
	}
}
