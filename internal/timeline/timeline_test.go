package timeline

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropic/meowdiff/internal/meowdiff"
)

func setupIndex(t *testing.T) *Index {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "timeline.db")
	idx, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func sampleRecord(projectID, recordID string, ts time.Time) meowdiff.Record {
	return meowdiff.Record{
		RecordID:  recordID,
		ProjectID: projectID,
		StartedAt: ts,
		EndedAt:   ts,
		Files: []meowdiff.FileEntry{
			{Path: "a.txt", Op: meowdiff.OpCreate, AfterSHA: "sha-a", Stats: meowdiff.FileStats{Added: 1}},
		},
		DiffHash:    "diffhash",
		ToolVersion: "test",
		Stats:       meowdiff.RecordStats{Files: 1, LinesAdded: 1},
	}
}

func TestOpenRunsMigrations(t *testing.T) {
	idx := setupIndex(t)

	version, err := currentVersion(idx.db)
	if err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("schema_version = %d, want %d", version, schemaVersion)
	}
}

func TestInsertAndShowRecord(t *testing.T) {
	idx := setupIndex(t)

	rec := sampleRecord("proj1", "rec1", time.Now())
	err := idx.WithWriteTx(func(tx *sql.Tx) error {
		return InsertRecordTx(tx, rec, map[string]int64{"sha-a": 1}, map[string]int64{"sha-a": 42})
	})
	if err != nil {
		t.Fatalf("InsertRecordTx: %v", err)
	}

	got, err := idx.Show("rec1")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if got.RecordID != "rec1" || got.ProjectID != "proj1" {
		t.Errorf("Show returned %+v", got)
	}
	if len(got.Files) != 1 || got.Files[0].Path != "a.txt" {
		t.Errorf("Show files = %+v", got.Files)
	}

	refCount, ok, err := idx.GetBlobRef("sha-a")
	if err != nil {
		t.Fatalf("GetBlobRef: %v", err)
	}
	if !ok || refCount != 1 {
		t.Errorf("GetBlobRef = (%d, %v), want (1, true)", refCount, ok)
	}

	var sizeBytes int64
	if err := idx.db.QueryRow(`SELECT size_bytes FROM blob_refs WHERE sha = ?`, "sha-a").Scan(&sizeBytes); err != nil {
		t.Fatalf("query size_bytes: %v", err)
	}
	if sizeBytes != 42 {
		t.Errorf("blob_refs.size_bytes = %d, want 42", sizeBytes)
	}
}

func TestLatestSnapshotUpdatedByInsert(t *testing.T) {
	idx := setupIndex(t)

	rec := sampleRecord("proj1", "rec1", time.Now())
	if err := idx.WithWriteTx(func(tx *sql.Tx) error {
		return InsertRecordTx(tx, rec, map[string]int64{"sha-a": 1}, nil)
	}); err != nil {
		t.Fatalf("InsertRecordTx: %v", err)
	}

	sha, ok, err := idx.GetLatestSnapshot("proj1", "a.txt")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if !ok || sha != "sha-a" {
		t.Errorf("GetLatestSnapshot = (%q, %v), want (sha-a, true)", sha, ok)
	}
}

func TestLatestSnapshotDeletedOnDeleteOp(t *testing.T) {
	idx := setupIndex(t)

	rec1 := sampleRecord("proj1", "rec1", time.Now())
	if err := idx.WithWriteTx(func(tx *sql.Tx) error {
		return InsertRecordTx(tx, rec1, map[string]int64{"sha-a": 1}, nil)
	}); err != nil {
		t.Fatal(err)
	}

	rec2 := rec1
	rec2.RecordID = "rec2"
	rec2.Files = []meowdiff.FileEntry{
		{Path: "a.txt", Op: meowdiff.OpDelete, BeforeSHA: "sha-a"},
	}
	if err := idx.WithWriteTx(func(tx *sql.Tx) error {
		return InsertRecordTx(tx, rec2, nil, nil)
	}); err != nil {
		t.Fatal(err)
	}

	_, ok, err := idx.GetLatestSnapshot("proj1", "a.txt")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if ok {
		t.Error("expected no latest snapshot after delete op")
	}
}

func TestLatestPrevRecordID(t *testing.T) {
	idx := setupIndex(t)

	if id, err := idx.LatestPrevRecordID("proj1"); err != nil || id != "" {
		t.Fatalf("LatestPrevRecordID on empty project = (%q, %v), want (\"\", nil)", id, err)
	}

	t0 := time.Now()
	rec1 := sampleRecord("proj1", "rec1", t0)
	if err := idx.WithWriteTx(func(tx *sql.Tx) error {
		return InsertRecordTx(tx, rec1, map[string]int64{"sha-a": 1}, nil)
	}); err != nil {
		t.Fatal(err)
	}

	rec2 := sampleRecord("proj1", "rec2", t0.Add(time.Second))
	if err := idx.WithWriteTx(func(tx *sql.Tx) error {
		return InsertRecordTx(tx, rec2, map[string]int64{"sha-a": 1}, nil)
	}); err != nil {
		t.Fatal(err)
	}

	got, err := idx.LatestPrevRecordID("proj1")
	if err != nil {
		t.Fatalf("LatestPrevRecordID: %v", err)
	}
	if got != "rec2" {
		t.Errorf("LatestPrevRecordID = %q, want rec2", got)
	}
}

func TestListOrdersMostRecentFirst(t *testing.T) {
	idx := setupIndex(t)

	t0 := time.Now()
	for i, id := range []string{"rec1", "rec2", "rec3"} {
		rec := sampleRecord("proj1", id, t0.Add(time.Duration(i)*time.Second))
		if err := idx.WithWriteTx(func(tx *sql.Tx) error {
			return InsertRecordTx(tx, rec, map[string]int64{"sha-a": 1}, nil)
		}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := idx.List("proj1", 0, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List returned %d records, want 3", len(records))
	}
	if records[0].RecordID != "rec3" || records[2].RecordID != "rec1" {
		t.Errorf("List order = %v, want most-recent-first", []string{records[0].RecordID, records[1].RecordID, records[2].RecordID})
	}
}

func TestDBSizeBytesAndRecordsCount(t *testing.T) {
	idx := setupIndex(t)

	n, err := idx.RecordsCount()
	if err != nil {
		t.Fatalf("RecordsCount: %v", err)
	}
	if n != 0 {
		t.Errorf("RecordsCount = %d, want 0", n)
	}

	size, err := idx.DBSizeBytes()
	if err != nil {
		t.Fatalf("DBSizeBytes: %v", err)
	}
	if size <= 0 {
		t.Errorf("DBSizeBytes = %d, want > 0", size)
	}
}
