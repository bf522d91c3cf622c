// Package recordwriter implements spec.md §4.3: the atomic multi-artifact
// writer that commits one RecordDraft (metadata + unified patch + blob
// refs + index row) as a logical unit.
package recordwriter

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/idcodec"
	"github.com/anthropic/meowdiff/internal/meowdiff"
	"github.com/anthropic/meowdiff/internal/project"
	"github.com/anthropic/meowdiff/internal/timeline"
)

// recordIDLength matches project_id's width for visual consistency in
// state-directory listings.
const recordIDLength = 12

// Writer commits RecordDrafts to the project's blob store, timeline
// index, and records directory. It is the only type permitted to begin a
// write transaction against the timeline database, per spec.md §5.
type Writer struct {
	project *project.Project
	blobs   *blobstore.Store
	index   *timeline.Index
	encoder *zstd.Encoder
}

// New creates a Writer for one project.
func New(p *project.Project, blobs *blobstore.Store, index *timeline.Index) (*Writer, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("recordwriter: new encoder: %w", err)
	}
	return &Writer{project: p, blobs: blobs, index: index, encoder: enc}, nil
}

// Close releases the writer's shared zstd encoder.
func (w *Writer) Close() {
	if w.encoder != nil {
		w.encoder.Close()
	}
}

// Commit performs the five ordered steps of spec.md §4.3 and returns the
// committed Record. On any failure after on-disk artifacts are written,
// Commit best-effort removes the partial record directory before
// returning; per spec.md's crash model, blobs already written in step 2
// are left on disk (tolerated orphans, reclaimed by a future prune pass).
func (w *Writer) Commit(draft meowdiff.RecordDraft) (meowdiff.Record, error) {
	diffHash := idcodec.HashHex(draft.UnifiedPatchBytes)

	prevID, err := w.index.LatestPrevRecordID(draft.ProjectID)
	if err != nil {
		return meowdiff.Record{}, fmt.Errorf("%w: read prev record: %v", meowdiff.ErrStorageError, err)
	}

	sortedPaths := make([]string, len(draft.Files))
	for i, fe := range draft.Files {
		sortedPaths[i] = fe.Path
	}

	recordID := deriveRecordID(draft.TsEnd, sortedPaths, diffHash)

	rec := meowdiff.Record{
		RecordID:     recordID,
		ProjectID:    draft.ProjectID,
		StartedAt:    draft.TsStart,
		EndedAt:      draft.TsEnd,
		Files:        draft.Files,
		PrevRecordID: prevID,
		DiffHash:     diffHash,
		ToolVersion:  meowdiff.ToolVersion,
		Stats:        aggregateStats(draft.Files),
	}

	// Step 2: store/reference every blob this record touches.
	refIncrements := make(map[string]int64)
	blobSizes := make(map[string]int64)
	for _, fe := range draft.Files {
		for _, sha := range []string{fe.BeforeSHA, fe.AfterSHA} {
			if sha == "" {
				continue
			}
			if content, ok := draft.FileContents[sha]; ok {
				if _, err := w.blobs.Put(content); err != nil {
					return meowdiff.Record{}, fmt.Errorf("%w: put blob %s: %v", meowdiff.ErrStorageError, sha, err)
				}
			} else if !w.blobs.Exists(sha) {
				// The caller referenced a sha it has neither bytes for
				// nor that already exists on disk; nothing we can do but
				// record the record anyway (restore will surface
				// BlobMissing later if it's ever needed).
			}
			refIncrements[sha]++
			if size := w.blobs.Size(sha); size >= 0 {
				blobSizes[sha] = size
			}
		}
	}

	recordDir := w.project.RecordDir(recordID)
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		return meowdiff.Record{}, fmt.Errorf("%w: mkdir record dir: %v", meowdiff.ErrStorageError, err)
	}

	// Step 3: write the patch artifact.
	patchPath := filepath.Join(recordDir, "diff.patch.zst")
	if err := writeAtomic(patchPath, w.encoder.EncodeAll(draft.UnifiedPatchBytes, nil)); err != nil {
		_ = os.RemoveAll(recordDir)
		return meowdiff.Record{}, fmt.Errorf("%w: write patch: %v", meowdiff.ErrStorageError, err)
	}

	// Step 4: write meta.json, after the patch, so a reader seeing meta
	// always finds the patch.
	metaJSON, err := marshalMeta(rec)
	if err != nil {
		_ = os.RemoveAll(recordDir)
		return meowdiff.Record{}, fmt.Errorf("%w: marshal meta: %v", meowdiff.ErrStorageError, err)
	}
	if err := writeAtomic(filepath.Join(recordDir, "meta.json"), metaJSON); err != nil {
		_ = os.RemoveAll(recordDir)
		return meowdiff.Record{}, fmt.Errorf("%w: write meta: %v", meowdiff.ErrStorageError, err)
	}

	// Step 5: one transaction, insert record row + blob_refs + snapshots.
	err = w.index.WithWriteTx(func(tx *sql.Tx) error {
		return timeline.InsertRecordTx(tx, rec, refIncrements, blobSizes)
	})
	if err != nil {
		_ = os.RemoveAll(recordDir)
		return meowdiff.Record{}, err // already wrapped in ErrStorageError by WithWriteTx
	}

	return rec, nil
}

// deriveRecordID computes spec.md §3's record_id: "12-char base62 of a
// hash over batch_end_ts || sorted_paths || diff_hash". sortedPaths is
// expected already lexicographically sorted by the Pipeline, per
// spec.md §4.4's deterministic ordering guarantee.
func deriveRecordID(tsEnd time.Time, sortedPaths []string, diffHash string) string {
	input := fmt.Sprintf("%d|%v|%s", tsEnd.UnixMilli(), sortedPaths, diffHash)
	return idcodec.ShortID([]byte(input), recordIDLength)
}

func aggregateStats(files []meowdiff.FileEntry) meowdiff.RecordStats {
	var s meowdiff.RecordStats
	s.Files = len(files)
	for _, fe := range files {
		s.LinesAdded += fe.Stats.Added
		s.LinesRemoved += fe.Stats.Removed
	}
	return s
}

// writeAtomic writes data to a temp file in path's directory and renames
// it into place, matching spec.md §4.1/§4.3's "temp + rename" idiom for
// every on-disk artifact write.
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
