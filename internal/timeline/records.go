package timeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// row shapes used only to (de)serialize files/stats JSON columns.
type filesColumn = []meowdiff.FileEntry
type statsColumn = meowdiff.RecordStats

// InsertRecordTx inserts one records row, upserts blob_refs increments,
// and upserts/deletes latest_snapshots rows, all within tx. blobSizes
// gives the on-disk compressed size for any sha newly referenced in this
// record, per spec.md §4.1's blob_refs.size_bytes; shas absent from
// blobSizes (already tracked blobs being re-referenced) keep their
// existing size_bytes untouched. Called by the Record Writer as step 5
// of spec.md §4.3; never called outside a write transaction.
func InsertRecordTx(tx *sql.Tx, rec meowdiff.Record, refIncrements map[string]int64, blobSizes map[string]int64) error {
	filesJSON, err := json.Marshal(rec.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	statsJSON, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	var prevID sql.NullString
	if rec.PrevRecordID != "" {
		prevID = sql.NullString{String: rec.PrevRecordID, Valid: true}
	}

	_, err = tx.Exec(
		`INSERT INTO records (record_id, project_id, ts_start, ts_end, files_json, stats_json, prev_record_id, diff_hash, tool_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.ProjectID, rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(),
		string(filesJSON), string(statsJSON), prevID, rec.DiffHash, rec.ToolVersion,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	now := time.Now().UnixMilli()
	for sha, delta := range refIncrements {
		_, err = tx.Exec(
			`INSERT INTO blob_refs (sha, ref_count, size_bytes, created_ts) VALUES (?, ?, ?, ?)
			 ON CONFLICT(sha) DO UPDATE SET ref_count = ref_count + ?`,
			sha, delta, blobSizes[sha], now, delta,
		)
		if err != nil {
			return fmt.Errorf("upsert blob_refs for %s: %w", sha, err)
		}
	}

	for _, fe := range rec.Files {
		switch fe.Op {
		case meowdiff.OpDelete:
			if _, err := tx.Exec(
				`DELETE FROM latest_snapshots WHERE project_id = ? AND path = ?`,
				rec.ProjectID, fe.Path,
			); err != nil {
				return fmt.Errorf("delete snapshot for %s: %w", fe.Path, err)
			}
		default:
			_, err = tx.Exec(
				`INSERT INTO latest_snapshots (project_id, path, sha, record_id) VALUES (?, ?, ?, ?)
				 ON CONFLICT(project_id, path) DO UPDATE SET sha = excluded.sha, record_id = excluded.record_id`,
				rec.ProjectID, fe.Path, fe.AfterSHA, rec.RecordID,
			)
			if err != nil {
				return fmt.Errorf("upsert snapshot for %s: %w", fe.Path, err)
			}
		}
	}

	return nil
}

// IncrefTx increments the ref count for an already-existing blob within
// tx, used when the Record Writer references a sha it did not itself
// write bytes for (e.g. a before_sha carried over from a prior record).
func IncrefTx(tx *sql.Tx, sha string) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(
		`INSERT INTO blob_refs (sha, ref_count, size_bytes, created_ts) VALUES (?, 1, 0, ?)
		 ON CONFLICT(sha) DO UPDATE SET ref_count = ref_count + 1`,
		sha, now,
	)
	return err
}

// LatestPrevRecordID returns the most recent record_id for a project, or
// "" if the project has no records yet.
func (idx *Index) LatestPrevRecordID(projectID string) (string, error) {
	var id string
	err := idx.db.QueryRow(
		`SELECT record_id FROM records WHERE project_id = ? ORDER BY ts_end DESC LIMIT 1`,
		projectID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest record: %w", err)
	}
	return id, nil
}

// GetLatestSnapshot returns the recorded sha for (projectID, path), or
// ("", false) if there is none.
func (idx *Index) GetLatestSnapshot(projectID, path string) (string, bool, error) {
	var sha string
	err := idx.db.QueryRow(
		`SELECT sha FROM latest_snapshots WHERE project_id = ? AND path = ?`,
		projectID, path,
	).Scan(&sha)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query snapshot: %w", err)
	}
	return sha, true, nil
}

// List returns records for projectID in the [fromTS, toTS] window
// (milliseconds, 0 = unbounded), most recent first, per spec.md §4.5.
func (idx *Index) List(projectID string, fromTS, toTS int64, limit int) ([]meowdiff.Record, error) {
	query := `SELECT record_id, project_id, ts_start, ts_end, files_json, stats_json, prev_record_id, diff_hash, tool_version
	          FROM records WHERE project_id = ?`
	args := []any{projectID}

	if fromTS > 0 {
		query += ` AND ts_end >= ?`
		args = append(args, fromTS)
	}
	if toTS > 0 {
		query += ` AND ts_end <= ?`
		args = append(args, toTS)
	}
	query += ` ORDER BY ts_end DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []meowdiff.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Show returns one record by id, or an error wrapping sql.ErrNoRows if it
// does not exist.
func (idx *Index) Show(recordID string) (meowdiff.Record, error) {
	row := idx.db.QueryRow(
		`SELECT record_id, project_id, ts_start, ts_end, files_json, stats_json, prev_record_id, diff_hash, tool_version
		 FROM records WHERE record_id = ?`,
		recordID,
	)
	return scanRecord(row)
}

// scanner abstracts over *sql.Row and *sql.Rows, both of which implement
// Scan with the same signature.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (meowdiff.Record, error) {
	var (
		rec       meowdiff.Record
		tsStart   int64
		tsEnd     int64
		filesJSON string
		statsJSON string
		prevID    sql.NullString
	)

	if err := s.Scan(&rec.RecordID, &rec.ProjectID, &tsStart, &tsEnd, &filesJSON, &statsJSON, &prevID, &rec.DiffHash, &rec.ToolVersion); err != nil {
		return meowdiff.Record{}, fmt.Errorf("scan record: %w", err)
	}

	rec.StartedAt = time.UnixMilli(tsStart).UTC()
	rec.EndedAt = time.UnixMilli(tsEnd).UTC()
	if prevID.Valid {
		rec.PrevRecordID = prevID.String
	}

	var files filesColumn
	if err := json.Unmarshal([]byte(filesJSON), &files); err != nil {
		return meowdiff.Record{}, fmt.Errorf("unmarshal files: %w", err)
	}
	rec.Files = files

	var stats statsColumn
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return meowdiff.Record{}, fmt.Errorf("unmarshal stats: %w", err)
	}
	rec.Stats = stats

	return rec, nil
}

// SetLatestSnapshotTx upserts or deletes a latest_snapshots row within
// tx, used by restore's apply step (spec.md §4.5 step 5) rather than
// InsertRecordTx, since restore does not create a record.
func SetLatestSnapshotTx(tx *sql.Tx, projectID, path, sha, recordID string) error {
	if sha == "" {
		_, err := tx.Exec(`DELETE FROM latest_snapshots WHERE project_id = ? AND path = ?`, projectID, path)
		return err
	}
	_, err := tx.Exec(
		`INSERT INTO latest_snapshots (project_id, path, sha, record_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, path) DO UPDATE SET sha = excluded.sha, record_id = excluded.record_id`,
		projectID, path, sha, recordID,
	)
	return err
}

// GetBlobRef returns the ref count row for sha, or (0, false) if absent.
func (idx *Index) GetBlobRef(sha string) (int64, bool, error) {
	var refCount int64
	err := idx.db.QueryRow(`SELECT ref_count FROM blob_refs WHERE sha = ?`, sha).Scan(&refCount)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return refCount, true, nil
}

// RecordsCount returns the total number of committed records, across all
// projects sharing this index, for the IPC status command.
func (idx *Index) RecordsCount() (int64, error) {
	var n int64
	err := idx.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}
