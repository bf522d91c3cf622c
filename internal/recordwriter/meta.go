package recordwriter

import (
	"encoding/json"
	"time"

	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// metaDoc mirrors spec.md §6's meta.json schema exactly: record_id,
// project_id, started_at/ended_at as RFC 3339 UTC, files, stats,
// prev_record_id (nullable), tool_version.
type metaDoc struct {
	RecordID     string            `json:"record_id"`
	ProjectID    string            `json:"project_id"`
	StartedAt    string            `json:"started_at"`
	EndedAt      string            `json:"ended_at"`
	Files        []metaFileEntry   `json:"files"`
	Stats        metaStats         `json:"stats"`
	PrevRecordID *string           `json:"prev_record_id"`
	ToolVersion  string            `json:"tool_version"`
}

type metaFileEntry struct {
	Path      string    `json:"path"`
	Op        string    `json:"op"`
	BeforeSHA *string   `json:"before_sha"`
	AfterSHA  *string   `json:"after_sha"`
	Stats     metaFileStats `json:"stats"`
}

type metaFileStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Chunks  int `json:"chunks"`
}

type metaStats struct {
	Files        int `json:"files"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

func marshalMeta(rec meowdiff.Record) ([]byte, error) {
	doc := metaDoc{
		RecordID:  rec.RecordID,
		ProjectID: rec.ProjectID,
		StartedAt: rec.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:   rec.EndedAt.UTC().Format(time.RFC3339),
		Stats: metaStats{
			Files:        rec.Stats.Files,
			LinesAdded:   rec.Stats.LinesAdded,
			LinesRemoved: rec.Stats.LinesRemoved,
		},
		ToolVersion: rec.ToolVersion,
	}
	if rec.PrevRecordID != "" {
		doc.PrevRecordID = &rec.PrevRecordID
	}
	for _, fe := range rec.Files {
		mfe := metaFileEntry{
			Path: fe.Path,
			Op:   string(fe.Op),
			Stats: metaFileStats{
				Added:   fe.Stats.Added,
				Removed: fe.Stats.Removed,
				Chunks:  fe.Stats.Chunks,
			},
		}
		if fe.BeforeSHA != "" {
			mfe.BeforeSHA = &fe.BeforeSHA
		}
		if fe.AfterSHA != "" {
			mfe.AfterSHA = &fe.AfterSHA
		}
		doc.Files = append(doc.Files, mfe)
	}
	return json.MarshalIndent(doc, "", "  ")
}
