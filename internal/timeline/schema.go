package timeline

// schemaVersion is the current schema version. Increment when adding a
// migration below.
const schemaVersion = 1

// migrations maps version numbers to the SQL that brings the schema from
// (version-1) to (version). Version 1 is the initial schema, per
// spec.md §4.2.
var migrations = map[int]string{
	1: `
CREATE TABLE IF NOT EXISTS records (
	record_id       TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	ts_start        INTEGER NOT NULL,
	ts_end          INTEGER NOT NULL,
	files_json      TEXT NOT NULL,
	stats_json      TEXT NOT NULL,
	prev_record_id  TEXT,
	diff_hash       TEXT NOT NULL,
	tool_version    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_records_ts ON records(project_id, ts_end DESC);
CREATE INDEX IF NOT EXISTS idx_records_prev ON records(prev_record_id);

CREATE TABLE IF NOT EXISTS blob_refs (
	sha         TEXT PRIMARY KEY,
	ref_count   INTEGER NOT NULL,
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	created_ts  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS latest_snapshots (
	project_id  TEXT NOT NULL,
	path        TEXT NOT NULL,
	sha         TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	PRIMARY KEY (project_id, path)
);

CREATE TABLE IF NOT EXISTS meowdiff_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_ts INTEGER NOT NULL
);
`,
}
