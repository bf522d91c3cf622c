package meowdiff

import (
	"errors"
	"fmt"
)

// Sentinel error kinds with no associated data, per spec.md §7.
var (
	// ErrIgnoredEvent is informational: the path matched an ignore rule.
	ErrIgnoredEvent = errors.New("meowdiff: ignored event")

	// ErrLockHeld means a watcher is already running for this project.
	ErrLockHeld = errors.New("meowdiff: watch lock already held")

	// ErrVersionMismatch means meta/version does not match this build's
	// storage format and a migration is required.
	ErrVersionMismatch = errors.New("meowdiff: storage version mismatch")

	// ErrIntegrityCheckFailed means PRAGMA integrity_check failed at
	// startup. Fatal; the database needs manual repair.
	ErrIntegrityCheckFailed = errors.New("meowdiff: database integrity check failed")

	// ErrStorageError is surfaced when a commit fails DB or filesystem
	// operations after one retry.
	ErrStorageError = errors.New("meowdiff: storage error")
)

// ReadFailedError wraps a per-path read failure encountered during diff
// generation. The batch continues; this path's entry is skipped.
type ReadFailedError struct {
	Path  string
	Cause error
}

func (e *ReadFailedError) Error() string {
	return fmt.Sprintf("meowdiff: read %s: %v", e.Path, e.Cause)
}

func (e *ReadFailedError) Unwrap() error { return e.Cause }

// BlobMissingError means the blob addressed by SHA does not exist on disk.
type BlobMissingError struct {
	SHA string
}

func (e *BlobMissingError) Error() string {
	return fmt.Sprintf("meowdiff: blob missing: %s", e.SHA)
}

// BlobCorruptError means the blob's decompressed bytes do not re-hash to
// its own address.
type BlobCorruptError struct {
	SHA string
}

func (e *BlobCorruptError) Error() string {
	return fmt.Sprintf("meowdiff: blob corrupt: %s", e.SHA)
}

// RestoreConflictError lists the paths whose current on-disk content
// diverges from the restore target. No file is modified when this is
// returned.
type RestoreConflictError struct {
	Paths []string
}

func (e *RestoreConflictError) Error() string {
	return fmt.Sprintf("meowdiff: restore conflict on %d path(s): %v", len(e.Paths), e.Paths)
}

// TargetConflictError means extract's output directory is non-empty and
// --force was not set.
type TargetConflictError struct {
	Dir string
}

func (e *TargetConflictError) Error() string {
	return fmt.Sprintf("meowdiff: target directory not empty: %s", e.Dir)
}
