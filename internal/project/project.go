// Package project derives a MeowDiff project's identity and owns the
// layout of its state directory, per spec.md §3 and §6.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthropic/meowdiff/internal/idcodec"
	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// idLength is the width of a project_id, matching the record_id width
// used elsewhere so state-directory names stay visually consistent.
const idLength = 12

// StorageVersion is the current on-disk format version, written to
// meta/version on first initialization. Callers compare ReadVersion
// against this to detect a mismatch requiring migration.
const StorageVersion = "1"

// Project is a watched directory's identity plus its state directory
// layout under <home>/.meowdiff/<project_id>/.
type Project struct {
	ID       string
	Root     string // canonical absolute path of the watched directory
	StateDir string
}

// Open derives a Project for root (an absolute or relative watch path),
// ensures its state directory tree exists, refuses with
// ErrVersionMismatch if an existing state dir was written by an
// incompatible build, and registers the project in the global registry
// (original_source's storage::update_registry).
func Open(root string) (*Project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	// project_id is the first 12 hex characters of BLAKE3(canonical
	// absolute path), matching original_source's compute_project_id
	// (hex::encode(hash).take(12)) rather than record_id's base62
	// encoding, since spec.md leaves project_id's exact alphabet
	// unspecified and the original is the tiebreaker.
	id := idcodec.HashHex([]byte(absRoot))[:idLength]

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir := filepath.Join(home, ".meowdiff", id)

	p := &Project{ID: id, Root: absRoot, StateDir: stateDir}
	if err := p.ensureLayout(); err != nil {
		return nil, err
	}
	if err := touchRegistry(id, absRoot); err != nil {
		return nil, fmt.Errorf("project: update registry: %w", err)
	}
	return p, nil
}

// ensureLayout creates the state directory tree described in spec.md §6,
// stamps meta/version on first creation, and refuses to proceed if an
// existing meta/version disagrees with StorageVersion, per spec.md §7's
// VersionMismatch: "startup refuses and prompts migration".
func (p *Project) ensureLayout() error {
	dirs := []string{
		p.StateDir,
		p.RecordsDir(),
		p.BlobsDir(),
		p.MetaDir(),
		filepath.Join(p.MetaDir(), "logs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}

	versionPath := p.VersionPath()
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := os.WriteFile(versionPath, []byte(StorageVersion), 0o644); err != nil {
			return err
		}
		return nil
	}

	current, err := p.ReadVersion()
	if err != nil {
		return err
	}
	if current != StorageVersion {
		return fmt.Errorf("%w: %s has version %q, this build expects %q", meowdiff.ErrVersionMismatch, versionPath, current, StorageVersion)
	}
	return nil
}

// DBPath is the timeline database path.
func (p *Project) DBPath() string { return filepath.Join(p.StateDir, "timeline.db") }

// RecordsDir holds per-record artifact directories.
func (p *Project) RecordsDir() string { return filepath.Join(p.StateDir, "records") }

// RecordDir returns the artifact directory for one record.
func (p *Project) RecordDir(recordID string) string { return filepath.Join(p.RecordsDir(), recordID) }

// BlobsDir is the blob store's root directory.
func (p *Project) BlobsDir() string { return filepath.Join(p.StateDir, "blobs") }

// MetaDir holds version, lock file, ignore cache, and logs.
func (p *Project) MetaDir() string { return filepath.Join(p.StateDir, "meta") }

// VersionPath is meta/version.
func (p *Project) VersionPath() string { return filepath.Join(p.MetaDir(), "version") }

// LockPath is meta/watch.lock.
func (p *Project) LockPath() string { return filepath.Join(p.MetaDir(), "watch.lock") }

// IgnoreCachePath is meta/ignore_cache.json.
func (p *Project) IgnoreCachePath() string { return filepath.Join(p.MetaDir(), "ignore_cache.json") }

// LogPath is meta/logs/current.log.
func (p *Project) LogPath() string { return filepath.Join(p.MetaDir(), "logs", "current.log") }

// ReadVersion returns the raw contents of meta/version, so callers can
// compare it against StorageVersion and surface ErrVersionMismatch when
// opening a state directory written by a different build.
func (p *Project) ReadVersion() (string, error) {
	data, err := os.ReadFile(p.VersionPath())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
