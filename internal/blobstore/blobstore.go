// Package blobstore implements MeowDiff's content-addressed, zstd-compressed
// blob store. Blobs live at <dir>/<sha[0:2]>/<sha>.zst; ref counting is the
// caller's responsibility (the Timeline Index owns blob_refs, per spec.md
// §4.1) — this package only guarantees that file-level writes are atomic
// and that the same sha is never written twice.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/anthropic/meowdiff/internal/idcodec"
	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// Store is a content-addressed blob store rooted at dir.
type Store struct {
	dir string

	// putMu serializes the check-then-write sequence for a given sha so
	// that concurrent Put calls for identical content never race on the
	// temp-file-then-rename step. spec.md §4.1 only requires the ref
	// count increment to be serialized (that happens one level up, in
	// the Record Writer's transaction); this lock is a cheap way to
	// avoid redundant compression work under a burst of puts for the
	// same content.
	putMu sync.Mutex

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open returns a Store rooted at dir, creating dir if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: new encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: new decoder: %w", err)
	}
	return &Store{dir: dir, encoder: enc, decoder: dec}, nil
}

// Close releases the shared encoder/decoder.
func (s *Store) Close() {
	if s.encoder != nil {
		s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
}

// Sha returns the content address for bytes, without writing anything.
func Sha(data []byte) string {
	return idcodec.HashHex(data)
}

// pathFor returns the on-disk compressed path for a sha.
func (s *Store) pathFor(sha string) string {
	return filepath.Join(s.dir, sha[:2], sha+".zst")
}

// Exists reports whether a blob for sha is present on disk.
func (s *Store) Exists(sha string) bool {
	_, err := os.Stat(s.pathFor(sha))
	return err == nil
}

// Put writes data's content-addressed, compressed blob if it is not
// already present, returning its sha. If the blob already exists, Put is
// a no-op beyond computing the hash — the caller (Record Writer) is
// responsible for incrementing the ref count regardless of which branch
// was taken, per spec.md §4.1: "each successful reference... increments
// ref_count by exactly one".
func (s *Store) Put(data []byte) (string, error) {
	sha := Sha(data)

	s.putMu.Lock()
	defer s.putMu.Unlock()

	target := s.pathFor(sha)
	if _, err := os.Stat(target); err == nil {
		return sha, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir: %w", err)
	}

	compressed := s.encoder.EncodeAll(data, nil)

	tmp, err := os.CreateTemp(filepath.Dir(target), sha+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("blobstore: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("blobstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("blobstore: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("blobstore: rename into place: %w", err)
	}

	return sha, nil
}

// Get reads and decompresses the blob addressed by sha, verifying its
// hash. Returns BlobMissingError if absent, BlobCorruptError if the
// re-hashed bytes don't match sha.
func (s *Store) Get(sha string) ([]byte, error) {
	raw, err := os.ReadFile(s.pathFor(sha))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &meowdiff.BlobMissingError{SHA: sha}
		}
		return nil, fmt.Errorf("blobstore: read %s: %w", sha, err)
	}

	data, err := s.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, &meowdiff.BlobCorruptError{SHA: sha}
	}

	if Sha(data) != sha {
		return nil, &meowdiff.BlobCorruptError{SHA: sha}
	}

	return data, nil
}

// Size returns the compressed on-disk size of a blob, or -1 if absent.
func (s *Store) Size(sha string) int64 {
	info, err := os.Stat(s.pathFor(sha))
	if err != nil {
		return -1
	}
	return info.Size()
}
