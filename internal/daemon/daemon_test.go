package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireLockRefusesLiveHolder(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "watch.lock")

	if err := acquireLock(lockPath, false); err != nil {
		t.Fatalf("first acquireLock: %v", err)
	}

	// Our own pid is always "alive", so a second acquisition without
	// force must be refused.
	if err := acquireLock(lockPath, false); err == nil {
		t.Fatal("expected second acquireLock to fail while holder is alive")
	}

	if err := acquireLock(lockPath, true); err != nil {
		t.Fatalf("forced acquireLock: %v", err)
	}
}

func TestAcquireLockAllowsStaleHolder(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "watch.lock")

	// A pid that is essentially guaranteed not to be alive.
	stale := lockInfo{PID: 999999}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	if err := acquireLock(lockPath, false); err != nil {
		t.Fatalf("acquireLock over stale holder: %v", err)
	}
}

func TestReleaseLockRemovesFile(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "watch.lock")

	if err := acquireLock(lockPath, false); err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	releaseLock(lockPath)

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed, stat err = %v", err)
	}
}
