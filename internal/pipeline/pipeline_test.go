package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// fakeCommitter records every draft handed to Commit, guarded by a mutex
// since onFlush runs on the batcher's own timer goroutine.
type fakeCommitter struct {
	mu      sync.Mutex
	drafts  []meowdiff.RecordDraft
	nextErr error
}

func (f *fakeCommitter) Commit(draft meowdiff.RecordDraft) (meowdiff.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		err := f.nextErr
		f.nextErr = nil
		return meowdiff.Record{}, err
	}
	f.drafts = append(f.drafts, draft)
	return meowdiff.Record{RecordID: "rec"}, nil
}

func (f *fakeCommitter) Drafts() []meowdiff.RecordDraft {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]meowdiff.RecordDraft, len(f.drafts))
	copy(out, f.drafts)
	return out
}

// fakeSnapshots is an in-memory stand-in for the timeline's latest-snapshot
// lookup, updated by the test as records land.
type fakeSnapshots struct {
	mu     sync.Mutex
	byPath map[string]string
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{byPath: make(map[string]string)}
}

func (s *fakeSnapshots) GetLatestSnapshot(projectID, path string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha, ok := s.byPath[path]
	return sha, ok, nil
}

func (s *fakeSnapshots) set(path, sha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPath[path] = sha
}

func setupPipeline(t *testing.T, windowMS int) (*Pipeline, string, *fakeCommitter, *fakeSnapshots) {
	t.Helper()
	root := t.TempDir()
	blobs, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("blobstore.Open: %v", err)
	}
	t.Cleanup(blobs.Close)

	committer := &fakeCommitter{}
	snapshots := newFakeSnapshots()

	p := New("proj1", root, blobs, snapshots, committer, Config{WindowMS: windowMS}, nil)
	go p.Run()
	t.Cleanup(p.Stop)

	return p, root, committer, snapshots
}

func waitForDrafts(t *testing.T, committer *fakeCommitter, n int) []meowdiff.RecordDraft {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := committer.Drafts(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d committed drafts, got %d", n, len(committer.Drafts()))
	return nil
}

func TestPipelineFirstWriteProducesCreateRecord(t *testing.T) {
	p, root, committer, _ := setupPipeline(t, 20)

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p.Events() <- meowdiff.Event{Path: path, Kind: meowdiff.EventCreated, TS: time.Now()}

	drafts := waitForDrafts(t, committer, 1)
	if len(drafts[0].Files) != 1 {
		t.Fatalf("draft has %d files, want 1", len(drafts[0].Files))
	}
	entry := drafts[0].Files[0]
	if entry.Path != "a.txt" || entry.Op != meowdiff.OpCreate {
		t.Errorf("entry = %+v, want a.txt/create", entry)
	}
}

func TestPipelineCoalescesRapidEditsIntoOneRecord(t *testing.T) {
	p, root, committer, _ := setupPipeline(t, 30)

	path := filepath.Join(root, "a.txt")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("version "+string(rune('0'+i))+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		p.Events() <- meowdiff.Event{Path: path, Kind: meowdiff.EventModified, TS: time.Now()}
		time.Sleep(5 * time.Millisecond)
	}

	drafts := waitForDrafts(t, committer, 1)
	time.Sleep(80 * time.Millisecond)
	if got := len(committer.Drafts()); got != 1 {
		t.Fatalf("got %d committed records for coalesced rapid edits, want 1", got)
	}
	_ = drafts
}

func TestPipelineUnchangedContentProducesNoRecord(t *testing.T) {
	p, root, committer, snapshots := setupPipeline(t, 20)

	content := []byte("same content\n")
	sha := blobstore.Sha(content)
	snapshots.set("a.txt", sha)

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	p.Events() <- meowdiff.Event{Path: path, Kind: meowdiff.EventModified, TS: time.Now()}

	time.Sleep(100 * time.Millisecond)
	if got := len(committer.Drafts()); got != 0 {
		t.Fatalf("got %d committed records for unchanged content, want 0", got)
	}
}

func TestPipelineDeleteProducesDeleteRecord(t *testing.T) {
	p, root, committer, snapshots := setupPipeline(t, 20)

	snapshots.set("a.txt", blobstore.Sha([]byte("gone now\n")))

	path := filepath.Join(root, "a.txt")
	p.Events() <- meowdiff.Event{Path: path, Kind: meowdiff.EventRemoved, TS: time.Now()}

	drafts := waitForDrafts(t, committer, 1)
	entry := drafts[0].Files[0]
	if entry.Op != meowdiff.OpDelete || entry.Path != "a.txt" {
		t.Errorf("entry = %+v, want a.txt/delete", entry)
	}
}

func TestPipelineBatchesFlushedCounterIncrements(t *testing.T) {
	p, root, _, _ := setupPipeline(t, 20)

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p.Events() <- meowdiff.Event{Path: path, Kind: meowdiff.EventCreated, TS: time.Now()}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.BatchesFlushed() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if p.BatchesFlushed() == 0 {
		t.Fatal("BatchesFlushed never incremented")
	}
}
