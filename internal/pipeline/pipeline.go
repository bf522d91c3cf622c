// Package pipeline is MeowDiff's event debouncer and diff generator: it
// consumes filtered filesystem events, coalesces them into micro-batches
// (batcher.go), and at each flush re-reads the touched files, resolves
// before/after content hashes, generates unified diffs (diffgen.go), and
// hands the result to the Record Writer as a RecordDraft, per spec.md
// §4.4.
package pipeline

import (
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/meowdiff"
	"github.com/anthropic/meowdiff/internal/timeline"
)

// Committer is the subset of the Record Writer the Pipeline depends on.
// Kept as an interface so tests can substitute a fake without pulling in
// the timeline database.
type Committer interface {
	Commit(draft meowdiff.RecordDraft) (meowdiff.Record, error)
}

// SnapshotSource resolves a path's last known content hash without a
// full index scan, per spec.md §3's LatestSnapshot description.
type SnapshotSource interface {
	GetLatestSnapshot(projectID, path string) (sha string, ok bool, err error)
}

// Pipeline owns the batching state machine and turns flushed batches into
// committed records. It is the only component allowed to call the
// Record Writer, per spec.md §5.
type Pipeline struct {
	projectID string
	root      string
	blobs     *blobstore.Store
	snapshots SnapshotSource
	writer    Committer
	logger    *slog.Logger

	batcher        *Batcher
	events         chan meowdiff.Event
	done           chan struct{}
	batchesFlushed atomic.Int64
}

// Config controls the Pipeline's batching window.
type Config struct {
	WindowMS int
}

// New creates a Pipeline for one project. root is the watched directory's
// canonical absolute path; event paths arriving on Events() are expected
// absolute and are converted to root-relative, forward-slash paths before
// diffing.
func New(projectID, root string, blobs *blobstore.Store, snapshots SnapshotSource, writer Committer, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	windowMS := cfg.WindowMS
	if windowMS <= 0 {
		windowMS = 50
	}

	p := &Pipeline{
		projectID: projectID,
		root:      root,
		blobs:     blobs,
		snapshots: snapshots,
		writer:    writer,
		logger:    logger,
		events:    make(chan meowdiff.Event, 1024),
		done:      make(chan struct{}),
	}
	p.batcher = NewBatcher(time.Duration(windowMS)*time.Millisecond, p.onFlush)
	return p
}

// Events returns the channel the Watcher task feeds raw events into.
func (p *Pipeline) Events() chan<- meowdiff.Event { return p.events }

// BatchesFlushed returns the lifetime count of flushed batches (whether
// or not they produced a record), for the IPC status command.
func (p *Pipeline) BatchesFlushed() int64 { return p.batchesFlushed.Load() }

// Run drains Events() into the batcher until the channel is closed or
// stop is requested. It is meant to run in its own goroutine, owned by
// the daemon per spec.md §5's "Pipeline task" description.
func (p *Pipeline) Run() {
	for {
		select {
		case e, ok := <-p.events:
			if !ok {
				p.batcher.Stop()
				close(p.done)
				return
			}
			p.batcher.Feed(e)
		case <-p.done:
			return
		}
	}
}

// Stop closes the events channel, which makes Run flush any open batch
// and return, and waits for that. Because Stop itself closes the
// channel, a second call, or a send on Events() after Stop, panics.
func (p *Pipeline) Stop() {
	close(p.events)
	<-p.done
}

// onFlush is the Batcher's flush callback: it re-reads every touched
// path, resolves ops, generates diffs, and commits a record if anything
// survives the unchanged-content filter.
func (p *Pipeline) onFlush(batch []meowdiff.Event, tsStart, tsEnd time.Time) {
	p.batchesFlushed.Add(1)
	// Dedupe to the unique path set; op is re-derived from live
	// filesystem state at flush time (spec.md §4.4 step 1), not from the
	// event kind, so only the path set past here matters.
	seen := make(map[string]bool)
	var order []string
	for _, e := range batch {
		rel := relPath(p.root, e.Path)
		if rel == "" || seen[rel] {
			continue
		}
		seen[rel] = true
		order = append(order, rel)
	}

	// spec.md §4.4: "across paths, diff entries appear in lexicographic
	// order regardless of event arrival order."
	sort.Strings(order)

	var (
		entries      []meowdiff.FileEntry
		patchBuilder strings.Builder
		fileContents = make(map[string][]byte)
		added, removed int
	)

	for _, rel := range order {
		entry, section, newContent, ok := p.diffOnePath(rel)
		if !ok {
			continue
		}
		entries = append(entries, entry)
		patchBuilder.WriteString(section.text)
		added += entry.Stats.Added
		removed += entry.Stats.Removed
		if entry.AfterSHA != "" && newContent != nil {
			fileContents[entry.AfterSHA] = newContent
		}
	}

	if len(entries) == 0 {
		// spec.md §4.4: "If every path resolved to unchanged... the
		// batch is discarded; no record is produced."
		return
	}

	draft := meowdiff.RecordDraft{
		ProjectID:         p.projectID,
		TsStart:           tsStart,
		TsEnd:             tsEnd,
		Files:             entries,
		UnifiedPatchBytes: []byte(patchBuilder.String()),
		FileContents:      fileContents,
	}

	if _, err := p.writer.Commit(draft); err != nil {
		p.logger.Error("pipeline: commit failed, batch dropped", "error", err, "files", len(entries))
	}
}

// diffOnePath resolves op, before/after shas, and the diff section for
// one project-relative path at flush time. ok is false if the path
// should be dropped from the batch (unchanged content, or an
// unrecoverable read error that was logged and skipped).
func (p *Pipeline) diffOnePath(rel string) (entry meowdiff.FileEntry, section unifiedSection, newContent []byte, ok bool) {
	absPath := p.root + "/" + rel

	beforeSHA, hadBefore, err := p.snapshots.GetLatestSnapshot(p.projectID, rel)
	if err != nil {
		p.logger.Warn("pipeline: snapshot lookup failed, treating as new", "path", rel, "error", err)
		hadBefore = false
	}

	info, statErr := os.Stat(absPath)
	existsNow := statErr == nil && !info.IsDir()

	var op meowdiff.Op
	switch {
	case existsNow && !hadBefore:
		op = meowdiff.OpCreate
	case !existsNow && hadBefore:
		op = meowdiff.OpDelete
	case existsNow:
		op = meowdiff.OpModify
	default:
		// Neither exists now nor had a prior snapshot: nothing to record
		// (e.g. a create immediately followed by a delete within the
		// same batch window).
		return meowdiff.FileEntry{}, unifiedSection{}, nil, false
	}

	var currentBytes []byte
	if existsNow {
		currentBytes, err = os.ReadFile(absPath)
		if err != nil {
			if !os.IsNotExist(err) {
				p.logger.Warn("pipeline: read failed, skipping path", "path", rel, "error", &meowdiff.ReadFailedError{Path: rel, Cause: err})
			}
			return meowdiff.FileEntry{}, unifiedSection{}, nil, false
		}
	}

	var afterSHA string
	if op != meowdiff.OpDelete {
		afterSHA = blobstore.Sha(currentBytes)
		if hadBefore && afterSHA == beforeSHA {
			// spec.md §4.4 step 4: unchanged content, drop entirely.
			return meowdiff.FileEntry{}, unifiedSection{}, nil, false
		}
	}

	var oldText []byte
	if op != meowdiff.OpCreate && beforeSHA != "" {
		oldText, err = p.blobs.Get(beforeSHA)
		if err != nil {
			oldText = nil
			if op == meowdiff.OpDelete {
				// A removed file stays a delete; its section simply has no
				// old lines to show.
				p.logger.Warn("pipeline: before blob unreadable, recording delete without old text", "path", rel, "sha", beforeSHA, "error", err)
			} else {
				// spec.md §7: BlobMissing on a before_sha read falls back to
				// treating the file as new.
				p.logger.Warn("pipeline: before blob unreadable, treating as new", "path", rel, "sha", beforeSHA, "error", err)
				op = meowdiff.OpCreate
				beforeSHA = ""
			}
		}
	}

	binary := isBinary(currentBytes) || (len(oldText) > 0 && isBinary(oldText))
	section = generateSection(rel, op, oldText, currentBytes, binary)

	entry = meowdiff.FileEntry{
		Path:      rel,
		Op:        op,
		BeforeSHA: beforeSHA,
		AfterSHA:  afterSHA,
		Stats:     section.stats,
	}

	if op == meowdiff.OpDelete {
		return entry, section, nil, true
	}
	return entry, section, currentBytes, true
}

// relPath converts an absolute path under root to a project-relative,
// forward-slash-normalized path, per spec.md §3's FileEntry.path
// convention. Returns "" if absPath is not under root.
func relPath(root, absPath string) string {
	root = strings.TrimSuffix(root, "/")
	if !strings.HasPrefix(absPath, root+"/") {
		return ""
	}
	rel := strings.TrimPrefix(absPath, root+"/")
	return strings.ReplaceAll(rel, "\\", "/")
}

// TimelineSnapshotSource adapts *timeline.Index to SnapshotSource.
type TimelineSnapshotSource struct {
	Index *timeline.Index
}

func (s TimelineSnapshotSource) GetLatestSnapshot(projectID, path string) (string, bool, error) {
	return s.Index.GetLatestSnapshot(projectID, path)
}
