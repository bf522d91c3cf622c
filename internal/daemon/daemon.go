// Package daemon manages the lifecycle of the MeowDiff background
// process: lock acquisition, wiring Watcher -> Pipeline -> Record Writer,
// signal-driven shutdown, and IPC exposure, per spec.md §5.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/config"
	"github.com/anthropic/meowdiff/internal/ignore"
	"github.com/anthropic/meowdiff/internal/pipeline"
	"github.com/anthropic/meowdiff/internal/project"
	"github.com/anthropic/meowdiff/internal/recordwriter"
	"github.com/anthropic/meowdiff/internal/timeline"
	"github.com/anthropic/meowdiff/internal/watch"
)

// IPCServer is the interface the daemon uses to start/stop the IPC listener.
// This avoids a circular dependency with the ipc package.
type IPCServer interface {
	Listen(socketPath string, ctx context.Context) error
	Stop() error
}

// StoreAware can receive a store reference after it becomes available.
type StoreAware interface {
	SetStore(store interface{})
}

// BatchCounterAware can receive the pipeline's flush counter once it
// starts running.
type BatchCounterAware interface {
	SetBatchesFlushed(fn func() int64)
}

// Daemon manages the lifecycle of a single watched project's background
// process: one Watcher, one Pipeline, one Record Writer, sharing one
// Timeline Index and Blob Store.
type Daemon struct {
	cfg     *config.Config
	proj    *project.Project
	index   *timeline.Index
	blobs   *blobstore.Store
	writer  *recordwriter.Writer
	ipc     IPCServer
	pl      *pipeline.Pipeline
	logger  *slog.Logger

	startTime time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New creates a Daemon with the given config and an injected IPC server
// (to avoid circular imports). Start selects the watched project root.
func New(cfg *config.Config, ipcServer IPCServer) *Daemon {
	return &Daemon{cfg: cfg, ipc: ipcServer, logger: slog.Default().With("component", "daemon")}
}

// Start acquires the project lock, opens storage, wires the Watcher,
// Pipeline, and Record Writer together, starts the IPC server, and blocks
// until the context is cancelled (via signal or Stop).
func (d *Daemon) Start(root string, force bool) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.mu.Unlock()

	proj, err := project.Open(root)
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	d.proj = proj

	if err := acquireLock(proj.LockPath(), force); err != nil {
		return err
	}

	idx, err := timeline.Open(proj.DBPath())
	if err != nil {
		releaseLock(proj.LockPath())
		return fmt.Errorf("open timeline: %w", err)
	}
	d.index = idx

	blobs, err := blobstore.Open(proj.BlobsDir())
	if err != nil {
		_ = idx.Close()
		releaseLock(proj.LockPath())
		return fmt.Errorf("open blob store: %w", err)
	}
	d.blobs = blobs

	writer, err := recordwriter.New(proj, blobs, idx)
	if err != nil {
		blobs.Close()
		_ = idx.Close()
		releaseLock(proj.LockPath())
		return fmt.Errorf("new record writer: %w", err)
	}
	d.writer = writer

	matcher, err := ignore.New(proj.Root, d.cfg.DefaultIgnore.Extra)
	if err != nil {
		writer.Close()
		blobs.Close()
		_ = idx.Close()
		releaseLock(proj.LockPath())
		return fmt.Errorf("build ignore matcher: %w", err)
	}

	pl := pipeline.New(proj.ID, proj.Root, blobs, pipeline.TimelineSnapshotSource{Index: idx}, writer,
		pipeline.Config{WindowMS: d.cfg.WindowMS}, d.logger.With("component", "pipeline"))
	d.pl = pl

	if sa, ok := d.ipc.(StoreAware); ok {
		sa.SetStore(idx)
	}
	if bc, ok := d.ipc.(BatchCounterAware); ok {
		bc.SetBatchesFlushed(pl.BatchesFlushed)
	}

	ctx, cancel := signalContext(context.Background())
	d.ctx = ctx
	d.cancel = cancel
	d.startTime = time.Now()

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- d.ipc.Listen(d.cfg.SocketPath, d.ctx)
	}()

	w := watch.New(proj.Root, matcher, pl.Events(), d.logger.With("component", "watch"))
	watchErrCh := make(chan error, 1)
	go func() {
		watchErrCh <- w.Start(d.ctx)
	}()

	go pl.Run()

	d.logger.Info("daemon started", "pid", os.Getpid(), "project", proj.ID, "root", proj.Root, "socket", d.cfg.SocketPath)

	select {
	case <-d.ctx.Done():
		d.logger.Info("shutdown signal received")
	case err := <-ipcErrCh:
		if err != nil {
			d.logger.Error("ipc server error", "error", err)
		}
	case err := <-watchErrCh:
		if err != nil {
			d.logger.Error("watcher error", "error", err)
		}
	}

	return d.shutdown()
}

// Stop triggers a graceful shutdown from outside (e.g. via IPC stop command).
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// shutdown performs ordered teardown: pipeline drain, IPC server, storage
// close, lock and socket cleanup.
func (d *Daemon) shutdown() error {
	d.logger.Info("shutting down")

	if d.pl != nil {
		d.pl.Stop()
	}
	if d.ipc != nil {
		if err := d.ipc.Stop(); err != nil {
			d.logger.Warn("ipc stop", "error", err)
		}
	}
	if d.writer != nil {
		d.writer.Close()
	}
	if d.blobs != nil {
		d.blobs.Close()
	}
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.logger.Warn("timeline close", "error", err)
		}
	}
	if d.proj != nil {
		releaseLock(d.proj.LockPath())
	}
	_ = os.Remove(d.cfg.SocketPath)

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.logger.Info("daemon stopped")
	return nil
}

// Running returns true if the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// Config returns the daemon's configuration.
func (d *Daemon) Config() *config.Config {
	return d.cfg
}
