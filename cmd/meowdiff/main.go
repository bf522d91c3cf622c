package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/anthropic/meowdiff/internal/blobstore"
	"github.com/anthropic/meowdiff/internal/config"
	"github.com/anthropic/meowdiff/internal/daemon"
	"github.com/anthropic/meowdiff/internal/ignore"
	"github.com/anthropic/meowdiff/internal/ipc"
	"github.com/anthropic/meowdiff/internal/meowdiff"
	"github.com/anthropic/meowdiff/internal/project"
	"github.com/anthropic/meowdiff/internal/query"
	"github.com/anthropic/meowdiff/internal/restore"
	"github.com/anthropic/meowdiff/internal/timeline"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meowdiff",
		Short: "A local-first, line-level filesystem change tracker",
		Long:  "meowdiff watches a directory, coalesces edits into micro-batches, and keeps an immutable timeline of line-level diffs you can browse or restore from.",
	}

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(ignoreCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func watchCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Start watching a directory in the foreground",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			cfg, err := config.Load(config.ConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			ipcServer := ipc.NewServer(nil, nil, []string{root})
			d := daemon.New(cfg, ipcServer)
			ipcServer.SetDaemon(d)

			return d.Start(root, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Override a stale watch.lock from a dead process")
	return cmd
}

func stopCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the watch daemon for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client := ipc.NewClient(cfg.SocketPath)
			if err := client.RequestStop(); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}
			fmt.Println("daemon stopping")
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "path", ".", "Project path (ignored: stop always targets the daemon on the configured socket)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show watch daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client := ipc.NewClient(cfg.SocketPath)
			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("daemon not running or unreachable: %w", err)
			}
			fmt.Printf("uptime:          %s\n", status.Uptime)
			fmt.Printf("db size:         %d bytes\n", status.DBSizeBytes)
			fmt.Printf("records:         %d\n", status.RecordsCount)
			fmt.Printf("batches flushed: %d\n", status.BatchesFlushed)
			fmt.Printf("watched paths:   %v\n", status.WatchedPaths)
			return nil
		},
	}
	return cmd
}

// openReadAPI opens a project's query API for read-side commands, which
// work directly against the on-disk state without requiring a running
// daemon.
func openReadAPI(root string) (*project.Project, *timeline.Index, *blobstore.Store, *query.API, error) {
	proj, err := project.Open(root)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open project: %w", err)
	}
	idx, err := timeline.Open(proj.DBPath())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open timeline: %w", err)
	}
	blobs, err := blobstore.Open(proj.BlobsDir())
	if err != nil {
		_ = idx.Close()
		return nil, nil, nil, nil, fmt.Errorf("open blob store: %w", err)
	}
	api, err := query.New(proj, idx, blobs)
	if err != nil {
		blobs.Close()
		_ = idx.Close()
		return nil, nil, nil, nil, fmt.Errorf("new query api: %w", err)
	}
	return proj, idx, blobs, api, nil
}

func listCmd() *cobra.Command {
	var path string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records for the project in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, idx, blobs, api, err := openReadAPI(path)
			if err != nil {
				return err
			}
			defer func() { api.Close(); blobs.Close(); _ = idx.Close() }()

			records, err := api.List(proj.ID, 0, 0, limit)
			if err != nil {
				return fmt.Errorf("list records: %w", err)
			}
			for _, r := range records {
				fmt.Printf("%s  %s  files=%d  +%d/-%d\n",
					r.RecordID, r.EndedAt.Format("2006-01-02T15:04:05Z07:00"),
					r.Stats.Files, r.Stats.LinesAdded, r.Stats.LinesRemoved)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to list")
	return cmd
}

func showCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show a record's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, idx, blobs, api, err := openReadAPI(path)
			if err != nil {
				return err
			}
			defer func() { api.Close(); blobs.Close(); _ = idx.Close() }()

			rec, err := api.Show(args[0])
			if err != nil {
				return fmt.Errorf("show record: %w", err)
			}
			fmt.Printf("record_id:   %s\n", rec.RecordID)
			fmt.Printf("started_at:  %s\n", rec.StartedAt)
			fmt.Printf("ended_at:    %s\n", rec.EndedAt)
			fmt.Printf("prev_record: %s\n", rec.PrevRecordID)
			for _, fe := range rec.Files {
				fmt.Printf("  %-6s %-40s +%d/-%d\n", fe.Op, fe.Path, fe.Stats.Added, fe.Stats.Removed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	return cmd
}

func diffCmd() *cobra.Command {
	var path, file string

	cmd := &cobra.Command{
		Use:   "diff <record-id>",
		Short: "Print a record's unified patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, idx, blobs, api, err := openReadAPI(path)
			if err != nil {
				return err
			}
			defer func() { api.Close(); blobs.Close(); _ = idx.Close() }()

			data, err := api.Diff(args[0], file)
			if err != nil {
				return fmt.Errorf("diff record: %w", err)
			}
			os.Stdout.Write(data)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	cmd.Flags().StringVar(&file, "file", "", "Limit output to one file's section")
	return cmd
}

func extractCmd() *cobra.Command {
	var path string
	var force bool

	cmd := &cobra.Command{
		Use:   "extract <record-id> <output-dir>",
		Short: "Extract a record's after-state files into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, idx, blobs, api, err := openReadAPI(path)
			if err != nil {
				return err
			}
			defer func() { api.Close(); blobs.Close(); _ = idx.Close() }()

			if err := api.Extract(args[0], args[1], force); err != nil {
				return fmt.Errorf("extract record: %w", err)
			}
			fmt.Printf("extracted %s to %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	cmd.Flags().BoolVar(&force, "force", false, "Extract into a non-empty directory")
	return cmd
}

func restoreCmd() *cobra.Command {
	var path, policy string
	var apply, force bool

	cmd := &cobra.Command{
		Use:   "restore <record-id>",
		Short: "Restore a record's before/after state onto the filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := project.Open(path)
			if err != nil {
				return fmt.Errorf("open project: %w", err)
			}
			idx, err := timeline.Open(proj.DBPath())
			if err != nil {
				return fmt.Errorf("open timeline: %w", err)
			}
			defer idx.Close()
			blobs, err := blobstore.Open(proj.BlobsDir())
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			defer blobs.Close()

			m := restore.ModePrint
			if apply {
				m = restore.ModeApply
			}
			p := restore.PolicyBefore
			if policy == "after" {
				p = restore.PolicyAfter
			}

			r := restore.New(proj.Root, idx, blobs)
			patch, err := r.Restore(args[0], m, p, force)
			if err != nil {
				var conflict *meowdiff.RestoreConflictError
				if errors.As(err, &conflict) {
					fmt.Fprintf(os.Stderr, "restore conflicts on %d path(s):\n", len(conflict.Paths))
					for _, path := range conflict.Paths {
						fmt.Fprintf(os.Stderr, "  %s\n", path)
					}
					fmt.Fprintln(os.Stderr, "re-run with --force to override")
					return err
				}
				return fmt.Errorf("restore: %w", err)
			}

			if !apply {
				os.Stdout.Write(patch)
			} else {
				fmt.Println("restored " + strconv.Quote(args[0]))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply the restore (default prints the patch that applying would write, without a conflict check)")
	cmd.Flags().StringVar(&policy, "to", "before", "Which side to restore to: before|after")
	cmd.Flags().BoolVar(&force, "force", false, "Override detected conflicts")
	return cmd
}

// projectsCmd lists every project MeowDiff has ever opened, per the
// global registry maintained by project.Open, grounded on
// original_source's handle_projects/read_registry_global.
func projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List every project recorded in the global registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := project.ListProjects()
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("no projects recorded yet")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s\n", e.ProjectID, e.Path)
			}
			return nil
		},
	}
	return cmd
}

// inspectCmd resolves one project by --path or --project-id and prints a
// short summary of its storage state, grounded on original_source's
// handle_inspect/find_project_entry.
func inspectCmd() *cobra.Command {
	var path, projectID string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a project's identity and storage summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := path
			if projectID != "" {
				entry, ok, err := project.FindProjectEntry(projectID)
				if err != nil {
					return fmt.Errorf("find project: %w", err)
				}
				if !ok {
					return fmt.Errorf("no registry entry for project-id %s", projectID)
				}
				root = entry.Path
			}

			proj, idx, blobs, api, err := openReadAPI(root)
			if err != nil {
				return err
			}
			defer func() { api.Close(); blobs.Close(); _ = idx.Close() }()

			records, err := api.List(proj.ID, 0, 0, 0)
			if err != nil {
				return fmt.Errorf("list records: %w", err)
			}
			latest := "none"
			if len(records) > 0 {
				latest = records[0].RecordID
			}

			fmt.Printf("project_id:   %s\n", proj.ID)
			fmt.Printf("root:         %s\n", proj.Root)
			fmt.Printf("state_dir:    %s\n", proj.StateDir)
			fmt.Printf("records:      %d\n", len(records))
			fmt.Printf("latest_record: %s\n", latest)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	cmd.Flags().StringVar(&projectID, "project-id", "", "Resolve the project from the global registry instead of --path")
	return cmd
}

// ignoreCmd groups `ignore list` (print the merged pattern set) and
// `ignore test` (check whether one path would be ignored), grounded on
// original_source's handle_ignore and its IgnoreCommands::{List,Test}.
func ignoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignore",
		Short: "Inspect MeowDiff's ignore rules for a project",
	}
	cmd.AddCommand(ignoreListCmd())
	cmd.AddCommand(ignoreTestCmd())
	return cmd
}

func ignoreListCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the merged ignore pattern set for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			matcher, err := ignore.New(path, cfg.DefaultIgnore.Extra)
			if err != nil {
				return fmt.Errorf("build ignore matcher: %w", err)
			}
			for _, rule := range matcher.Rules() {
				fmt.Println(rule)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	return cmd
}

func ignoreTestCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "test <target-path>",
		Short: "Check whether one path would be ignored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			matcher, err := ignore.New(path, cfg.DefaultIgnore.Extra)
			if err != nil {
				return fmt.Errorf("build ignore matcher: %w", err)
			}

			target := args[0]
			if filepath.IsAbs(target) {
				rel, err := filepath.Rel(path, target)
				if err != nil {
					return fmt.Errorf("resolve target relative to project: %w", err)
				}
				target = rel
			}

			info, statErr := os.Stat(filepath.Join(path, target))
			isDir := statErr == nil && info.IsDir()

			if matcher.Matches(target, isDir) {
				fmt.Println("IGNORED")
				os.Exit(0)
			}
			fmt.Println("TRACKED")
			os.Exit(1)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project path")
	return cmd
}
