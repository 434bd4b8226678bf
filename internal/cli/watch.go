package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nexus-db/schemasync/pkg/core/migration"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// WatchOptions configures watch.
type WatchOptions struct {
	Sync SyncOptions
	// Apply synchronizes the database on every change instead of only
	// printing the plan.
	Apply bool
	// Poll uses file modification times instead of OS events.
	Poll     bool
	Interval time.Duration
}

// DefaultWatchOptions returns the default watch options.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{Interval: 500 * time.Millisecond}
}

// Watch re-plans the schema directory against the database every time a
// schema file changes, until ctx is done.
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	dir, err := filepath.Abs(a.Config.Resolve(a.Config.SchemaDir))
	if err != nil {
		return err
	}
	if _, err := migration.SchemaFiles(dir); err != nil {
		return err
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultWatchOptions().Interval
	}

	a.printf("\nWatching %s\n", dir)
	a.printf("Press Ctrl+C to stop\n\n")
	a.check(ctx, opts)

	if opts.Poll {
		return a.watchWithPolling(ctx, dir, opts)
	}
	return a.watchWithFsnotify(ctx, dir, opts)
}

// check runs one diff or sync; failures are reported and watching goes on.
func (a *App) check(ctx context.Context, opts WatchOptions) {
	var err error
	if opts.Apply {
		err = a.Sync(ctx, opts.Sync)
	} else {
		err = a.Diff(ctx, opts.Sync)
	}
	if err != nil {
		PrintError(a.Out, err)
	}
	gray.Fprintf(a.Out, "[%s] Watching for changes...\n", timestamp())
}

func (a *App) watchWithFsnotify(ctx context.Context, dir string, opts WatchOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory: %w", err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSchemaEvent(event) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(opts.Interval, func() {
				a.printf("[%s] Change detected: %s\n", timestamp(), filepath.Base(event.Name))
				a.check(ctx, opts)
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.Logger.Log(logging.LevelWarn, "Watcher error", logging.Fields{"error": err})
		}
	}
}

func (a *App) watchWithPolling(ctx context.Context, dir string, opts WatchOptions) error {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	last := modTimes(dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := modTimes(dir)
			if changed := changedFile(last, current); changed != "" {
				last = current
				a.printf("[%s] Change detected: %s\n", timestamp(), filepath.Base(changed))
				a.check(ctx, opts)
			}
		}
	}
}

// isSchemaEvent reports writes, creations, removals and renames of .sql
// files.
func isSchemaEvent(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".sql" {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

func modTimes(dir string) map[string]time.Time {
	times := map[string]time.Time{}
	files, err := migration.SchemaFiles(dir)
	if err != nil {
		return times
	}
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			times[f] = info.ModTime()
		}
	}
	return times
}

// changedFile returns a file that was added, removed or modified between
// two scans, or "".
func changedFile(before, after map[string]time.Time) string {
	for f, t := range after {
		if prev, ok := before[f]; !ok || !prev.Equal(t) {
			return f
		}
	}
	for f := range before {
		if _, ok := after[f]; !ok {
			return f
		}
	}
	return ""
}
