// Package watch re-runs the content sync whenever a shared item changes in
// the source tree. It never commits or pushes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	contentsync "github.com/schaermu/sitepush/internal/sync"
)

// DefaultDelay is how long the watcher waits for a burst of events to settle.
const DefaultDelay = 2 * time.Second

// Syncer is the part of the content sync engine the watcher drives.
type Syncer interface {
	Sync(ctx context.Context, sourceRoot, destRoot string, items []string) *contentsync.Report
}

// Options configures a Watcher
type Options struct {
	SourceRoot string
	DestRoot   string
	Items      []string
	Delay      time.Duration
	// OnSync, if set, is called after every completed sync.
	OnSync func(*contentsync.Report)
}

// Watcher watches the configured items and triggers debounced re-syncs.
type Watcher struct {
	opts     Options
	syncer   Syncer
	logger   *slog.Logger
	items    map[string]bool
	debounce *debouncer
}

// debouncer delays the callback until no trigger arrived for delay
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// New creates a watcher for opts.Items below opts.SourceRoot
func New(syncer Syncer, opts Options, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	items := make(map[string]bool, len(opts.Items))
	for _, it := range opts.Items {
		items[it] = true
	}
	return &Watcher{
		opts:     opts,
		syncer:   syncer,
		logger:   logger,
		items:    items,
		debounce: &debouncer{delay: opts.Delay},
	}
}

// Run performs an initial sync and then re-syncs on change until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	// The source root itself is watched non-recursively so that single-file
	// items and newly created item directories are noticed.
	if err := fw.Add(w.opts.SourceRoot); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.opts.SourceRoot, err)
	}
	for _, item := range w.opts.Items {
		path := filepath.Join(w.opts.SourceRoot, item)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.addDirsRecursive(fw, path)
		}
	}

	syncReq := make(chan struct{}, 1)
	request := func() {
		select {
		case syncReq <- struct{}{}:
		default:
			w.logger.Debug("sync already queued")
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-syncReq:
				w.runSync(ctx)
			}
		}
	}()

	w.logger.Info("watching shared content",
		"source", w.opts.SourceRoot,
		"dest", w.opts.DestRoot,
		"items", len(w.opts.Items),
		"delay", w.opts.Delay)
	request()

	err = w.loop(ctx, fw, request)
	w.debounce.stop()
	wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, request func()) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping watcher")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					w.addDirsRecursive(fw, ev.Name)
				}
			}
			w.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			w.debounce.trigger(request)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) runSync(ctx context.Context) {
	report := w.syncer.Sync(ctx, w.opts.SourceRoot, w.opts.DestRoot, w.opts.Items)
	if failed := report.Failed(); len(failed) > 0 {
		w.logger.Warn("re-sync finished with failures", "failed_items", len(failed))
	}
	if w.opts.OnSync != nil {
		w.opts.OnSync(report)
	}
}

// relevant reports whether path lies inside one of the watched items.
func (w *Watcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.opts.SourceRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	top, _, _ := strings.Cut(rel, "/")
	if !w.items[top] {
		return false
	}
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") && !strings.HasSuffix(base, ".swp") && base != ".git"
}

func (w *Watcher) addDirsRecursive(fw *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			w.logger.Warn("watch add failed", "dir", path, "error", err)
		}
		return nil
	})
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
