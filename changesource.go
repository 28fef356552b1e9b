package gjest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change describes one observed file event.
type Change struct {
	Path string // Absolute path
	Op   string // create, write, remove or rename
}

// FileSignature fingerprints one file for change comparison.
type FileSignature struct {
	ModTime time.Time
	Size    int64
}

// ChangeSource produces file change events for the watch controller. The
// controller depends only on this interface; backend selection happens at
// startup.
type ChangeSource interface {
	// Start begins monitoring and returns once the source is ready. The
	// source stops when ctx is cancelled or Stop is called.
	Start(ctx context.Context) error
	// Events delivers changes to Go source files under the root. The
	// channel closes when the source stops.
	Events() <-chan Change
	// Signatures returns the fingerprints of the last scan. Event-driven
	// backends return nil.
	Signatures() map[string]FileSignature
	Stop()
}

// skipWatchDir mirrors the discovery skip list so the watcher and the
// resolver agree on which parts of the tree matter.
func skipWatchDir(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	switch name {
	case "vendor", "node_modules", "testdata":
		return true
	}
	return false
}

// NativeWatcher feeds OS file notifications through fsnotify. Directories
// created after startup are added to the watch recursively.
type NativeWatcher struct {
	root string
	log  *zap.SugaredLogger

	watcher  *fsnotify.Watcher
	events   chan Change
	done     chan struct{}
	stopOnce sync.Once
}

// NewNativeWatcher creates an event-driven source for the tree under root.
func NewNativeWatcher(root string, log *zap.SugaredLogger) *NativeWatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NativeWatcher{
		root:   root,
		log:    log,
		events: make(chan Change, 64),
		done:   make(chan struct{}),
	}
}

func (w *NativeWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.addRecursive(watcher, w.root); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	go w.loop(ctx)
	return nil
}

func (w *NativeWatcher) Events() <-chan Change { return w.events }

func (w *NativeWatcher) Signatures() map[string]FileSignature { return nil }

func (w *NativeWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}

func (w *NativeWatcher) loop(ctx context.Context) {
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("File watcher error", "error", err)
		}
	}
}

func (w *NativeWatcher) handle(ctx context.Context, event fsnotify.Event) {
	// Permission-only changes never affect test outcomes.
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skipWatchDir(filepath.Base(event.Name)) {
				if err := w.addRecursive(w.watcher, event.Name); err != nil {
					w.log.Warnw("Failed to watch new directory", "dir", event.Name, "error", err)
				}
			}
			return
		}
	}

	if filepath.Ext(event.Name) != ".go" {
		return
	}

	select {
	case w.events <- Change{Path: event.Name, Op: opString(event.Op)}:
	case <-ctx.Done():
	case <-w.done:
	}
}

func (w *NativeWatcher) addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && skipWatchDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func opString(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	}
	return strings.ToLower(op.String())
}

// PollingWatcher rescans the tree on an interval and diffs modification
// fingerprints. It is the fallback when OS notifications are unavailable or
// unwanted.
type PollingWatcher struct {
	root     string
	interval time.Duration
	log      *zap.SugaredLogger

	events   chan Change
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	sigs map[string]FileSignature
}

// NewPollingWatcher creates a polling source scanning the tree under root
// every interval. A non-positive interval defaults to one second.
func NewPollingWatcher(root string, interval time.Duration, log *zap.SugaredLogger) *PollingWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PollingWatcher{
		root:     root,
		interval: interval,
		log:      log,
		events:   make(chan Change, 64),
		done:     make(chan struct{}),
	}
}

func (w *PollingWatcher) Start(ctx context.Context) error {
	// Baseline scan; only subsequent differences become events.
	w.mu.Lock()
	w.sigs = w.scan()
	w.mu.Unlock()

	go w.loop(ctx)
	return nil
}

func (w *PollingWatcher) Events() <-chan Change { return w.events }

// Signatures returns a copy of the fingerprints from the latest scan.
func (w *PollingWatcher) Signatures() map[string]FileSignature {
	w.mu.Lock()
	defer w.mu.Unlock()

	sigs := make(map[string]FileSignature, len(w.sigs))
	for path, sig := range w.sigs {
		sigs[path] = sig
	}
	return sigs
}

func (w *PollingWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *PollingWatcher) loop(ctx context.Context) {
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *PollingWatcher) poll(ctx context.Context) {
	current := w.scan()

	w.mu.Lock()
	previous := w.sigs
	w.sigs = current
	w.mu.Unlock()

	for path, sig := range current {
		prev, ok := previous[path]
		switch {
		case !ok:
			w.emit(ctx, Change{Path: path, Op: "create"})
		case prev != sig:
			w.emit(ctx, Change{Path: path, Op: "write"})
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			w.emit(ctx, Change{Path: path, Op: "remove"})
		}
	}
}

func (w *PollingWatcher) emit(ctx context.Context, c Change) {
	select {
	case w.events <- c:
	case <-ctx.Done():
	case <-w.done:
	}
}

func (w *PollingWatcher) scan() map[string]FileSignature {
	sigs := make(map[string]FileSignature)
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if p != w.root && skipWatchDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) != ".go" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		sigs[p] = FileSignature{ModTime: info.ModTime(), Size: info.Size()}
		return nil
	})
	if err != nil {
		w.log.Warnw("Failed to scan for changes", "error", err)
	}
	return sigs
}
