// Package watch hot-reloads the threshold/capability config bundle (spec §6)
// when its backing file changes, reusing the teacher's debounced fsnotify
// watcher idiom (internal/adapters/watcher) — only the watched file pattern
// and the reload target changed, from `.gpkg` data files to the YAML/JSON
// config bundle.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation mirrors the teacher's watcher.Operation, trimmed to what a
// config file change can mean: it either now exists with new content, or it
// is gone. What a removal means is up to the Handler; internal/app treats a
// removed manifest as every backend unavailable.
type Operation int

const (
	OpChanged Operation = iota
	OpRemoved
)

func (o Operation) String() string {
	if o == OpRemoved {
		return "removed"
	}
	return "changed"
}

// Event is one coalesced config file change.
type Event struct {
	Path      string
	Operation Operation
}

// Handler is invoked once per coalesced event. Implementations typically
// call config.Load again and swap in the new threshold/capability values.
type Handler func(ctx context.Context, event Event) error

type pendingEvent struct {
	timestamp time.Time
	op        Operation
}

// Watcher watches one or more config file paths for changes, debouncing
// bursts of events (an editor's save-as-temp-then-rename dance, for
// instance) into a single Handler call per settle period.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	paths     []string
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent

	done chan struct{}
}

// Config configures the watcher.
type Config struct {
	Paths    []string
	Debounce time.Duration // default 500ms
}

// New builds a Watcher over cfg.Paths.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		pending:   make(map[string]*pendingEvent),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. The directory containing each configured path is
// watched (not the file itself) so editors that replace the file via
// rename-over still trigger an event.
func (w *Watcher) Start(ctx context.Context) error {
	seen := make(map[string]bool)
	for _, path := range w.paths {
		if !isConfigExt(path) {
			w.logger.Warn("watched config path has an unrecognized extension", "path", path)
		}
		dir := filepath.Dir(path)
		absDir, err := filepath.Abs(dir)
		if err != nil {
			w.logger.Warn("invalid config watch path", "path", path, "error", err)
			continue
		}
		if seen[absDir] {
			continue
		}
		seen[absDir] = true

		if err := w.fsWatcher.Add(absDir); err != nil {
			w.logger.Warn("failed to watch config directory", "path", absDir, "error", err)
			continue
		}
		w.logger.Info("watching config directory", "path", absDir)
	}

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// Done reports when both loops have returned.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) watchesPath(name string) bool {
	for _, p := range w.paths {
		if filepath.Clean(p) == filepath.Clean(name) {
			return true
		}
	}
	return false
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if !w.watchesPath(event.Name) {
		return
	}

	op := OpChanged
	if event.Op.Has(fsnotify.Remove) {
		op = OpRemoved
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	existing, exists := w.pending[event.Name]
	if !exists {
		w.pending[event.Name] = &pendingEvent{timestamp: time.Now(), op: op}
		return
	}
	existing.timestamp = time.Now()
	existing.op = op
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []Event
	for path, p := range w.pending {
		if now.Sub(p.timestamp) < w.debounce {
			continue
		}
		delete(w.pending, path)
		ready = append(ready, Event{Path: path, Operation: p.op})
	}
	w.mu.Unlock()

	for _, event := range ready {
		w.logger.Info("config file changed", "path", event.Path, "operation", event.Operation.String())
		if err := w.handler(ctx, event); err != nil {
			w.logger.Error("config reload failed", "path", event.Path, "error", err)
		}
	}
}

func isConfigExt(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".json")
}
