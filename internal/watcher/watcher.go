// Package watcher polls zone files for changes and triggers a sync when
// any of them is modified, created, or removed.
//
// Polling compares each file's size and modification time against the
// previous poll. Changes are debounced so that an editor writing a file in
// several steps results in a single sync.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// ChangeFunc is called with the paths that changed since the last trigger.
type ChangeFunc func(paths []string)

// Config holds watcher configuration.
type Config struct {
	// PollInterval is how often files are checked.
	// Default: 5 seconds
	PollInterval time.Duration

	// DebounceInterval is the time to wait for further changes before
	// calling the ChangeFunc.
	// Default: 2 seconds
	DebounceInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		DebounceInterval: 2 * time.Second,
	}
}

// fileState is what a poll observes about one path.
type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
}

// Watcher polls a fixed set of files.
type Watcher struct {
	paths    []string
	onChange ChangeFunc
	config   Config
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	states   map[string]fileState
	pending  map[string]struct{}
	debounce *time.Timer
}

// Option is a functional option for configuring the Watcher.
type Option func(*Watcher)

// WithConfig sets the watcher configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(w *Watcher) {
		if cfg.PollInterval > 0 {
			w.config.PollInterval = cfg.PollInterval
		}
		if cfg.DebounceInterval > 0 {
			w.config.DebounceInterval = cfg.DebounceInterval
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher for paths. Duplicate paths are watched once.
func New(paths []string, onChange ChangeFunc, opts ...Option) *Watcher {
	uniq := slices.Clone(paths)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	w := &Watcher{
		paths:    uniq,
		onChange: onChange,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		states:   make(map[string]fileState, len(uniq)),
		pending:  make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start records the current state of every file and begins polling.
// It is non-blocking; call Stop or cancel ctx to halt polling.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	for _, path := range w.paths {
		w.states[path] = w.stat(path)
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)

	w.logger.Info("zone file watcher started",
		slog.Int("files", len(w.paths)),
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Duration("debounce", w.config.DebounceInterval),
	)

	return nil
}

// Stop halts polling and drops any pending trigger.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}

	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	clear(w.pending)

	if w.running {
		w.running = false
		w.logger.Info("zone file watcher stopped")
	}
}

// IsRunning returns whether the watcher is currently polling.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Paths returns the watched paths in sorted order.
func (w *Watcher) Paths() []string {
	return slices.Clone(w.paths)
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll checks every file once and schedules a trigger if any changed.
// It returns the paths that changed in this poll.
func (w *Watcher) Poll() []string {
	var changed []string

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range w.paths {
		cur := w.stat(path)
		if cur == w.states[path] {
			continue
		}
		w.states[path] = cur
		changed = append(changed, path)
		w.pending[path] = struct{}{}
		w.logger.Debug("zone file changed",
			slog.String("path", path),
			slog.Bool("exists", cur.exists),
		)
	}

	if len(changed) > 0 {
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.debounce = time.AfterFunc(w.config.DebounceInterval, w.fire)
	}

	return changed
}

func (w *Watcher) fire() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	clear(w.pending)
	w.debounce = nil
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	slices.Sort(paths)

	w.logger.Info("triggering sync due to zone file change", slog.Any("paths", paths))
	if w.onChange != nil {
		w.onChange(paths)
	}
}

func (w *Watcher) stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("cannot stat zone file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return fileState{}
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime()}
}
