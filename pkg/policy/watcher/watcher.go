// Package watcher recompiles policy files when they change on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PublishFunc receives the contents of a changed policy file. It is
// typically the engine's compile-and-store entry point; a returned error is
// logged and the previous policy stays in effect.
type PublishFunc func(ctx context.Context, path string, src []byte) error

// Config configures a policy file watcher.
type Config struct {
	// Path is a policy file or a directory of policy files.
	Path string

	// DebounceInterval is the quiet period before a change is published.
	// Default: 200ms
	DebounceInterval time.Duration

	// Extensions lists the file extensions that count as policy sources.
	// Default: [".yaml", ".yml"]
	Extensions []string
}

// Watcher publishes policy files as they change.
type Watcher struct {
	cfg     Config
	publish PublishFunc
	logger  *slog.Logger
	fs      *fsnotify.Watcher

	mu       sync.Mutex
	running  bool
	pending  map[string]*time.Timer
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for cfg.Path. The path must exist.
func New(cfg Config, publish PublishFunc) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("policy watcher: path is required")
	}
	if publish == nil {
		return nil, fmt.Errorf("policy watcher: publish func is required")
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 200 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".yaml", ".yml"}
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("policy watcher: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		publish: publish,
		logger:  slog.Default().With("component", "policy.watcher"),
		fs:      fs,
		pending: make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Watch blocks until ctx is cancelled or Stop is called, publishing every
// debounced change. A single file is watched through its parent directory
// so editors that replace the file by rename are still observed.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.doneCh)

	dir, single, err := w.target()
	if err != nil {
		return err
	}
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("Policy watcher started",
		"path", w.cfg.Path,
		"debounce_ms", w.cfg.DebounceInterval.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return nil
		case <-w.stopCh:
			w.cancelPending()
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event, single) {
				continue
			}
			w.logger.Debug("Policy file event", "path", event.Name, "op", event.Op.String())
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Policy watcher error", "error", err)
		}
	}
}

// Stop ends Watch and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if running {
			<-w.doneCh
		}
		err = w.fs.Close()
	})
	return err
}

// PublishAll publishes every policy file under the watched path once.
func (w *Watcher) PublishAll(ctx context.Context) error {
	dir, single, err := w.target()
	if err != nil {
		return err
	}
	if single != "" {
		return w.publishFile(ctx, single)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read policy directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !w.hasExtension(e.Name()) {
			continue
		}
		if err := w.publishFile(ctx, filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) target() (dir, single string, err error) {
	info, err := os.Stat(w.cfg.Path)
	if err != nil {
		return "", "", fmt.Errorf("stat policy path: %w", err)
	}
	if info.IsDir() {
		return w.cfg.Path, "", nil
	}
	return filepath.Dir(w.cfg.Path), filepath.Clean(w.cfg.Path), nil
}

func (w *Watcher) relevant(event fsnotify.Event, single string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	if single != "" {
		return name == single
	}
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	return w.hasExtension(name)
}

func (w *Watcher) hasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range w.cfg.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// schedule debounces per file.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.DebounceInterval, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.stopCh:
			return
		default:
		}
		if err := w.publishFile(ctx, path); err != nil {
			w.logger.Error("Policy reload failed", "path", path, "error", err)
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) publishFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Removed between the event and the debounce firing.
			return nil
		}
		return fmt.Errorf("read policy file: %w", err)
	}
	if err := w.publish(ctx, path, src); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	w.logger.Info("Policy published", "path", path)
	return nil
}
