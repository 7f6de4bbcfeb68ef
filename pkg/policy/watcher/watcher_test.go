package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 16)}
}

func (r *recorder) publish(_ context.Context, path string, src []byte) error {
	r.mu.Lock()
	r.calls = append(r.calls, string(src))
	r.mu.Unlock()
	r.ch <- path
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestNew_Validation(t *testing.T) {
	noop := func(context.Context, string, []byte) error { return nil }

	if _, err := New(Config{}, noop); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := New(Config{Path: t.TempDir()}, nil); err == nil {
		t.Error("expected error for nil publish func")
	}
	if _, err := New(Config{Path: filepath.Join(t.TempDir(), "missing.yaml")}, noop); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestPublishAll_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "id: a\n")
	writeFile(t, filepath.Join(dir, "b.yml"), "id: b\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	rec := newRecorder()
	w, err := New(Config{Path: dir}, rec.publish)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Stop()

	if err := w.PublishAll(context.Background()); err != nil {
		t.Fatalf("PublishAll() error = %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("published %d files, want 2", rec.count())
	}
}

func TestWatch_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writeFile(t, path, "id: p\n")

	rec := newRecorder()
	w, err := New(Config{Path: path, DebounceInterval: 50 * time.Millisecond}, rec.publish)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)
	defer w.Stop()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		writeFile(t, path, "id: p\nversion: \"2\"\n")
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case got := <-rec.ch:
		if filepath.Clean(got) != filepath.Clean(path) {
			t.Errorf("published path = %q, want %q", got, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}

	time.Sleep(150 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("publish called %d times, want 1 after debounce", n)
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writeFile(t, path, "id: p\n")

	rec := newRecorder()
	w, err := New(Config{Path: path, DebounceInterval: 20 * time.Millisecond}, rec.publish)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "other.yaml"), "id: other\n")
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("publish called %d times for a sibling file, want 0", n)
	}
}

func TestStop_Idempotent(t *testing.T) {
	w, err := New(Config{Path: t.TempDir()}, func(context.Context, string, []byte) error { return nil })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("first Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
