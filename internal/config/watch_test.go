package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mozi.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	reloaded := make(chan LoadResult, 4)
	watcher, err := NewWatcher(path, func(result LoadResult) {
		reloaded <- result
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(watcher.Stop)

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case result := <-reloaded:
		if !result.Success {
			t.Fatalf("expected a successful reload, got errors %v", result.Errors)
		}
		if result.Config.Logging.Level != "debug" {
			t.Fatalf("expected reloaded level=debug, got %q", result.Config.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced reload")
	}
}

func TestWatcher_CoalescesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mozi.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	reloaded := make(chan LoadResult, 16)
	watcher, err := NewWatcher(path, func(result LoadResult) {
		reloaded <- result
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(watcher.Stop)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced reload")
	}

	select {
	case extra := <-reloaded:
		t.Fatalf("expected rapid writes to coalesce into one reload, got an extra reload %+v", extra)
	case <-time.After(WatchDebounce + 200*time.Millisecond):
	}
}
