package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolveWorkspaceRejectsNonFileScheme(t *testing.T) {
	if _, err := ResolveWorkspace("http://example.com/ws"); err == nil {
		t.Fatalf("expected error for non-file scheme")
	}
}

func TestResolveWorkspaceAcceptsFileScheme(t *testing.T) {
	path, err := ResolveWorkspace("file:///tmp/workspace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/tmp/workspace" {
		t.Fatalf("got %q", path)
	}
}

func TestInitialWalkEmitsCreateAndSkipsHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".git", "ignored"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := make(chan PathEvent, 16)
	s := &Subsystem{
		Opts:          Options{Pattern: "**/*"},
		Out:           out,
		FirstPathScan: new(atomic.Bool),
	}
	if err := s.initialWalk(context.Background(), dir); err != nil {
		t.Fatalf("initialWalk: %v", err)
	}
	close(out)

	var paths []string
	for ev := range out {
		if ev.Kind != KindCreate {
			t.Fatalf("expected Create events during initial walk, got %v", ev.Kind)
		}
		paths = append(paths, filepath.Base(ev.Path))
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 files (hidden dir skipped), got %v", paths)
	}
}

func TestRunReturnsOnCancellation(t *testing.T) {
	dir := t.TempDir()
	out := make(chan PathEvent, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s := &Subsystem{
		Opts: Options{
			WorkspaceURI: "file://" + dir,
			Pattern:      "**/*",
			DebounceSec:  0, // falls back to the 2s default
		},
		Out:           out,
		FirstPathScan: new(atomic.Bool),
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}
