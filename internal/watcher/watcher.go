// Package watcher produces a stream of PathEvents: first every existing
// file matching a positive glob under the workspace root, then debounced
// filesystem create/modify/remove events, for as long as the subsystem runs.
package watcher

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/screenager/codelens/internal/errs"
)

// EventKind classifies a PathEvent.
type EventKind int

const (
	KindCreate EventKind = iota
	KindModify
	KindRemove
)

func (k EventKind) String() string {
	switch k {
	case KindCreate:
		return "Create"
	case KindModify:
		return "Modify"
	case KindRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// PathEvent is produced by the Watcher and consumed by the Chunker.
type PathEvent struct {
	Path string
	Kind EventKind
}

// Options configures the watcher subsystem.
type Options struct {
	WorkspaceURI string        // file:// URI
	Pattern      string        // positive glob, e.g. "**/*"
	DebounceSec  uint64
}

// Subsystem scans the workspace once, then watches it recursively,
// publishing PathEvents on Out and flipping FirstPathScan after the initial
// walk completes.
type Subsystem struct {
	Opts          Options
	Out           chan<- PathEvent
	FirstPathScan *atomic.Bool
	Logger        func(format string, args ...any)
}

// ResolveWorkspace parses a file:// workspace URI into a filesystem path,
// failing with errs.ErrConfig for any other scheme.
func ResolveWorkspace(workspaceURI string) (string, error) {
	u, err := url.Parse(workspaceURI)
	if err != nil {
		return "", fmt.Errorf("%w: parse workspace_uri %q: %v", errs.ErrConfig, workspaceURI, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: workspace_uri scheme must be file://, got %q", errs.ErrConfig, u.Scheme)
	}
	return u.Path, nil
}

// Run resolves the workspace, performs the initial glob walk, then installs
// a recursive fsnotify watcher with per-path debounce, until ctx is done.
func (s *Subsystem) Run(ctx context.Context) error {
	root, err := ResolveWorkspace(s.Opts.WorkspaceURI)
	if err != nil {
		return err
	}

	if err := s.initialWalk(ctx, root); err != nil {
		s.logf("initial walk error: %v", err)
	}
	s.FirstPathScan.Store(true)
	s.logf("first path scan complete")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := addDirRecursive(fw, root); err != nil {
		s.logf("watch root %s: %v", root, err)
	}

	debounce := time.Duration(s.Opts.DebounceSec) * time.Second
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)

	fire := func(path string, kind EventKind) {
		select {
		case s.Out <- PathEvent{Path: path, Kind: kind}:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			kind, handled := mapEventKind(ev)
			if !handled {
				continue // Access-only events are dropped.
			}
			if ev.Has(fsnotify.Create) {
				if fi, statErr := os.Stat(ev.Name); statErr == nil && fi.IsDir() {
					if err := addDirRecursive(fw, ev.Name); err != nil {
						s.logf("watch new dir %s: %v", ev.Name, err)
					}
				}
			}

			path, k := ev.Name, kind
			mu.Lock()
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(debounce, func() {
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
				fire(path, k)
			})
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			s.logf("fsnotify error: %v", err)
		}
	}
}

// initialWalk emits one Create PathEvent per file matching the positive
// glob under root, synchronously, before first_path_scan is set.
func (s *Subsystem) initialWalk(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // per-entry errors are skipped, not fatal
		}
		select {
		case <-ctx.Done():
			return filepath.SkipAll
		default:
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if ok, _ := doublestar.Match(s.Opts.Pattern, filepath.ToSlash(rel)); !ok {
			return nil
		}
		select {
		case s.Out <- PathEvent{Path: path, Kind: KindCreate}:
		case <-ctx.Done():
			return filepath.SkipAll
		}
		return nil
	})
}

func mapEventKind(ev fsnotify.Event) (EventKind, bool) {
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		return KindRemove, true
	case ev.Has(fsnotify.Create):
		return KindCreate, true
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod):
		return KindModify, true
	default:
		return 0, false // Access-only or unrecognized.
	}
}

// addDirRecursive adds dir and all non-hidden subdirectories to fw.
func addDirRecursive(fw *fsnotify.Watcher, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			_ = addDirRecursive(fw, filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

func (s *Subsystem) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger(format, args...)
	}
}
