// Package chunker turns workspace files into overlapping line-range chunks
// and keeps the vector table's "truth" for each file in sync with the
// filesystem: stale rows are deleted on removal or modification before
// fresh chunks are produced.
package chunker

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/screenager/codelens/internal/errs"
	"github.com/screenager/codelens/internal/watcher"
)

// TextChunk is a window of consecutive lines from one file.
type TextChunk struct {
	ID        ChunkID
	Path      string
	StartLine int
	EndLine   int
	Text      []string
}

// isFull reports whether the chunk has reached chunkSize lines.
func (c *TextChunk) isFull(chunkSize int) bool { return len(c.Text) == chunkSize }

// isEmpty reports whether the chunk has no lines yet.
func (c *TextChunk) isEmpty() bool { return len(c.Text) == 0 }

// cropLast shrinks end_line to reflect an incomplete terminal chunk.
func (c *TextChunk) cropLast() {
	c.EndLine = c.StartLine + len(c.Text)
	c.ID = ChunkID{Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine}
}

// pushLine appends one line of text to the chunk.
func (c *TextChunk) pushLine(line string) { c.Text = append(c.Text, line) }

// next builds the successor chunk: its start_line overlaps the tail of the
// previous chunk by exactly overlapSize lines, and it spans a full
// chunkSize-line window like any other non-terminal chunk.
func (c *TextChunk) next(overlapSize, chunkSize int) *TextChunk {
	start := c.EndLine - overlapSize
	var tail []string
	if overlapSize > 0 && overlapSize <= len(c.Text) {
		tail = append([]string(nil), c.Text[len(c.Text)-overlapSize:]...)
	}
	end := start + chunkSize
	return &TextChunk{
		Path:      c.Path,
		StartLine: start,
		EndLine:   end,
		Text:      tail,
		ID:        ChunkID{Path: c.Path, StartLine: start, EndLine: end},
	}
}

// newChunk starts a fresh chunk for path at startLine.
func newChunk(path string, startLine, chunkSize int) *TextChunk {
	end := startLine + chunkSize
	return &TextChunk{
		Path:      path,
		StartLine: startLine,
		EndLine:   end,
		ID:        ChunkID{Path: path, StartLine: startLine, EndLine: end},
	}
}

// Options configures the chunking parameters. Validated at config load time
// (chunk_size >= 1, overlap_size <= chunk_size-1); this package trusts them.
type Options struct {
	ChunkSize   int
	OverlapSize int
	Pattern     string // positive glob, e.g. "**/*"
}

// ChunkFile streams path line by line (no whole-file buffering) and invokes
// emit once per completed chunk, followed by exactly one emit(nil) end-of-
// file marker, matching spec.md §4.2's Option<TextChunk> stream contract.
func ChunkFile(path string, opts Options, emit func(*TextChunk)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, wrapIO(err))
	}
	defer f.Close()

	cur := newChunk(path, 0, opts.ChunkSize)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		cur.pushLine(sc.Text())
		if cur.isFull(opts.ChunkSize) {
			emit(cur)
			cur = cur.next(opts.OverlapSize, opts.ChunkSize)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, wrapIO(err))
	}

	if !cur.isEmpty() {
		cur.cropLast()
		emit(cur)
	}
	emit(nil)
	return nil
}

func wrapIO(err error) error { return fmt.Errorf("%w: %v", errs.ErrIO, err) }

// WalkMatching walks root, calling fn for every regular file matching the
// positive glob pattern. Hidden directories (dotfiles) are skipped, mirroring
// the teacher's walkDir convention.
func WalkMatching(root, pattern string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // per-entry walk errors are skipped, not fatal
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && len(name) > 0 && name[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		return fn(path)
	})
}

// Deleter is the subset of VectorStore the Chunker subsystem needs: delete
// rows for a path (recursive for directories) and compact the index.
type Deleter interface {
	DeletePath(path string, recursive bool) error
	Optimize() error
}

// Subsystem consumes watcher.PathEvent and produces *TextChunk (nil = EOF
// marker per file) on Out, deleting stale vector-store rows as it goes.
type Subsystem struct {
	Store          Deleter
	In             <-chan watcher.PathEvent
	Out            chan<- *TextChunk
	Opts           Options
	FirstPathScan  *atomic.Bool
	FirstChunkScan *atomic.Bool
	Logger         func(format string, args ...any)
}

// Run drains In until ctx is cancelled or the channel closes, then returns.
func (s *Subsystem) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.In:
			if !ok {
				return nil
			}
			s.handle(ev)
			s.maybePromoteReadiness()
		}
	}
}

func (s *Subsystem) handle(ev watcher.PathEvent) {
	info, statErr := os.Stat(ev.Path)
	isDir := statErr == nil && info.IsDir()

	switch ev.Kind {
	case watcher.KindRemove:
		if err := s.Store.DeletePath(ev.Path, true); err != nil {
			s.logf("delete %s: %v", ev.Path, err)
			return
		}
		if isDir {
			_ = s.Store.Optimize()
		}
	case watcher.KindCreate, watcher.KindModify:
		if err := s.Store.DeletePath(ev.Path, isDir); err != nil {
			s.logf("delete %s: %v", ev.Path, err)
			return
		}
		if isDir {
			err := WalkMatching(ev.Path, s.Opts.Pattern, func(p string) error {
				return s.chunkOne(p)
			})
			if err != nil {
				s.logf("walk %s: %v", ev.Path, err)
			}
			return
		}
		if statErr != nil {
			// File no longer exists by the time we got here; treat as removed.
			return
		}
		if err := s.chunkOne(ev.Path); err != nil {
			s.logf("chunk %s: %v", ev.Path, err)
		}
	default:
		s.logf("unhandled event kind %v for %s, skipping", ev.Kind, ev.Path)
	}
}

func (s *Subsystem) chunkOne(path string) error {
	return ChunkFile(path, s.Opts, func(c *TextChunk) {
		s.Out <- c
	})
}

func (s *Subsystem) maybePromoteReadiness() {
	if s.FirstPathScan == nil || s.FirstChunkScan == nil {
		return
	}
	if s.FirstPathScan.Load() && len(s.In) == 0 {
		if s.FirstChunkScan.CompareAndSwap(false, true) {
			s.logf("first chunks scan complete")
		}
	}
}

func (s *Subsystem) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger(format, args...)
	}
}
