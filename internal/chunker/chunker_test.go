package chunker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLines(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func collect(t *testing.T, path string, opts Options) []*TextChunk {
	t.Helper()
	var got []*TextChunk
	if err := ChunkFile(path, opts, func(c *TextChunk) { got = append(got, c) }); err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}
	return got
}

// TestChunkCoverage pins spec.md §8's "Chunk coverage" property: chunk
// starts form the sequence 0, C-O, 2(C-O), ...; every non-terminal chunk
// has length exactly C; the terminal chunk has length in [1, C].
func TestChunkCoverage(t *testing.T) {
	const lines, chunkSize, overlap = 137, 20, 5
	path := writeLines(t, lines)
	chunks := collect(t, path, Options{ChunkSize: chunkSize, OverlapSize: overlap})

	if chunks[len(chunks)-1] != nil {
		t.Fatalf("expected terminal nil marker")
	}
	chunks = chunks[:len(chunks)-1]

	stride := chunkSize - overlap
	for i, c := range chunks {
		wantStart := i * stride
		if c.StartLine != wantStart {
			t.Fatalf("chunk %d: start=%d want=%d", i, c.StartLine, wantStart)
		}
		length := len(c.Text)
		if i < len(chunks)-1 {
			if length != chunkSize {
				t.Fatalf("chunk %d: non-terminal length=%d want=%d", i, length, chunkSize)
			}
		} else if length < 1 || length > chunkSize {
			t.Fatalf("terminal chunk length=%d out of [1,%d]", length, chunkSize)
		}
	}
}

// TestTwoChunkScenario pins spec.md §8 end-to-end scenario 2: a 100-line
// file with chunk_size=60, overlap_size=10 yields chunks (0,60) and (50,100).
func TestTwoChunkScenario(t *testing.T) {
	path := writeLines(t, 100)
	chunks := collect(t, path, Options{ChunkSize: 60, OverlapSize: 10})
	if len(chunks) != 3 { // two chunks + nil marker
		t.Fatalf("expected 2 chunks + marker, got %d", len(chunks))
	}
	if chunks[0].StartLine != 0 || chunks[0].EndLine != 60 {
		t.Fatalf("chunk 0: got (%d,%d)", chunks[0].StartLine, chunks[0].EndLine)
	}
	if chunks[1].StartLine != 50 || chunks[1].EndLine != 100 {
		t.Fatalf("chunk 1: got (%d,%d)", chunks[1].StartLine, chunks[1].EndLine)
	}
	if chunks[2] != nil {
		t.Fatalf("expected terminal marker")
	}

	// Stable ids across an identical second run.
	again := collect(t, path, Options{ChunkSize: 60, OverlapSize: 10})
	if chunks[0].ID.Hash() != again[0].ID.Hash() || chunks[1].ID.Hash() != again[1].ID.Hash() {
		t.Fatalf("expected stable ids across runs on identical bytes")
	}
}

func TestChunkSizeOneOverlapZero(t *testing.T) {
	path := writeLines(t, 5)
	chunks := collect(t, path, Options{ChunkSize: 1, OverlapSize: 0})
	if len(chunks) != 6 { // 5 chunks + marker
		t.Fatalf("expected 5 chunks + marker, got %d", len(chunks))
	}
	for i := 0; i < 5; i++ {
		if chunks[i].StartLine != i || chunks[i].EndLine != i+1 {
			t.Fatalf("chunk %d: got (%d,%d)", i, chunks[i].StartLine, chunks[i].EndLine)
		}
	}
}

func TestOverlapAdvancesByOne(t *testing.T) {
	path := writeLines(t, 10)
	chunks := collect(t, path, Options{ChunkSize: 4, OverlapSize: 3})
	chunks = chunks[:len(chunks)-1]
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine != chunks[i-1].StartLine+1 {
			t.Fatalf("chunk %d: start=%d, want advance of 1 from %d", i, chunks[i].StartLine, chunks[i-1].StartLine)
		}
	}
}

func TestEmptyFileYieldsOnlyMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, path, Options{ChunkSize: 10, OverlapSize: 2})
	if len(chunks) != 1 || chunks[0] != nil {
		t.Fatalf("expected exactly one nil marker, got %d chunks", len(chunks))
	}
}

func TestChunkIDIntegrity(t *testing.T) {
	id := ChunkID{Path: "a.go", StartLine: 10, EndLine: 20}
	hash := id.Hash()
	if err := id.VerifyHash(hash); err != nil {
		t.Fatalf("expected matching hash to verify, got %v", err)
	}
	tampered := ChunkID{Path: "a.go", StartLine: 10, EndLine: 21}
	if err := tampered.VerifyHash(hash); err == nil {
		t.Fatalf("expected tampered chunk id to fail verification")
	}
}
