package indexer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/screenager/codelens/internal/chunker"
	"github.com/screenager/codelens/internal/vectorstore"
)

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0, 0}
	}
	return out, nil
}

type fakeStore struct {
	upserts  []vectorstore.ChunkRecord
	optimize int
}

func (f *fakeStore) Upsert(rec vectorstore.ChunkRecord, vec []float32) error {
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeStore) Optimize() error {
	f.optimize++
	return nil
}

func chunkFor(path string, start, end int) *chunker.TextChunk {
	return &chunker.TextChunk{
		ID:        chunker.ChunkID{Path: path, StartLine: start, EndLine: end},
		Path:      path,
		StartLine: start,
		EndLine:   end,
		Text:      []string{"a", "b"},
	}
}

func TestFlushesAtBatchSize(t *testing.T) {
	in := make(chan *chunker.TextChunk, 8)
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	s := &Subsystem{In: in, Embedder: embedder, Store: store, BatchSize: 2}

	in <- chunkFor("a.go", 0, 10)
	in <- chunkFor("a.go", 10, 20)
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(store.upserts))
	}
}

func TestFlushesOnEOFMarkerWithPartialBatch(t *testing.T) {
	in := make(chan *chunker.TextChunk, 8)
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	s := &Subsystem{In: in, Embedder: embedder, Store: store, BatchSize: 16}

	in <- chunkFor("a.go", 0, 10)
	in <- nil
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected 1 upsert flushed on EOF marker, got %d", len(store.upserts))
	}
}

func TestReadinessPromotionOnIdleAfterFirstChunksScan(t *testing.T) {
	in := make(chan *chunker.TextChunk, 8)
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	firstChunks := new(atomic.Bool)
	firstChunks.Store(true)
	firstIndex := new(atomic.Bool)

	s := &Subsystem{
		In: in, Embedder: embedder, Store: store, BatchSize: 16,
		FirstChunksScan: firstChunks, FirstIndexScan: firstIndex,
	}

	in <- chunkFor("a.go", 0, 10)
	in <- nil
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !firstIndex.Load() {
		t.Fatalf("expected first_index_scan to be set")
	}
	if store.optimize != 1 {
		t.Fatalf("expected exactly one optimize call, got %d", store.optimize)
	}
}

func TestReadinessNotPromotedBeforeFirstChunksScan(t *testing.T) {
	in := make(chan *chunker.TextChunk, 8)
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	firstChunks := new(atomic.Bool) // false
	firstIndex := new(atomic.Bool)

	s := &Subsystem{
		In: in, Embedder: embedder, Store: store, BatchSize: 16,
		FirstChunksScan: firstChunks, FirstIndexScan: firstIndex,
	}

	in <- nil
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if firstIndex.Load() {
		t.Fatalf("expected first_index_scan to remain false before first_chunks_scan")
	}
}
