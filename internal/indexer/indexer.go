// Package indexer batches TextChunks into embeddings and upserts them into
// the vector store, promoting the first_index_scan readiness flag once the
// first full chunk scan has drained and the store has been compacted.
package indexer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/screenager/codelens/internal/chunker"
	"github.com/screenager/codelens/internal/errs"
	"github.com/screenager/codelens/internal/vectorstore"
)

// Embedder is the subset of *embed.Embedder the indexer needs.
type Embedder interface {
	Embed(texts []string) ([][]float32, error)
}

// Store is the subset of *vectorstore.Store the indexer needs.
type Store interface {
	Upsert(rec vectorstore.ChunkRecord, vec []float32) error
	Optimize() error
}

// Subsystem consumes *chunker.TextChunk (nil = end-of-file marker) from In,
// batching up to BatchSize chunks before embedding and upserting them.
type Subsystem struct {
	In              <-chan *chunker.TextChunk
	Embedder        Embedder
	Store           Store
	BatchSize       int
	FirstChunksScan *atomic.Bool
	FirstIndexScan  *atomic.Bool
	Logger          func(format string, args ...any)
}

// Run drains In until ctx is cancelled or the channel closes. A failed flush
// is fatal: the batch is discarded and Run returns the error.
func (s *Subsystem) Run(ctx context.Context) error {
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	var batch []*chunker.TextChunk
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-s.In:
			if !ok {
				return nil
			}
			if chunk != nil {
				batch = append(batch, chunk)
			}

			if len(batch) == batchSize || (chunk == nil && len(batch) > 0) {
				if err := s.flush(batch); err != nil {
					return fmt.Errorf("flush batch: %w", err)
				}
				batch = batch[:0]
			}

			s.maybePromoteReadiness(chunk)
		}
	}
}

func (s *Subsystem) flush(batch []*chunker.TextChunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = joinLines(c.Text)
	}

	vecs, err := s.Embedder.Embed(texts)
	if err != nil {
		return fmt.Errorf("%w: embed batch of %d: %v", errs.ErrStore, len(batch), err)
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d chunks", errs.ErrStore, len(vecs), len(batch))
	}

	for i, c := range batch {
		rec := vectorstore.ChunkRecord{
			ID:        c.ID.Hash(),
			Path:      c.Path,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		}
		if err := s.Store.Upsert(rec, vecs[i]); err != nil {
			return fmt.Errorf("%w: upsert %s: %v", errs.ErrStore, rec.ID, err)
		}
	}
	return nil
}

// maybePromoteReadiness implements the indexer's half of the readiness
// protocol: whenever the chunker has completed its first full scan and the
// inbound channel drains right after an end-of-file marker, compact the
// store and flip first_index_scan. This fires on every subsequent settle,
// not just the first — full reindex-on-idle, same as the chunker's channel
// re-reads the workspace incrementally as files change.
func (s *Subsystem) maybePromoteReadiness(justProcessed *chunker.TextChunk) {
	if s.FirstChunksScan == nil || s.FirstIndexScan == nil {
		return
	}
	if justProcessed != nil {
		return
	}
	if !s.FirstChunksScan.Load() || len(s.In) != 0 {
		return
	}
	if err := s.Store.Optimize(); err != nil {
		s.logf("optimize: %v", err)
		return
	}
	if s.FirstIndexScan.CompareAndSwap(false, true) {
		s.logf("first index scan complete")
	}
}

func joinLines(lines []string) string {
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	buf := make([]byte, 0, total)
	for i, l := range lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l...)
	}
	return string(buf)
}

func (s *Subsystem) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger(format, args...)
	}
}
