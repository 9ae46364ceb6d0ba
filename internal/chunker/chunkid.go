package chunker

import (
	"fmt"
	"hash/fnv"

	"github.com/screenager/codelens/internal/errs"
)

// ChunkID identifies a chunk by the three fields that define it: the file
// path and its line range. Its Hash is the vector table's primary key.
type ChunkID struct {
	Path      string
	StartLine int
	EndLine   int
}

// Hash returns the stable hex-encoded FNV-1a hash of exactly
// (path, start_line, end_line) — nothing else influences it.
func (c ChunkID) Hash() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d", c.Path, c.StartLine, c.EndLine)
	return fmt.Sprintf("%016x", h.Sum64())
}

// VerifyHash recomputes the hash from (path, start_line, end_line) and
// compares it against a persisted value, returning errs.ErrIntegrity on
// mismatch. Neither the vector store nor the retriever calls it: records
// read back from the store are not re-verified.
func (c ChunkID) VerifyHash(persisted string) error {
	if want := c.Hash(); want != persisted {
		return fmt.Errorf("chunk id hash mismatch: stored=%s recomputed=%s: %w", persisted, want, errs.ErrIntegrity)
	}
	return nil
}
