// Package vectorstore wraps an HNSW graph with a chunk-record side table,
// giving the raw, append-only graph the delete and upsert semantics the
// indexer subsystem needs: tombstone-and-rebuild rather than true deletion,
// since HNSW has no native remove.
package vectorstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/screenager/codelens/internal/errs"
	"github.com/screenager/codelens/internal/hnsw"
)

const (
	hnswFile = "hnsw.bin"
	metaFile = "meta.json"
)

// ChunkRecord is the side-table row for one HNSW node: the chunk identity
// and location a similarity hit resolves back to.
type ChunkRecord struct {
	ID        string    `json:"id"` // chunker.ChunkID.Hash()
	Path      string    `json:"path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Mtime     time.Time `json:"mtime"`
}

// meta is the persisted side-table plus the schema stamp used to detect a
// dimensionality mismatch between the on-disk store and the running config.
type meta struct {
	Dim       int           `json:"dim"`
	Records   []ChunkRecord `json:"records"`
	Tombstone []bool        `json:"tombstone"` // parallel to Records, by node id
}

// Stats summarizes the store for the CLI's `stats` command.
type Stats struct {
	NumLiveChunks int
	NumTombstoned int
	NumFiles      int
	SizeKB        int64
	LastUpdated   time.Time
}

// ScoredRecord is one TopN search hit.
type ScoredRecord struct {
	Record ChunkRecord
	Score  float32
}

// Store is the vector-backed chunk index: an HNSW graph plus the side table
// mapping each graph node id to a ChunkRecord.
type Store struct {
	mu          sync.RWMutex
	dir         string
	dim         int
	graph       *hnsw.Graph
	records     []ChunkRecord
	tombstoned  []bool
	byID        map[string]uint32 // ChunkRecord.ID -> node id, live records only
	dirty       bool
	lastUpdated time.Time
}

// Open loads (or creates) a store at dir for vectors of dimensionality dim.
// If the persisted store was built for a different dim, it is dropped and
// recreated empty rather than returning a mismatch error — the spec treats
// model changes as a rebuild trigger, not a fatal condition.
func Open(dir string, dim int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", errs.ErrStore, dir, err)
	}

	s := &Store{
		dir:   dir,
		dim:   dim,
		graph: hnsw.New(hnsw.DefaultM, hnsw.DefaultEfConstruction, hnsw.DefaultEfSearch),
		byID:  make(map[string]uint32),
	}

	metaPath := filepath.Join(dir, metaFile)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", errs.ErrStore, metaPath, err)
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: corrupt %s, delete it to rebuild: %v", errs.ErrStore, metaPath, err)
	}

	if m.Dim != dim {
		// Schema mismatch: drop and recreate empty rather than fail closed.
		return s, nil
	}

	hnswPath := filepath.Join(dir, hnswFile)
	g, err := hnsw.Load(hnswPath)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt %s, delete it to rebuild: %v", errs.ErrStore, hnswPath, err)
	}

	s.graph = g
	s.records = m.Records
	s.tombstoned = m.Tombstone
	s.byID = make(map[string]uint32, len(s.records))
	for i, r := range s.records {
		if i < len(s.tombstoned) && s.tombstoned[i] {
			continue
		}
		s.byID[r.ID] = uint32(i)
	}
	return s, nil
}

// Len returns the number of live (non-tombstoned) records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Upsert inserts rec with vec, tombstoning any prior record sharing the same
// ID first so re-indexing an unchanged chunk range does not duplicate it.
func (s *Store) Upsert(rec ChunkRecord, vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("%w: embedding has dim %d, store expects %d", errs.ErrStore, len(vec), s.dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.byID[rec.ID]; exists {
		s.tombstoneLocked(old)
	}

	s.graph.Insert(vec)
	id := uint32(len(s.records))
	s.records = append(s.records, rec)
	s.tombstoned = append(s.tombstoned, false)
	s.byID[rec.ID] = id
	s.dirty = true
	s.lastUpdated = time.Now()
	return nil
}

// DeletePath tombstones every live record under path. When recursive is
// true (directory removal), every record whose path starts with path+"/"
// is tombstoned too; otherwise only an exact path match is removed.
func (s *Store) DeletePath(path string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := path + string(filepath.Separator)
	for i, r := range s.records {
		if i < len(s.tombstoned) && s.tombstoned[i] {
			continue
		}
		match := r.Path == path
		if recursive {
			match = match || strings.HasPrefix(r.Path, prefix)
		}
		if match {
			s.tombstoneLocked(uint32(i))
		}
	}
	s.dirty = true
	return nil
}

// DeleteByID tombstones the single record with the given chunk id, if live.
func (s *Store) DeleteByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nodeID, ok := s.byID[id]; ok {
		s.tombstoneLocked(nodeID)
		s.dirty = true
	}
	return nil
}

// tombstoneLocked marks a node dead and removes it from byID. Caller holds s.mu.
func (s *Store) tombstoneLocked(nodeID uint32) {
	if int(nodeID) >= len(s.tombstoned) {
		return
	}
	if s.tombstoned[nodeID] {
		return
	}
	s.tombstoned[nodeID] = true
	if s.byID[s.records[nodeID].ID] == nodeID {
		delete(s.byID, s.records[nodeID].ID)
	}
}

// TopN returns the n nearest live records to queryVec by cosine similarity.
// Tombstoned hits are filtered out and the search pool is over-fetched to
// compensate, matching the teacher's dedup-by-overfetch pattern.
func (s *Store) TopN(queryVec []float32, n int) ([]ScoredRecord, error) {
	if len(queryVec) != s.dim {
		return nil, fmt.Errorf("%w: query has dim %d, store expects %d", errs.ErrStore, len(queryVec), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 || n <= 0 {
		return nil, nil
	}

	fetchN := n * 3
	if fetchN > len(s.records) {
		fetchN = len(s.records)
	}

	hits := s.graph.Search(queryVec, fetchN)
	out := make([]ScoredRecord, 0, n)
	for _, h := range hits {
		if len(out) >= n {
			break
		}
		if int(h.ID) >= len(s.records) {
			continue
		}
		if int(h.ID) < len(s.tombstoned) && s.tombstoned[h.ID] {
			continue
		}
		out = append(out, ScoredRecord{Record: s.records[h.ID], Score: h.Score})
	}
	return out, nil
}

// Optimize rebuilds the graph from only the live records, discarding
// tombstoned vectors for good. Called by the chunker after a directory
// removal and by the indexer whenever its input channel is empty once the
// first chunk scan is done.
func (s *Store) Optimize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	liveRecords := make([]ChunkRecord, 0, len(s.byID))
	liveVecs := make([][]float32, 0, len(s.byID))
	for i, r := range s.records {
		if i < len(s.tombstoned) && s.tombstoned[i] {
			continue
		}
		liveRecords = append(liveRecords, r)
		liveVecs = append(liveVecs, s.graph.VectorAt(uint32(i)))
	}

	newGraph := hnsw.New(hnsw.DefaultM, hnsw.DefaultEfConstruction, hnsw.DefaultEfSearch)
	newByID := make(map[string]uint32, len(liveRecords))
	for i, v := range liveVecs {
		newGraph.Insert(v)
		newByID[liveRecords[i].ID] = uint32(i)
	}

	s.graph = newGraph
	s.records = liveRecords
	s.tombstoned = make([]bool, len(liveRecords))
	s.byID = newByID
	s.dirty = true
	return nil
}

// Flush persists the graph and side table if dirty.
func (s *Store) Flush() error {
	s.mu.RLock()
	dirty := s.dirty
	s.mu.RUnlock()
	if !dirty {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hnswPath := filepath.Join(s.dir, hnswFile)
	if err := s.graph.Save(hnswPath); err != nil {
		return fmt.Errorf("%w: save %s: %v", errs.ErrStore, hnswPath, err)
	}

	m := meta{Dim: s.dim, Records: s.records, Tombstone: s.tombstoned}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal meta: %v", errs.ErrStore, err)
	}
	metaPath := filepath.Join(s.dir, metaFile)
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", errs.ErrStore, metaPath, err)
	}

	s.dirty = false
	return nil
}

// Stats summarizes the store's current size and content.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make(map[string]struct{})
	tombstoned := 0
	for i, r := range s.records {
		if i < len(s.tombstoned) && s.tombstoned[i] {
			tombstoned++
			continue
		}
		files[r.Path] = struct{}{}
	}

	var sizeBytes int64
	for _, name := range []string{hnswFile, metaFile} {
		if fi, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
			sizeBytes += fi.Size()
		}
	}

	return Stats{
		NumLiveChunks: len(s.byID),
		NumTombstoned: tombstoned,
		NumFiles:      len(files),
		SizeKB:        sizeBytes / 1024,
		LastUpdated:   s.lastUpdated,
	}
}
