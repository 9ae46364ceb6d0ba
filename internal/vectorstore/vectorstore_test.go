package vectorstore

import (
	"math/rand"
	"testing"
)

func randomVec(rng *rand.Rand, d int) []float32 {
	v := make([]float32, d)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sqrt(norm))
	}
	return v
}

func sqrt(x float64) float64 {
	if x == 0 {
		return 1
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func TestUpsertIsIdempotentByID(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	rec := ChunkRecord{ID: "abc", Path: "a.go", StartLine: 0, EndLine: 10}

	if err := s.Upsert(rec, randomVec(rng, 8)); err != nil {
		t.Fatalf("Upsert 1: %v", err)
	}
	if err := s.Upsert(rec, randomVec(rng, 8)); err != nil {
		t.Fatalf("Upsert 2: %v", err)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("expected 1 live record after re-upserting same id, got %d", got)
	}
}

func TestDeletePathExactVsRecursive(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir, 4)
	rng := rand.New(rand.NewSource(2))

	_ = s.Upsert(ChunkRecord{ID: "1", Path: "pkg/a.go"}, randomVec(rng, 4))
	_ = s.Upsert(ChunkRecord{ID: "2", Path: "pkg/sub/b.go"}, randomVec(rng, 4))
	_ = s.Upsert(ChunkRecord{ID: "3", Path: "other.go"}, randomVec(rng, 4))

	if err := s.DeletePath("pkg/a.go", false); err != nil {
		t.Fatalf("DeletePath exact: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 live after exact delete, got %d", s.Len())
	}

	if err := s.DeletePath("pkg", true); err != nil {
		t.Fatalf("DeletePath recursive: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 live after recursive delete, got %d", s.Len())
	}
}

func TestOptimizeRebuildsFromLiveOnly(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir, 4)
	rng := rand.New(rand.NewSource(3))

	_ = s.Upsert(ChunkRecord{ID: "1", Path: "a.go"}, randomVec(rng, 4))
	_ = s.Upsert(ChunkRecord{ID: "2", Path: "b.go"}, randomVec(rng, 4))
	_ = s.DeleteByID("1")

	if err := s.Optimize(); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 live record after optimize, got %d", s.Len())
	}
	if _, ok := s.byID["2"]; !ok {
		t.Fatalf("expected surviving record 2 to remain searchable")
	}
}

func TestFlushAndReopenPreservesLiveRecords(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir, 4)
	rng := rand.New(rand.NewSource(4))

	_ = s.Upsert(ChunkRecord{ID: "1", Path: "a.go"}, randomVec(rng, 4))
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(dir, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("expected 1 live record after reopen, got %d", reopened.Len())
	}
}

func TestDimMismatchDropsAndRecreates(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir, 4)
	rng := rand.New(rand.NewSource(5))
	_ = s.Upsert(ChunkRecord{ID: "1", Path: "a.go"}, randomVec(rng, 4))
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(dir, 8) // different dim
	if err != nil {
		t.Fatalf("reopen with new dim: %v", err)
	}
	if reopened.Len() != 0 {
		t.Fatalf("expected empty store after dim mismatch, got %d", reopened.Len())
	}
}

func TestTopNFiltersTombstones(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir, 4)
	rng := rand.New(rand.NewSource(6))
	v1 := randomVec(rng, 4)

	_ = s.Upsert(ChunkRecord{ID: "1", Path: "a.go"}, v1)
	_ = s.DeleteByID("1")
	_ = s.Upsert(ChunkRecord{ID: "2", Path: "b.go"}, randomVec(rng, 4))

	results, err := s.TopN(v1, 5)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	for _, r := range results {
		if r.Record.ID == "1" {
			t.Fatalf("expected tombstoned record to be filtered from TopN")
		}
	}
}
