package retriever

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/screenager/codelens/internal/lspdriver"
	"github.com/screenager/codelens/internal/vectorstore"
)

type fakeLSP struct {
	workspaceSymbolCalls []string
	workspaceSymbolFn    func(query string) []lspdriver.SymbolInformation
	documentSymbolFn     func(uri string) []lspdriver.DocumentSymbol
}

func (f *fakeLSP) WorkspaceSymbol(_ context.Context, query string) ([]lspdriver.SymbolInformation, error) {
	f.workspaceSymbolCalls = append(f.workspaceSymbolCalls, query)
	if f.workspaceSymbolFn == nil {
		return nil, nil
	}
	return f.workspaceSymbolFn(query), nil
}

func (f *fakeLSP) DocumentSymbol(_ context.Context, uri string) ([]lspdriver.DocumentSymbol, error) {
	if f.documentSymbolFn == nil {
		return nil, nil
	}
	return f.documentSymbolFn(uri), nil
}

func (f *fakeLSP) Hover(_ context.Context, _ string, _ lspdriver.Position) (*lspdriver.Hover, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(q string) ([]float32, error) { return []float32{1, 0}, nil }

type fakeStore struct {
	hits       []vectorstore.ScoredRecord
	calls      int
}

func (s *fakeStore) TopN(_ []float32, _ int) ([]vectorstore.ScoredRecord, error) {
	s.calls++
	return s.hits, nil
}

func newCellWith(lsp LSP) *Cell {
	return &Cell{get: func() LSP { return lsp }}
}

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func readyFlag(v bool) *atomic.Bool {
	b := &atomic.Bool{}
	b.Store(v)
	return b
}

func TestCodeReuseSearchSoftErrorsWhenLSPNotReady(t *testing.T) {
	s := &Service{
		Cell:           &Cell{get: func() LSP { return nil }},
		FirstIndexScan: readyFlag(true),
	}
	_, err := s.CodeReuseSearch(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected soft error")
	}
	if got := err.Error(); !contains(got, "Waiting for LSP server to be initialized") {
		t.Fatalf("unexpected error message: %v", got)
	}
}

func TestCodeReuseSearchSoftErrorsWhenIndexNotReady(t *testing.T) {
	s := &Service{
		Cell:           newCellWith(&fakeLSP{}),
		FirstIndexScan: readyFlag(false),
	}
	_, err := s.CodeReuseSearch(context.Background(), Request{})
	if err == nil || !contains(err.Error(), "Waiting for index to be initialized") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFuzzyBranchEmptyPatternsTriggersExactlyOneEmptyQuery(t *testing.T) {
	lsp := &fakeLSP{}
	s := &Service{}
	_, err := s.fuzzyBranch(context.Background(), lsp, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lsp.workspaceSymbolCalls) != 1 || lsp.workspaceSymbolCalls[0] != "" {
		t.Fatalf("expected exactly one empty-query call, got %v", lsp.workspaceSymbolCalls)
	}
}

func TestSemanticBranchEmptyQueriesTriggersZeroStoreCalls(t *testing.T) {
	store := &fakeStore{}
	s := &Service{Store: store, Embedder: fakeEmbedder{}}
	syms, err := s.semanticBranch(context.Background(), &fakeLSP{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syms != nil {
		t.Fatalf("expected no symbols, got %v", syms)
	}
	if store.calls != 0 {
		t.Fatalf("expected zero TopN calls, got %d", store.calls)
	}
}

func TestMergeDocumentPointersEmitsOnlyNextSymbolAfterChunk(t *testing.T) {
	// Scenario 6 from spec.md §8: chunk at line 40, symbols at 10, 50, 80 —
	// the merge must emit only the symbol at line 50.
	symbols := []lspdriver.DocumentSymbol{
		{Name: "early", Kind: lspdriver.SymbolKindFunction, Range: lspdriver.Range{Start: lspdriver.Position{Line: 10}}},
		{Name: "target", Kind: lspdriver.SymbolKindFunction, Range: lspdriver.Range{Start: lspdriver.Position{Line: 50}}},
		{Name: "later", Kind: lspdriver.SymbolKindFunction, Range: lspdriver.Range{Start: lspdriver.Position{Line: 80}}},
	}
	out := mergeDocumentPointers("f.rs", []int{40}, symbols)
	if len(out) != 1 || out[0].Name != "target" {
		t.Fatalf("expected only the symbol at line 50, got %+v", out)
	}
}

func TestMergeDocumentPointersDropsChunkWithNoFollowingSymbol(t *testing.T) {
	symbols := []lspdriver.DocumentSymbol{
		{Name: "before", Range: lspdriver.Range{Start: lspdriver.Position{Line: 5}}},
	}
	out := mergeDocumentPointers("f.rs", []int{100}, symbols)
	if len(out) != 0 {
		t.Fatalf("expected chunk with no following symbol to contribute nothing, got %+v", out)
	}
}

func TestSemanticBranchMergesAndPostEnriches(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	lines := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	lines[50] = "fn target() {}"
	if err := os.WriteFile(file, []byte(joinLines(lines)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := &fakeStore{hits: []vectorstore.ScoredRecord{
		{Record: vectorstore.ChunkRecord{Path: file, StartLine: 40, EndLine: 60}, Score: 0.9},
	}}
	lsp := &fakeLSP{documentSymbolFn: func(uri string) []lspdriver.DocumentSymbol {
		return []lspdriver.DocumentSymbol{
			{Name: "target", Kind: lspdriver.SymbolKindFunction, Range: lspdriver.Range{
				Start: lspdriver.Position{Line: 50}, End: lspdriver.Position{Line: 51},
			}},
		}
	}}

	s := &Service{Store: store, Embedder: fakeEmbedder{}, SearchLimit: 10}
	syms, err := s.semanticBranch(context.Background(), lsp, []string{"target fn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(syms) != 1 || syms[0].Name != "target" {
		t.Fatalf("expected one merged symbol named target, got %+v", syms)
	}
	if !syms[0].HasCode || syms[0].Code == "" {
		t.Fatalf("expected post-enrichment to populate code, got %+v", syms[0])
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
