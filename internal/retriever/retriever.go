// Package retriever implements the single tool operation the whole service
// exists to expose: code_reuse_search. It fans a request out across a
// fuzzy (LSP workspace/symbol) branch and a semantic (vector top-n) branch
// run concurrently, merges the semantic branch's chunk hits with document
// symbols under the confirmed DocumentPointer law, evaluates a hot-reloaded
// ruleset against both symbol sets, and hands the caller back either raw
// JSON or a single rendered prompt.
package retriever

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/screenager/codelens/internal/errs"
	"github.com/screenager/codelens/internal/lspdriver"
	"github.com/screenager/codelens/internal/rules"
	"github.com/screenager/codelens/internal/vectorstore"
)

// Embedder is the subset of internal/embed.Embedder the semantic branch
// needs: turn one query string into its asymmetric-prefixed embedding.
type Embedder interface {
	EmbedQuery(query string) ([]float32, error)
}

// VectorStore is the subset of internal/vectorstore.Store the semantic
// branch needs.
type VectorStore interface {
	TopN(queryVec []float32, n int) ([]vectorstore.ScoredRecord, error)
}

// LSP is the subset of lspdriver.GuardedClient the Retriever calls. A
// *lspdriver.GuardedClient satisfies this interface structurally — no
// adapter needed in production wiring.
type LSP interface {
	WorkspaceSymbol(ctx context.Context, query string) ([]lspdriver.SymbolInformation, error)
	DocumentSymbol(ctx context.Context, uri string) ([]lspdriver.DocumentSymbol, error)
	Hover(ctx context.Context, uri string, pos lspdriver.Position) (*lspdriver.Hover, error)
}

// Cell exposes the most recently published LSP client, or nil before the
// LspDriver subsystem has finished its handshake. NewCell wraps a real
// *lspdriver.Cell; tests construct a Cell directly with a stub getter.
type Cell struct {
	get func() LSP
}

// NewCell wraps a production lspdriver.Cell so its *GuardedClient is seen
// through the narrower LSP interface this package depends on.
func NewCell(c *lspdriver.Cell) *Cell {
	return &Cell{get: func() LSP {
		g := c.Get()
		if g == nil {
			return nil
		}
		return g
	}}
}

// Get returns the current LSP client, or nil if the cell hasn't been set.
func (c *Cell) Get() LSP {
	if c == nil || c.get == nil {
		return nil
	}
	return c.get()
}

// Service implements code_reuse_search.
type Service struct {
	Embedder       Embedder
	Store          VectorStore
	Cell           *Cell
	FirstIndexScan *atomic.Bool
	RulesPath      string
	SearchLimit    int
	EnrichHover    bool
	Logger         func(format string, args ...any)
}

// Request is one code_reuse_search call's input.
type Request struct {
	SemanticQueries []string
	NamePatterns    []string
}

// Result is one code_reuse_search call's output, prior to response shaping.
type Result struct {
	SemanticRules   []string
	FuzzyRules      []string
	SemanticSymbols []rules.SymbolInfo
	FuzzySymbols    []rules.SymbolInfo
}

// CodeReuseSearch runs the fuzzy and semantic branches concurrently, merges
// and rule-matches their symbols, and returns the combined Result. Returns
// an errs.ErrUser-wrapped soft error (not a transport failure) if the LSP
// session or the semantic index isn't ready yet.
func (s *Service) CodeReuseSearch(ctx context.Context, req Request) (*Result, error) {
	lsp := s.Cell.Get()
	if lsp == nil {
		return nil, fmt.Errorf("%w: Waiting for LSP server to be initialized", errs.ErrUser)
	}
	if s.FirstIndexScan == nil || !s.FirstIndexScan.Load() {
		return nil, fmt.Errorf("%w: Waiting for index to be initialized", errs.ErrUser)
	}

	var (
		fuzzySymbols, semanticSymbols []rules.SymbolInfo
		fuzzyErr, semanticErr         error
		wg                            sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		fuzzySymbols, fuzzyErr = s.fuzzyBranch(ctx, lsp, req.NamePatterns)
	}()
	go func() {
		defer wg.Done()
		semanticSymbols, semanticErr = s.semanticBranch(ctx, lsp, req.SemanticQueries)
	}()
	wg.Wait()
	if fuzzyErr != nil {
		return nil, fuzzyErr
	}
	if semanticErr != nil {
		return nil, semanticErr
	}

	// Re-read the rules file on every call: intentional hot-reload, not a
	// missed cache.
	ruleset, err := rules.Load(s.RulesPath)
	if err != nil {
		return nil, err
	}

	semanticRules, err := ruleset.GetRules(semanticSymbols)
	if err != nil {
		return nil, err
	}
	fuzzyRules, err := ruleset.GetRules(fuzzySymbols)
	if err != nil {
		return nil, err
	}

	return &Result{
		SemanticRules:   semanticRules,
		FuzzyRules:      fuzzyRules,
		SemanticSymbols: semanticSymbols,
		FuzzySymbols:    fuzzySymbols,
	}, nil
}

// fuzzyBranch calls workspace/symbol once per name pattern, or exactly once
// with an empty query when no patterns were given, then post-enriches the
// returned symbols with their source code.
func (s *Service) fuzzyBranch(ctx context.Context, lsp LSP, patterns []string) ([]rules.SymbolInfo, error) {
	var hits []lspdriver.SymbolInformation

	if len(patterns) == 0 {
		res, err := lsp.WorkspaceSymbol(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("fuzzy branch: %w", err)
		}
		hits = res
	} else {
		for _, pattern := range patterns {
			res, err := lsp.WorkspaceSymbol(ctx, pattern)
			if err != nil {
				s.logf("workspace/symbol %q: %v", pattern, err)
				continue
			}
			hits = append(hits, res...)
		}
	}

	symbols := make([]rules.SymbolInfo, 0, len(hits))
	for _, h := range hits {
		symbols = append(symbols, rules.SymbolInfo{
			Name:          h.Name,
			Kind:          symbolKindName(h.Kind),
			Path:          uriToPath(h.Location.URI),
			StartLine:     h.Location.Range.Start.Line,
			EndLine:       h.Location.Range.End.Line,
			ContainerName: h.ContainerName,
		})
	}
	return s.postEnrich(ctx, lsp, symbols)
}

// semanticBranch runs one top-n vector search per query, collects the
// unique touched files, fetches their document symbols, merges chunk hits
// with symbols under the DocumentPointer law, and post-enriches the result.
func (s *Service) semanticBranch(ctx context.Context, lsp LSP, queries []string) ([]rules.SymbolInfo, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	var chunkHits []vectorstore.ScoredRecord
	for _, q := range queries {
		vec, err := s.Embedder.EmbedQuery(q)
		if err != nil {
			return nil, fmt.Errorf("semantic branch: embed query %q: %w", q, err)
		}
		hits, err := s.Store.TopN(vec, s.SearchLimit)
		if err != nil {
			return nil, fmt.Errorf("semantic branch: top_n %q: %w", q, err)
		}
		chunkHits = append(chunkHits, hits...)
	}

	chunksByPath := make(map[string][]int) // path -> start lines
	touched := make(map[string]struct{})
	for _, h := range chunkHits {
		chunksByPath[h.Record.Path] = append(chunksByPath[h.Record.Path], h.Record.StartLine)
		touched[h.Record.Path] = struct{}{}
	}

	symbolsByPath := make(map[string][]lspdriver.DocumentSymbol, len(touched))
	for path := range touched {
		docSyms, err := lsp.DocumentSymbol(ctx, pathToURI(path))
		if err != nil {
			s.logf("textDocument/documentSymbol %s: %v", path, err)
			continue
		}
		symbolsByPath[path] = flattenDocumentSymbols(docSyms)
	}

	var merged []rules.SymbolInfo
	for path, starts := range chunksByPath {
		merged = append(merged, mergeDocumentPointers(path, starts, symbolsByPath[path])...)
	}

	return s.postEnrich(ctx, lsp, merged)
}

// docPointer is the Go rendering of the original's tagged-union
// DocumentPointer: either a chunk hit or a document symbol, both carrying
// the start line the merge sorts on.
type docPointer struct {
	startLine int
	isChunk   bool
	symbol    lspdriver.DocumentSymbol
}

// mergeDocumentPointers implements the confirmed semantic-merge law: group
// by path (already done by the caller), sort by start line (chunks before
// symbols on a tie — the source says the tiebreak is irrelevant), then a
// single forward pass with a seen-chunk flag emits the next symbol after
// each chunk hit and drops everything else.
func mergeDocumentPointers(path string, chunkStarts []int, symbols []lspdriver.DocumentSymbol) []rules.SymbolInfo {
	pointers := make([]docPointer, 0, len(chunkStarts)+len(symbols))
	for _, line := range chunkStarts {
		pointers = append(pointers, docPointer{startLine: line, isChunk: true})
	}
	for _, sym := range symbols {
		pointers = append(pointers, docPointer{startLine: sym.Range.Start.Line, symbol: sym})
	}

	sort.SliceStable(pointers, func(i, j int) bool {
		if pointers[i].startLine != pointers[j].startLine {
			return pointers[i].startLine < pointers[j].startLine
		}
		return pointers[i].isChunk && !pointers[j].isChunk
	})

	var out []rules.SymbolInfo
	seenChunk := false
	for _, p := range pointers {
		if p.isChunk {
			seenChunk = true
			continue
		}
		if !seenChunk {
			continue
		}
		seenChunk = false
		out = append(out, rules.SymbolInfo{
			Name:      p.symbol.Name,
			Kind:      symbolKindName(p.symbol.Kind),
			Path:      path,
			StartLine: p.symbol.Range.Start.Line,
			EndLine:   p.symbol.Range.End.Line,
		})
	}
	return out
}

// flattenDocumentSymbols flattens the hierarchical DocumentSymbol tree (a
// server may reply with nested children even though this client advertises
// hierarchicalDocumentSymbolSupport=false) into one flat slice.
func flattenDocumentSymbols(syms []lspdriver.DocumentSymbol) []lspdriver.DocumentSymbol {
	var out []lspdriver.DocumentSymbol
	var walk func([]lspdriver.DocumentSymbol)
	walk = func(syms []lspdriver.DocumentSymbol) {
		for _, s := range syms {
			flat := s
			flat.Children = nil
			out = append(out, flat)
			if len(s.Children) > 0 {
				walk(s.Children)
			}
		}
	}
	walk(syms)
	return out
}

// postEnrich fills Code/HasCode (and, when enabled, Hover) for every symbol
// by reading each touched file exactly once, grouped by path — the
// post-scan enrichment strategy the spec's open question prefers, applied
// uniformly to both branches.
func (s *Service) postEnrich(ctx context.Context, lsp LSP, symbols []rules.SymbolInfo) ([]rules.SymbolInfo, error) {
	out := make([]rules.SymbolInfo, len(symbols))
	copy(out, symbols)

	byPath := make(map[string][]int)
	for i, sym := range out {
		byPath[sym.Path] = append(byPath[sym.Path], i)
	}

	for path, idxs := range byPath {
		lines, err := readLines(path)
		if err != nil {
			s.logf("read %s for enrichment: %v", path, err)
			continue
		}
		for _, i := range idxs {
			sym := &out[i]
			start, end := clampRange(sym.StartLine, sym.EndLine, len(lines))
			if start >= end {
				continue
			}
			sym.Code = strings.Join(lines[start:end], "\n")
			sym.HasCode = true

			if !s.EnrichHover {
				continue
			}
			pos := findNamePosition(lines, start, end, sym.Name)
			hov, err := lsp.Hover(ctx, pathToURI(sym.Path), pos)
			if err != nil {
				s.logf("hover %s: %v", sym.Path, err)
				continue
			}
			if hov != nil {
				sym.Hover = string(hov.Contents)
			}
		}
	}
	return out, nil
}

func clampRange(start, end, numLines int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end <= start {
		end = start + 1
	}
	if end > numLines {
		end = numLines
	}
	if start > numLines {
		start = numLines
	}
	return start, end
}

// findNamePosition locates the first occurrence of name inside lines[start:end]
// and returns its position in document coordinates, for a hover request at
// the symbol's declared name rather than its opening brace.
func findNamePosition(lines []string, start, end int, name string) lspdriver.Position {
	for i := start; i < end && i < len(lines); i++ {
		if col := strings.Index(lines[i], name); col >= 0 {
			return lspdriver.Position{Line: i, Character: col}
		}
	}
	return lspdriver.Position{Line: start}
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return strings.Split(string(data), "\n"), nil
}

func uriToPath(uri string) string { return strings.TrimPrefix(uri, "file://") }
func pathToURI(path string) string { return "file://" + path }

// symbolKindNames mirrors the LSP SymbolKind enumeration's names in
// declaration order (kind 1 = File, ... kind 26 = TypeParameter) — the
// string form rule predicates match against.
var symbolKindNames = []string{
	"File", "Module", "Namespace", "Package", "Class", "Method", "Property",
	"Field", "Constructor", "Enum", "Interface", "Function", "Variable",
	"Constant", "String", "Number", "Boolean", "Array", "Object", "Key",
	"Null", "EnumMember", "Struct", "Event", "Operator", "TypeParameter",
}

func symbolKindName(k lspdriver.SymbolKind) string {
	i := int(k) - 1
	if i < 0 || i >= len(symbolKindNames) {
		return ""
	}
	return symbolKindNames[i]
}
