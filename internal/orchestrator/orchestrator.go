// Package orchestrator wires the five subsystems (Watcher, Chunker,
// Indexer, LspDriver, Retriever/MCP server) into the channels and
// readiness flags spec.md §5 describes, and runs them under a
// golang.org/x/sync/errgroup cooperative shutdown — the Go analogue of
// the original's tokio_graceful_shutdown Toplevel orchestrator: the
// first fatal subsystem error cancels the shared context, the rest
// drain and return, and shutdown_timeout bounds how long that grace
// period is allowed to take before the process is forced down.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/screenager/codelens/internal/chunker"
	"github.com/screenager/codelens/internal/config"
	"github.com/screenager/codelens/internal/embed"
	"github.com/screenager/codelens/internal/indexer"
	"github.com/screenager/codelens/internal/lspdriver"
	"github.com/screenager/codelens/internal/mcpserver"
	"github.com/screenager/codelens/internal/retriever"
	"github.com/screenager/codelens/internal/vectorstore"
	"github.com/screenager/codelens/internal/watcher"
)

// Logf is the logging shape every subsystem accepts.
type Logf func(format string, args ...any)

// Pipeline holds every long-lived collaborator the subcommands need,
// built once from a Config and reused across serve/index/watch/stats.
type Pipeline struct {
	Config *config.Config

	Embedder *embed.Embedder
	Store    *vectorstore.Store

	LSPCell *lspdriver.Cell

	FirstPathScan   *atomic.Bool
	FirstChunksScan *atomic.Bool
	FirstIndexScan  *atomic.Bool

	Retriever *retriever.Service

	Logf Logf
}

// Build constructs the embedder, vector store, and retriever service a
// Pipeline needs, without starting any subsystem goroutine. Callers pick
// which subsystems to Run via the RunX helpers below.
func Build(cfg *config.Config, logf Logf) (*Pipeline, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	sem := cfg.Search.Semantic
	embedder, err := embed.New(sem.ModelsDir, sem.OrtLibPath, sem.NumThreads, sem.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	store, err := vectorstore.Open(sem.VectorStorePath, sem.EmbeddingDim)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	cell := lspdriver.NewCell()
	p := &Pipeline{
		Config:          cfg,
		Embedder:        embedder,
		Store:           store,
		LSPCell:         cell,
		FirstPathScan:   &atomic.Bool{},
		FirstChunksScan: &atomic.Bool{},
		FirstIndexScan:  &atomic.Bool{},
		Logf:            logf,
	}

	p.Retriever = &retriever.Service{
		Embedder:       embedder,
		Store:          store,
		Cell:           retriever.NewCell(cell),
		FirstIndexScan: p.FirstIndexScan,
		RulesPath:      cfg.Rules,
		SearchLimit:    sem.SearchLimit,
		EnrichHover:    true,
		Logger:         logf,
	}
	return p, nil
}

// Close releases the embedder and flushes+closes the vector store. Safe to
// call once after every Run* call has returned.
func (p *Pipeline) Close() error {
	p.Embedder.Close()
	return p.Store.Flush()
}

// indexingGroup wires Watcher → Chunker → Indexer over two bounded
// channels and adds all three to g, returning once every subsystem has
// been registered (it does not itself block).
func (p *Pipeline) indexingGroup(ctx context.Context, g *errgroup.Group, workspaceURI string) {
	cfg := p.Config
	sem := cfg.Search.Semantic

	pathEvents := make(chan watcher.PathEvent, cfg.ChannelSize)
	chunks := make(chan *chunker.TextChunk, cfg.ChannelSize)

	w := &watcher.Subsystem{
		Opts: watcher.Options{
			WorkspaceURI: workspaceURI,
			Pattern:      sem.Pattern,
			DebounceSec:  cfg.DebounceSec,
		},
		Out:           pathEvents,
		FirstPathScan: p.FirstPathScan,
		Logger:        p.Logf,
	}
	c := &chunker.Subsystem{
		Store:          p.Store,
		In:             pathEvents,
		Out:            chunks,
		Opts:           chunker.Options{ChunkSize: sem.ChunkSize, OverlapSize: sem.OverlapSize, Pattern: sem.Pattern},
		FirstPathScan:  p.FirstPathScan,
		FirstChunkScan: p.FirstChunksScan,
		Logger:         p.Logf,
	}
	idx := &indexer.Subsystem{
		In:              chunks,
		Embedder:        p.Embedder,
		Store:           p.Store,
		BatchSize:       sem.BatchSize,
		FirstChunksScan: p.FirstChunksScan,
		FirstIndexScan:  p.FirstIndexScan,
		Logger:          p.Logf,
	}

	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error { return idx.Run(ctx) })
}

// RunIndexingOnly runs Watcher+Chunker+Indexer until ctx is cancelled,
// for the `index`/`watch` subcommands that warm an index without also
// bringing up the LSP driver or MCP server.
func (p *Pipeline) RunIndexingOnly(ctx context.Context, workspaceURI string) error {
	g, gctx := errgroup.WithContext(ctx)
	p.indexingGroup(gctx, g, workspaceURI)
	return g.Wait()
}

// lspGroup wires an lspdriver.Subsystem publishing onto p.LSPCell and adds
// it to g.
func (p *Pipeline) lspGroup(ctx context.Context, g *errgroup.Group) {
	fuzzy := p.Config.Search.Fuzzy
	lsp := &lspdriver.Subsystem{
		Opts: lspdriver.Options{
			Server:        fuzzy.LspServer,
			ServerArgs:    fuzzy.ServerArgs,
			ServerOptions: fuzzy.ServerOptions,
			WorkspaceURI:  fuzzy.WorkspaceURI,
			Parallelism:   fuzzy.Parallelism,
			ProgressToken: fuzzy.ProgressToken,
			ClientName:    "codelens",
		},
		Cell:   p.LSPCell,
		Logger: p.Logf,
	}
	g.Go(func() error { return lsp.Run(ctx) })
}

// runBounded waits for g, forcing os.Exit(1) if ctx is cancelled and the
// group hasn't returned within cfg.ShutdownTimeout — the grace-period
// enforcement spec.md §6 names for the exit-code rule.
func (p *Pipeline) runBounded(ctx context.Context, g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		timeout := time.Duration(p.Config.ShutdownTimeout) * time.Millisecond
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		select {
		case err := <-done:
			return err
		case <-time.After(timeout):
			fmt.Fprintln(os.Stderr, "[codelens] shutdown grace period elapsed, forcing exit")
			os.Exit(1)
			return nil
		}
	}
}

// RunServe runs all five subsystems — the system's normal mode, serving
// code_reuse_search over MCP stdio — bounding the post-cancellation grace
// period by cfg.ShutdownTimeout before forcing the process down.
func (p *Pipeline) RunServe(ctx context.Context) error {
	cfg := p.Config
	g, gctx := errgroup.WithContext(ctx)
	p.indexingGroup(gctx, g, cfg.Search.Fuzzy.WorkspaceURI)
	p.lspGroup(gctx, g)

	srv := &mcpserver.Server{
		Service:     p.Retriever,
		Name:        "codelens",
		Description: cfg.Templates.Description,
		Response:    cfg.Response,
		PromptTmpl:  cfg.Templates.Prompt,
		Logger:      p.Logf,
	}
	g.Go(func() error { return srv.Serve(gctx) })

	return p.runBounded(ctx, g)
}

// RunBackingServices runs Watcher+Chunker+Indexer+LspDriver without the
// MCP stdio server — for `codelens browse`, whose BubbleTea program
// already owns stdin/stdout and would conflict with an MCP stdio
// transport on the same process.
func (p *Pipeline) RunBackingServices(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	p.indexingGroup(gctx, g, p.Config.Search.Fuzzy.WorkspaceURI)
	p.lspGroup(gctx, g)
	return p.runBounded(ctx, g)
}
