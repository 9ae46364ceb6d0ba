package lspdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/screenager/codelens/internal/errs"
)

const (
	methodWorkDoneProgressCreate = "window/workDoneProgress/create"
	methodShutdown               = "shutdown"
)

// GuardedClient is a language-server connection gated by a counting
// semaphore so at most Parallelism requests are in flight at once — the Go
// analogue of tokio::sync::Semaphore around the same client handle.
type GuardedClient struct {
	c      *client
	guard  chan struct{}
	Logger func(format string, args ...any)
}

// WorkspaceSymbol runs a workspace/symbol query.
func (g *GuardedClient) WorkspaceSymbol(ctx context.Context, query string) ([]SymbolInformation, error) {
	acquired := g.acquire(ctx)
	defer g.release(acquired)

	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	resp, err := g.c.call(ctx, "workspace/symbol", workspaceSymbolParams{Query: query})
	if err != nil {
		return nil, fmt.Errorf("%w: workspace/symbol: %v", errs.ErrTransport, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: workspace/symbol: %s", errs.ErrTransport, resp.Error.Message)
	}
	var syms []SymbolInformation
	if err := json.Unmarshal(resp.Result, &syms); err != nil {
		return nil, fmt.Errorf("%w: parse workspace/symbol result: %v", errs.ErrTransport, err)
	}
	return syms, nil
}

// DocumentSymbol runs a textDocument/documentSymbol query, normalizing both
// the hierarchical DocumentSymbol[] and flat SymbolInformation[] response
// shapes some servers use interchangeably into DocumentSymbol.
func (g *GuardedClient) DocumentSymbol(ctx context.Context, uri string) ([]DocumentSymbol, error) {
	acquired := g.acquire(ctx)
	defer g.release(acquired)

	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	resp, err := g.c.call(ctx, "textDocument/documentSymbol",
		documentSymbolParams{TextDocument: TextDocumentIdentifier{URI: uri}})
	if err != nil {
		return nil, fmt.Errorf("%w: textDocument/documentSymbol: %v", errs.ErrTransport, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: textDocument/documentSymbol: %s", errs.ErrTransport, resp.Error.Message)
	}

	// A flat SymbolInformation[] also unmarshals into []DocumentSymbol
	// without error (its ranges left zero), so detect it by its location URI.
	var flat []SymbolInformation
	if err := json.Unmarshal(resp.Result, &flat); err == nil && len(flat) > 0 && flat[0].Location.URI != "" {
		symbols := make([]DocumentSymbol, len(flat))
		for i, s := range flat {
			symbols[i] = DocumentSymbol{Name: s.Name, Kind: s.Kind, Range: s.Location.Range, SelectionRange: s.Location.Range}
		}
		return symbols, nil
	}
	var symbols []DocumentSymbol
	if err := json.Unmarshal(resp.Result, &symbols); err != nil {
		return nil, fmt.Errorf("%w: parse documentSymbol result: %v", errs.ErrTransport, err)
	}
	return symbols, nil
}

// Hover runs a textDocument/hover query.
func (g *GuardedClient) Hover(ctx context.Context, uri string, pos Position) (*Hover, error) {
	acquired := g.acquire(ctx)
	defer g.release(acquired)

	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	resp, err := g.c.call(ctx, "textDocument/hover",
		hoverParams{TextDocument: TextDocumentIdentifier{URI: uri}, Position: pos})
	if err != nil {
		return nil, fmt.Errorf("%w: textDocument/hover: %v", errs.ErrTransport, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: textDocument/hover: %s", errs.ErrTransport, resp.Error.Message)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, nil
	}
	var h Hover
	if err := json.Unmarshal(resp.Result, &h); err != nil {
		return nil, fmt.Errorf("%w: parse hover result: %v", errs.ErrTransport, err)
	}
	return &h, nil
}

// References runs a textDocument/references query.
func (g *GuardedClient) References(ctx context.Context, uri string, pos Position, includeDecl bool) ([]Location, error) {
	acquired := g.acquire(ctx)
	defer g.release(acquired)

	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	resp, err := g.c.call(ctx, "textDocument/references", referenceParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
		Context:      referenceContext{IncludeDeclaration: includeDecl},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: textDocument/references: %v", errs.ErrTransport, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: textDocument/references: %s", errs.ErrTransport, resp.Error.Message)
	}
	var locs []Location
	if err := json.Unmarshal(resp.Result, &locs); err != nil {
		return nil, fmt.Errorf("%w: parse references result: %v", errs.ErrTransport, err)
	}
	return locs, nil
}

// Shutdown sends shutdown+exit and kills the server process if it lingers.
func (g *GuardedClient) Shutdown(ctx context.Context) error {
	acquired := g.acquire(ctx)
	defer g.release(acquired)
	return g.c.close()
}

// acquire takes a permit, trying non-blocking first and only falling back
// to a blocking wait (logging once) if the client is already at
// parallelism, matching §4.4's try_acquire-then-acquire contract. Reports
// whether a permit was actually taken, so a context cancellation during
// the blocking wait never frees a permit it never held.
func (g *GuardedClient) acquire(ctx context.Context) bool {
	select {
	case g.guard <- struct{}{}:
		return true
	default:
	}
	g.logf("parallelism limit reached, blocking for a permit")
	select {
	case g.guard <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// release frees a permit taken by a successful acquire. A no-op when
// acquire returned false, so a cancelled acquire can never over-release.
func (g *GuardedClient) release(acquired bool) {
	if !acquired {
		return
	}
	<-g.guard
}

func (g *GuardedClient) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger(format, args...)
	}
}

// Options configures the LspDriver subsystem.
type Options struct {
	Server        string
	ServerArgs    []string
	ServerOptions any
	WorkspaceURI  string
	Parallelism   int
	ProgressToken string // default: "rustAnalyzer/Roots Scanned"
	ClientName    string
	ClientVersion string
}

// Cell is a single-slot "watch"-style broadcast primitive: the most recent
// value sent is always what a receiver gets, mirroring tokio::sync::watch.
type Cell struct {
	mu    sync.Mutex
	value *GuardedClient
	subs  []chan *GuardedClient
}

// NewCell creates an empty cell.
func NewCell() *Cell { return &Cell{} }

// Set stores value and notifies every current subscriber.
func (c *Cell) Set(value *GuardedClient) {
	c.mu.Lock()
	c.value = value
	subs := c.subs
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- value:
		default:
		}
	}
}

// Get returns the most recently set value, or nil if none yet.
func (c *Cell) Get() *GuardedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Subsystem launches a single language server, performs the initialize
// handshake, waits for the server's own "workspace scanned" progress
// notification, then publishes a GuardedClient onto Cell for as long as ctx
// runs, gracefully shutting the server down on cancellation.
type Subsystem struct {
	Opts   Options
	Cell   *Cell
	Logger func(format string, args ...any)
}

// Run blocks until ctx is cancelled, then shuts the server down.
func (s *Subsystem) Run(ctx context.Context) error {
	root, err := toFilePath(s.Opts.WorkspaceURI)
	if err != nil {
		return err
	}

	c, err := newClient(ctx, ServerConfig{Command: s.Opts.Server, Args: s.Opts.ServerArgs, Options: s.Opts.ServerOptions}, root)
	if err != nil {
		return err
	}

	go c.readLoop(func(id int64, method string, _ json.RawMessage) {
		switch method {
		case methodWorkDoneProgressCreate, methodShutdown:
			if err := c.respondOK(id); err != nil {
				s.logf("respond ok to %s: %v", method, err)
			}
		default:
			if err := c.respondMethodNotFound(id); err != nil {
				s.logf("respond method-not-found to %s: %v", method, err)
			}
		}
	})

	if err := s.initialize(ctx, c, root); err != nil {
		return err
	}

	token := s.Opts.ProgressToken
	if token == "" {
		token = "rustAnalyzer/Roots Scanned"
	}
	s.logf("waiting for %q to complete", token)
	if err := waitForToken(ctx, c, token); err != nil {
		s.logf("progress wait: %v", err)
	} else {
		s.logf("%q complete, lsp driver ready", token)
	}

	parallelism := s.Opts.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	guarded := &GuardedClient{c: c, guard: make(chan struct{}, parallelism), Logger: s.Logger}
	s.Cell.Set(guarded)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	return guarded.Shutdown(shutdownCtx)
}

func (s *Subsystem) initialize(ctx context.Context, c *client, root string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultInitializeTimeout)
	defer cancel()

	name := s.Opts.ClientName
	if name == "" {
		name = "codelens"
	}
	workspaceName := filepath.Base(root)
	params := newInitializeParams(os.Getpid(), name, s.Opts.ClientVersion, toFileURI(root), workspaceName, s.Opts.ServerOptions)

	resp, err := c.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("%w: initialize: %v", errs.ErrTransport, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: initialize: %s", errs.ErrTransport, resp.Error.Message)
	}
	if err := c.notify("initialized", struct{}{}); err != nil {
		return fmt.Errorf("%w: initialized notification: %v", errs.ErrTransport, err)
	}
	c.ready = true
	return nil
}

// waitForToken blocks until a $/progress notification for token reaches
// WorkDone::End, or ctx is cancelled.
func waitForToken(ctx context.Context, c *client, token string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-c.progressCh:
			if !tokenMatches(p.Token, token) {
				continue
			}
			var v workDoneProgressValue
			if err := json.Unmarshal(p.Value, &v); err != nil {
				continue
			}
			if v.Kind == "end" {
				return nil
			}
		case <-time.After(10 * time.Minute):
			return fmt.Errorf("%w: timed out waiting for progress token %q", errs.ErrTransport, token)
		}
	}
}

func tokenMatches(n NumberOrString, token string) bool {
	return n.IsStr && n.Str == token
}

func toFilePath(workspaceURI string) (string, error) {
	const prefix = "file://"
	if len(workspaceURI) < len(prefix) || workspaceURI[:len(prefix)] != prefix {
		return "", fmt.Errorf("%w: workspace_uri must use the file:// scheme, got %q", errs.ErrConfig, workspaceURI)
	}
	return workspaceURI[len(prefix):], nil
}

func toFileURI(path string) string { return "file://" + path }

func (s *Subsystem) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger(format, args...)
	}
}
