// Package mcpserver exposes internal/retriever's code_reuse_search
// operation as a single MCP tool served over stdio, grounded on
// suju297-mem's internal/app/mcp.go tool-registration pattern
// (mcp.NewTool option builders, srv.AddTool, server.ServeStdio).
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/screenager/codelens/internal/config"
	"github.com/screenager/codelens/internal/errs"
	"github.com/screenager/codelens/internal/retriever"
)

// ToolName is the single operation this server publishes.
const ToolName = "code_reuse_search"

// Server wraps a retriever.Service as an MCP stdio tool server.
type Server struct {
	Service     *retriever.Service
	Name        string
	Version     string
	Description config.Description
	Response    config.ResponseType
	PromptTmpl  string
	Logger      func(format string, args ...any)
}

// Serve blocks, serving code_reuse_search over stdio until ctx is
// cancelled or the transport errors out.
func (s *Server) Serve(ctx context.Context) error {
	name := s.Name
	if name == "" {
		name = "codelens"
	}
	srv := server.NewMCPServer(name, s.Version, server.WithToolCapabilities(false))

	desc := s.Description.Server
	if desc == "" {
		desc = "Search the indexed workspace for already-implemented code before writing new code."
	}
	semDesc := s.Description.SemanticQuery
	if semDesc == "" {
		semDesc = "Natural-language descriptions of the functionality to search for, dense-vector matched against file chunks."
	}
	fuzzyDesc := s.Description.FuzzyQuery
	if fuzzyDesc == "" {
		fuzzyDesc = "Exact or partial symbol names to search for via the language server's workspace symbol index."
	}

	tool := mcp.NewTool(ToolName,
		mcp.WithDescription(desc),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithArray("semantic_queries",
			mcp.Description(semDesc),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("name_patterns",
			mcp.Description(fuzzyDesc),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)

	srv.AddTool(tool, s.handleCodeReuseSearch)

	done := make(chan error, 1)
	go func() { done <- server.ServeStdio(srv) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

func (s *Server) handleCodeReuseSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	semanticQueries := request.GetStringSlice("semantic_queries", nil)
	namePatterns := request.GetStringSlice("name_patterns", nil)

	result, err := s.Service.CodeReuseSearch(ctx, retriever.Request{
		SemanticQueries: semanticQueries,
		NamePatterns:    namePatterns,
	})
	if err != nil {
		if errs.Kind(err) == "UserError" {
			// Soft error: a readiness gate, not a tool-call failure.
			return mcp.NewToolResultText(err.Error()), nil
		}
		s.logf("code_reuse_search: %v", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.Response == config.ResponseJSON {
		payload, err := json.Marshal(retriever.AsJSON(result))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal response: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}

	text, err := retriever.AsPrompt(result, s.PromptTmpl)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger(format, args...)
	}
}
