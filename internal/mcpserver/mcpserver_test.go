package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/screenager/codelens/internal/config"
	"github.com/screenager/codelens/internal/retriever"
)

func TestHandleCodeReuseSearchReturnsSoftErrorAsText(t *testing.T) {
	svc := &retriever.Service{
		Cell: &retriever.Cell{}, // Get() returns nil: LSP not ready
	}
	s := &Server{Service: svc, Response: config.ResponsePrompt}

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      ToolName,
			Arguments: map[string]any{"semantic_queries": []string{"x"}, "name_patterns": []string{"y"}},
		},
	}

	res, err := s.handleCodeReuseSearch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if res.IsError {
		t.Fatalf("readiness gate must surface as a soft text result, not a tool error")
	}
}
