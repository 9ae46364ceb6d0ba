package retriever

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/screenager/codelens/internal/errs"
	"github.com/screenager/codelens/internal/rules"
)

// JSONResponse is the four-block shape the Json response mode emits
// verbatim, field names matching the tool surface's documented keys.
type JSONResponse struct {
	SemanticRules   []string          `json:"semantic_rules"`
	FuzzyRules      []string          `json:"fuzzy_rules"`
	SemanticSymbols []rules.SymbolInfo `json:"semantic_symbols"`
	FuzzySymbols    []rules.SymbolInfo `json:"fuzzy_symbols"`
}

// AsJSON shapes a Result into the four-block JSON response.
func AsJSON(r *Result) JSONResponse {
	return JSONResponse{
		SemanticRules:   r.SemanticRules,
		FuzzyRules:      r.FuzzyRules,
		SemanticSymbols: r.SemanticSymbols,
		FuzzySymbols:    r.FuzzySymbols,
	}
}

// promptData is what the configured prompt template sees, field names
// matching the tool surface's four variables.
type promptData struct {
	SemanticRules   []string
	FuzzyRules      []string
	SemanticSymbols []rules.SymbolInfo
	FuzzySymbols    []rules.SymbolInfo
}

// AsPrompt renders promptTemplate with a Result's four values bound, for
// the Prompt response mode's single text block.
func AsPrompt(r *Result, promptTemplate string) (string, error) {
	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("%w: parse prompt template: %v", errs.ErrTemplate, err)
	}
	data := promptData{
		SemanticRules:   r.SemanticRules,
		FuzzyRules:      r.FuzzyRules,
		SemanticSymbols: r.SemanticSymbols,
		FuzzySymbols:    r.FuzzySymbols,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: render prompt template: %v", errs.ErrTemplate, err)
	}
	return buf.String(), nil
}
