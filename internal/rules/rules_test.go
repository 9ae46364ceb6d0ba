package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRulesFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}

func TestMatchesRequiresAllFourConditions(t *testing.T) {
	path := writeRulesFile(t, `
common: []
depends_on:
  - kind: ["Function"]
    name: [".*"]
    path: ["**/*.rs"]
    code: ["fn "]
    rules: []
`)
	rs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sr := rs.DependsOn[0]

	match := SymbolInfo{Kind: "Function", Name: "foo", Path: "src/lib.rs", Code: "fn foo() {}", HasCode: true}
	if !sr.Matches(match) {
		t.Fatalf("expected match")
	}

	noKind := match
	noKind.Kind = "Struct"
	if sr.Matches(noKind) {
		t.Fatalf("wrong kind must not match")
	}

	noPath := match
	noPath.Path = "src/lib.go"
	if sr.Matches(noPath) {
		t.Fatalf("non-matching path must not match")
	}

	noCode := match
	noCode.HasCode = false
	noCode.Code = ""
	if sr.Matches(noCode) {
		t.Fatalf("absent code must never match a ruleset naming a code pattern")
	}
}

func TestGetRulesRendersOncePerMatchedRuleset(t *testing.T) {
	path := writeRulesFile(t, `
common: ["always present"]
depends_on:
  - kind: ["Function"]
    name: [".*"]
    path: ["**/*.rs"]
    code: ["fn "]
    rules: ["use {{len .Symbols}} fns"]
`)
	rs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	symbols := []SymbolInfo{
		{Kind: "Function", Name: "a", Path: "src/lib.rs", Code: "fn a() {}", HasCode: true},
		{Kind: "Function", Name: "b", Path: "src/lib.rs", Code: "fn b() {}", HasCode: true},
		{Kind: "Function", Name: "c", Path: "src/lib.rs", Code: "fn c() {}", HasCode: true},
	}

	out, err := rs.GetRules(symbols)
	if err != nil {
		t.Fatalf("get rules: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected common + one rendered rule, got %v", out)
	}
	if out[0] != "always present" {
		t.Fatalf("expected common preamble first, got %q", out[0])
	}
	if out[1] != "use 3 fns" {
		t.Fatalf("expected rendered count, got %q", out[1])
	}
}

func TestGetRulesSkipsRulesetWithNoMatches(t *testing.T) {
	path := writeRulesFile(t, `
common: []
depends_on:
  - kind: ["Struct"]
    name: [".*"]
    path: ["**/*.rs"]
    code: []
    rules: ["should never appear"]
`)
	rs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err := rs.GetRules([]SymbolInfo{{Kind: "Function", Name: "a", Path: "src/lib.rs", HasCode: false}})
	if err != nil {
		t.Fatalf("get rules: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no output for a ruleset with zero matches, got %v", out)
	}
}

func TestHotReloadPicksUpChangedFile(t *testing.T) {
	path := writeRulesFile(t, `common: ["v1"]
depends_on: []
`)
	rs1, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rs1.Common[0] != "v1" {
		t.Fatalf("got %v", rs1.Common)
	}

	if err := os.WriteFile(path, []byte("common: [\"v2\"]\ndepends_on: []\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	rs2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rs2.Common[0] != "v2" {
		t.Fatalf("expected reload to observe v2, got %v", rs2.Common)
	}
}

func TestLoadRejectsInvalidRegex(t *testing.T) {
	path := writeRulesFile(t, `
common: []
depends_on:
  - kind: ["("]
    name: []
    path: []
    code: []
    rules: []
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "config error") {
		t.Fatalf("expected a config error for an invalid regex, got %v", err)
	}
}
