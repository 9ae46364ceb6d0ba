// Package rules evaluates a user-supplied YAML ruleset against the symbols
// a retrieval call surfaces, rendering matched rules' templates and folding
// the result into the ruleset's common preamble. The rules file is
// re-read from disk on every code_reuse_search call (the retriever calls
// Load each time) — intentional hot-reload, not a
// missed cache, mirroring the original service's per-request reload of its
// rule definitions.
package rules

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/screenager/codelens/internal/errs"
)

// SymbolInfo is the shape a rule predicate and its templates see: one
// LSP-derived or chunk-derived symbol, enriched with its source line and
// (optionally) its code slice and hover text.
type SymbolInfo struct {
	Name          string `yaml:"-"`
	Kind          string `yaml:"-"`
	Path          string `yaml:"-"`
	StartLine     int    `yaml:"-"`
	EndLine       int    `yaml:"-"`
	ContainerName string `yaml:"-"`
	Code          string `yaml:"-"`
	HasCode       bool   `yaml:"-"`
	Hover         string `yaml:"-"`
}

// rawRuleset is the on-disk YAML shape of the rules file.
type rawRuleset struct {
	Common    []string          `yaml:"common"`
	DependsOn []rawSymbolRuleset `yaml:"depends_on"`
}

type rawSymbolRuleset struct {
	Kind  []string `yaml:"kind"`
	Name  []string `yaml:"name"`
	Path  []string `yaml:"path"`
	Code  []string `yaml:"code"`
	Rules []string `yaml:"rules"`
}

// regexSet is the equivalent of the original's regex-set: a symbol matches
// the set iff any one pattern in it matches. Go has no regexp.Set type, so
// this is a thin slice wrapper compiled once at load time.
type regexSet []*regexp.Regexp

func compileSet(patterns []string) (regexSet, error) {
	set := make(regexSet, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: compile pattern %q: %v", errs.ErrConfig, p, err)
		}
		set = append(set, re)
	}
	return set, nil
}

func (s regexSet) isMatch(v string) bool {
	for _, re := range s {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// SymbolRuleset is a compiled rawSymbolRuleset: kind/name/code are regex
// sets, path is a list of doublestar glob patterns (ANY one matching
// suffices), and rules are parsed text/template bodies rendered once the
// ruleset has at least one matching symbol.
type SymbolRuleset struct {
	kindSet  regexSet
	nameSet  regexSet
	codeSet  regexSet
	pathGlobs []string
	templates []*template.Template
}

func compileSymbolRuleset(raw rawSymbolRuleset) (*SymbolRuleset, error) {
	kindSet, err := compileSet(raw.Kind)
	if err != nil {
		return nil, err
	}
	nameSet, err := compileSet(raw.Name)
	if err != nil {
		return nil, err
	}
	codeSet, err := compileSet(raw.Code)
	if err != nil {
		return nil, err
	}

	templates := make([]*template.Template, 0, len(raw.Rules))
	for i, body := range raw.Rules {
		tmpl, err := template.New(fmt.Sprintf("rule-%d", i)).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("%w: parse rule template %d: %v", errs.ErrTemplate, i, err)
		}
		templates = append(templates, tmpl)
	}

	return &SymbolRuleset{
		kindSet:   kindSet,
		nameSet:   nameSet,
		codeSet:   codeSet,
		pathGlobs: raw.Path,
		templates: templates,
	}, nil
}

// Matches reports whether sym satisfies all four conditions: kind set,
// name set, any path glob, and code set. A symbol with no code never
// matches a ruleset that names a code pattern — absent code is never a
// match, mirroring the original's unwrap_or(false).
func (r *SymbolRuleset) Matches(sym SymbolInfo) bool {
	if !r.kindSet.isMatch(sym.Kind) {
		return false
	}
	if !r.nameSet.isMatch(sym.Name) {
		return false
	}
	if !r.anyPathMatches(sym.Path) {
		return false
	}
	if !sym.HasCode {
		return false
	}
	return r.codeSet.isMatch(sym.Code)
}

func (r *SymbolRuleset) anyPathMatches(path string) bool {
	for _, g := range r.pathGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// Ruleset is a compiled rules file: a common preamble plus a list of
// dependent symbol rulesets, each contributing template output when at
// least one symbol matches it.
type Ruleset struct {
	Common    []string
	DependsOn []*SymbolRuleset
}

// Load reads and compiles a rules file from path. The retriever calls it
// fresh on every code_reuse_search call, per the original's intentional
// hot-reload: a rules file edited
// between two calls takes effect on the very next one.
func Load(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read rules file %s: %v", errs.ErrConfig, path, err)
	}

	var raw rawRuleset
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse rules file %s: %v", errs.ErrConfig, path, err)
	}

	compiled := make([]*SymbolRuleset, 0, len(raw.DependsOn))
	for i, r := range raw.DependsOn {
		c, err := compileSymbolRuleset(r)
		if err != nil {
			return nil, fmt.Errorf("rules file %s, depends_on[%d]: %w", path, i, err)
		}
		compiled = append(compiled, c)
	}

	return &Ruleset{Common: append([]string(nil), raw.Common...), DependsOn: compiled}, nil
}

// templateData is what every rule template body sees: the matched symbols
// under the field name Symbols.
type templateData struct {
	Symbols []SymbolInfo
}

// GetRules groups symbols against each dependent ruleset, renders every
// matched ruleset's templates with its group of matching symbols bound to
// Symbols, and returns the common preamble followed by every rendered
// string, in ruleset-then-template order.
func (r *Ruleset) GetRules(symbols []SymbolInfo) ([]string, error) {
	out := append([]string(nil), r.Common...)

	for _, ruleset := range r.DependsOn {
		var matched []SymbolInfo
		for _, sym := range symbols {
			if ruleset.Matches(sym) {
				matched = append(matched, sym)
			}
		}
		if len(matched) == 0 {
			continue
		}

		data := templateData{Symbols: matched}
		for _, tmpl := range ruleset.templates {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, data); err != nil {
				return nil, fmt.Errorf("%w: render rule template %s: %v", errs.ErrTemplate, tmpl.Name(), err)
			}
			out = append(out, buf.String())
		}
	}

	return out, nil
}
