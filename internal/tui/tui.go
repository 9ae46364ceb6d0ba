// Package tui provides an interactive BubbleTea console for driving
// internal/retriever.Service.CodeReuseSearch live — a pre-flight tool for
// iterating on rules.yml and the embedding/workspace-symbol setup before
// wiring an agent against the MCP server.
//
// Layout:
//
//	┌─────────────────────────────────────┐
//	│  codelens  code reuse search         │  ← header
//	│  ❯ <semantic query>                  │  ← semantic query bar
//	│  ⚲ <fuzzy name pattern>              │  ← fuzzy pattern bar
//	│  ─────────────────────────────────  │  ← divider
//	│  [semantic rule] use 3 fns           │  ← rendered rule text
//	│   foo  src/lib.go:12                 │  ← matched symbols
//	│  ...                                 │
//	│  ─────────────────────────────────  │  ← divider
//	│  4 symbols  tab ^i esc ↑↓ enter ^q  │  ← status bar
//	└─────────────────────────────────────┘
package tui

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/screenager/codelens/internal/retriever"
	"github.com/screenager/codelens/internal/rules"
)

// ── Palette ──────────────────────────────────────────────────────────────────

var (
	colorAccent  = lipgloss.Color("#7C6AF7") // purple
	colorDim     = lipgloss.Color("#555555") // dark grey
	colorMuted   = lipgloss.Color("#888888") // mid grey
	colorText    = lipgloss.Color("#DDDDDD") // near-white
	colorSubdued = lipgloss.Color("#444444") // for dividers
	colorErr     = lipgloss.Color("#FF6B6B") // red
	colorGreen   = lipgloss.Color("#5AF078") // for "ready"

	sTitle  = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sAccent = lipgloss.NewStyle().Foreground(colorAccent)
	sDim    = lipgloss.NewStyle().Foreground(colorDim)
	sMuted  = lipgloss.NewStyle().Foreground(colorMuted)
	sPath   = lipgloss.NewStyle().Foreground(colorText)
	sDir    = lipgloss.NewStyle().Foreground(colorMuted)
	sErr    = lipgloss.NewStyle().Foreground(colorErr)
	sGreen  = lipgloss.NewStyle().Foreground(colorGreen)
	sSel    = lipgloss.NewStyle().
		Background(lipgloss.Color("#1E1A3A")).
		Foreground(colorText)
	sHint = lipgloss.NewStyle().
		Foreground(colorDim).
		Background(lipgloss.Color("#111111"))
	sDivider = lipgloss.NewStyle().Foreground(colorSubdued)
	sBadge   = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)
)

// ── Extension → icon map ─────────────────────────────────────────────────────

var extIcon = map[string]string{
	".go": "󰟓 ", ".py": "󰌠 ", ".rs": "󱘗 ", ".js": "󰌞 ",
	".ts": "󰛦 ", ".md": "󰍔 ", ".txt": "󰦨 ", ".json": "󰘦 ",
	".yaml": "󰗊 ", ".yml": "󰗊 ", ".toml": " ", ".c": "󰙱 ",
	".cpp": "󰙲 ", ".h": "󰙳 ", ".conf": "󰒓 ", ".sh": " ",
}

func fileIcon(path string) string {
	if icon, ok := extIcon[filepath.Ext(path)]; ok {
		return icon
	}
	return " "
}

// ── Spinner frames ────────────────────────────────────────────────────────────

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type spinTickMsg struct{}

func spinTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg { return spinTickMsg{} })
}

// ── Messages ─────────────────────────────────────────────────────────────────

type mode int

const (
	modeSearch mode = iota
	modeInfo
)

type focusField int

const (
	focusSemantic focusField = iota
	focusFuzzy
)

type (
	resultMsg   struct{ result *retriever.Result }
	errMsg      struct{ err error }
	debounceMsg struct {
		semantic string
		fuzzy    string
		id       int
	}
)

// ── Model ─────────────────────────────────────────────────────────────────────

// Model is the BubbleTea application model, wired to one retriever.Service.
type Model struct {
	svc *retriever.Service

	semantic textinput.Model
	fuzzy    textinput.Model
	focus    focusField

	result    *retriever.Result
	matches   []rules.SymbolInfo // flattened SemanticSymbols ++ FuzzySymbols for cursor nav
	cursor    int
	mode      mode
	err       error
	width     int
	height    int
	searching bool
	spinFrame int

	debounceID int
}

// New creates a new TUI model backed by svc.
func New(svc *retriever.Service) Model {
	semantic := textinput.New()
	semantic.Placeholder = "semantic query…"
	semantic.Focus()
	semantic.CharLimit = 256
	semantic.Width = 60
	semantic.PromptStyle = sAccent
	semantic.Prompt = "❯ "
	semantic.TextStyle = lipgloss.NewStyle().Foreground(colorText)

	fuzzy := textinput.New()
	fuzzy.Placeholder = "fuzzy name pattern…"
	fuzzy.CharLimit = 256
	fuzzy.Width = 60
	fuzzy.PromptStyle = sAccent
	fuzzy.Prompt = "⚲ "
	fuzzy.TextStyle = lipgloss.NewStyle().Foreground(colorText)

	return Model{svc: svc, semantic: semantic, fuzzy: fuzzy, mode: modeSearch}
}

// Init is the BubbleTea init hook.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, spinTick())
}

// Update processes messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.semantic.Width = m.width - 10
		m.fuzzy.Width = m.width - 10
		return m, nil

	case spinTickMsg:
		m.spinFrame = (m.spinFrame + 1) % len(spinnerFrames)
		return m, spinTick()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			return m, tea.Quit

		case "ctrl+i":
			if m.mode != modeInfo {
				m.mode = modeInfo
				m.semantic.Blur()
				m.fuzzy.Blur()
			} else {
				m.mode = modeSearch
				m.focusCurrent()
			}
			return m, nil

		case "esc":
			m.mode = modeSearch
			m.err = nil
			m.focusCurrent()
			return m, nil

		case "tab":
			if m.mode == modeSearch {
				if m.focus == focusSemantic {
					m.focus = focusFuzzy
				} else {
					m.focus = focusSemantic
				}
				m.focusCurrent()
			}
			return m, nil

		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "ctrl+n":
			if m.cursor < len(m.matches)-1 {
				m.cursor++
			}
			return m, nil

		case "enter":
			if m.mode == modeSearch && len(m.matches) > 0 {
				sym := m.matches[m.cursor]
				return m, openInEditor(sym.Path, sym.StartLine+1)
			}
			return m, nil
		}

	case debounceMsg:
		if msg.id == m.debounceID {
			if strings.TrimSpace(msg.semantic) == "" && strings.TrimSpace(msg.fuzzy) == "" {
				m.searching = false
				m.result = nil
				m.matches = nil
				return m, nil
			}
			m.searching = true
			return m, searchCmd(m.svc, msg.semantic, msg.fuzzy)
		}
		return m, nil

	case resultMsg:
		m.searching = false
		m.result = msg.result
		m.matches = append(append([]rules.SymbolInfo{}, msg.result.SemanticSymbols...), msg.result.FuzzySymbols...)
		m.cursor = 0
		m.err = nil
		return m, nil

	case errMsg:
		m.searching = false
		m.err = msg.err
		return m, nil
	}

	if m.mode == modeSearch {
		return m.updateInputs(msg)
	}
	return m, nil
}

func (m Model) focusCurrent() Model {
	if m.focus == focusSemantic {
		m.fuzzy.Blur()
		m.semantic.Focus()
	} else {
		m.semantic.Blur()
		m.fuzzy.Focus()
	}
	return m
}

func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	prevSemantic := m.semantic.Value()
	prevFuzzy := m.fuzzy.Value()

	var cmd tea.Cmd
	if m.focus == focusSemantic {
		m.semantic, cmd = m.semantic.Update(msg)
	} else {
		m.fuzzy, cmd = m.fuzzy.Update(msg)
	}

	if m.semantic.Value() != prevSemantic || m.fuzzy.Value() != prevFuzzy {
		m.debounceID++
		id := m.debounceID
		semantic, fuzzy := m.semantic.Value(), m.fuzzy.Value()
		return m, tea.Batch(cmd, debounceCmd(semantic, fuzzy, id, 280*time.Millisecond))
	}
	return m, cmd
}

// ── Views ─────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	if m.mode == modeInfo {
		return m.infoView()
	}
	return m.searchView()
}

func (m Model) searchView() string {
	var b strings.Builder
	w := m.width
	divider := sDivider.Render(strings.Repeat("─", clamp(w-2, 10, 200)))

	left := "  " + sTitle.Render("codelens") + "  " + sMuted.Render("code reuse search")
	right := sDim.Render(fmt.Sprintf("%d matches", len(m.matches)))
	fmt.Fprintln(&b, padBetween(left, right, w))

	fmt.Fprintln(&b, "  "+m.semantic.View())
	fmt.Fprintln(&b, "  "+m.fuzzy.View())
	fmt.Fprintln(&b, "  "+divider)

	switch {
	case m.err != nil:
		fmt.Fprintln(&b, sErr.Render("  error: "+m.err.Error()))
	case m.searching:
		frame := spinnerFrames[m.spinFrame]
		fmt.Fprintln(&b, "  "+sAccent.Render(frame)+"  "+sMuted.Render("searching…"))
	case m.result == nil:
		fmt.Fprintln(&b, "")
		fmt.Fprintln(&b, sMuted.Render("  type a semantic query or fuzzy name pattern (tab to switch)"))
		fmt.Fprintln(&b, sDim.Render("  rules.yml reloads on every search"))
	case len(m.matches) == 0:
		fmt.Fprintln(&b, "")
		fmt.Fprintln(&b, sMuted.Render("  no matching symbols"))
	default:
		bodyHeight := m.height - 8
		m.renderBody(&b, bodyHeight)
	}

	b.WriteString("\n  " + divider + "\n")
	m.renderStatusBar(&b)
	return b.String()
}

func (m *Model) renderBody(b *strings.Builder, maxRows int) {
	row := 0
	if m.result != nil {
		for _, rule := range m.result.SemanticRules {
			fmt.Fprintln(b, "  "+sBadge.Render("[semantic rule]")+" "+rule)
			row++
		}
		for _, rule := range m.result.FuzzyRules {
			fmt.Fprintln(b, "  "+sBadge.Render("[fuzzy rule]")+" "+rule)
			row++
		}
	}

	maxResults := maxRows - row
	if maxResults < 1 {
		maxResults = 1
	}

	for i, sym := range m.matches {
		if i >= maxResults {
			fmt.Fprintf(b, "  %s\n", sDim.Render(fmt.Sprintf("  … %d more matches", len(m.matches)-i)))
			break
		}

		dir := filepath.Dir(sym.Path)
		base := filepath.Base(sym.Path)
		icon := fileIcon(sym.Path)
		loc := fmt.Sprintf("%s:%d", base, sym.StartLine+1)
		pathStr := sDir.Render(dir+"/") + sPath.Render(loc)
		line := fmt.Sprintf("  %s  %s%s", sAccent.Render(sym.Name), icon, pathStr)

		if i == m.cursor {
			raw := sym.Name + "  " + dir + "/" + loc
			pad := clamp(m.width-len(raw)-5, 0, m.width)
			line = sSel.Render("  " + sAccent.Render(sym.Name) + "  " + icon + sDir.Render(dir+"/") + sPath.Render(loc) + strings.Repeat(" ", pad))
		}
		fmt.Fprintln(b, line)
	}
}

func (m *Model) renderStatusBar(b *strings.Builder) {
	var left string
	if len(m.matches) > 0 {
		left = sGreen.Render(fmt.Sprintf("  %d symbol", len(m.matches)))
		if len(m.matches) != 1 {
			left += sGreen.Render("s")
		}
	} else if m.err != nil {
		left = "  " + sErr.Render(m.err.Error())
	} else {
		left = sDim.Render("  no results")
	}

	right := sHint.Render("tab switch  ^i info  esc clear  ↑↓ nav  enter open  ^q quit  ")
	fmt.Fprint(b, padBetween(left, right, m.width))
}

func (m Model) infoView() string {
	var b strings.Builder
	w := clamp(m.width, 10, 200)
	divider := sDivider.Render(strings.Repeat("─", w-2))

	fmt.Fprintln(&b, "  "+sTitle.Render("codelens")+" "+sMuted.Render("— service info"))
	fmt.Fprintln(&b, "  "+divider)
	fmt.Fprintln(&b, "")

	row := func(label, value string) {
		fmt.Fprintf(&b, "  %-22s %s\n", sDim.Render(label), value)
	}
	ready := "waiting"
	if m.svc != nil && m.svc.FirstIndexScan != nil && m.svc.FirstIndexScan.Load() {
		ready = "ready"
	}
	row("index status", sAccent.Render(ready))
	if m.svc != nil {
		row("rules file", sMuted.Render(m.svc.RulesPath))
		row("search limit", sAccent.Render(fmt.Sprintf("%d", m.svc.SearchLimit)))
	}

	fmt.Fprintln(&b, "")
	fmt.Fprintln(&b, "  "+divider)
	fmt.Fprint(&b, sHint.Render("  esc back to search  ctrl+q quit"+strings.Repeat(" ", clamp(w-35, 0, 200))))
	return b.String()
}

// ── Commands ──────────────────────────────────────────────────────────────────

func debounceCmd(semantic, fuzzy string, id int, delay time.Duration) tea.Cmd {
	return func() tea.Msg {
		time.Sleep(delay)
		return debounceMsg{semantic: semantic, fuzzy: fuzzy, id: id}
	}
}

func searchCmd(svc *retriever.Service, semanticQuery, fuzzyPattern string) tea.Cmd {
	return func() tea.Msg {
		var semanticQueries, namePatterns []string
		if q := strings.TrimSpace(semanticQuery); q != "" {
			semanticQueries = []string{q}
		}
		if p := strings.TrimSpace(fuzzyPattern); p != "" {
			namePatterns = []string{p}
		}
		res, err := svc.CodeReuseSearch(context.Background(), retriever.Request{
			SemanticQueries: semanticQueries,
			NamePatterns:    namePatterns,
		})
		if err != nil {
			return errMsg{err}
		}
		return resultMsg{res}
	}
}

func openInEditor(path string, lineNum int) tea.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		for _, e := range []string{"nvim", "vim", "nano", "vi"} {
			if _, err := exec.LookPath(e); err == nil {
				editor = e
				break
			}
		}
	}

	args := []string{}
	baseEditor := filepath.Base(editor)
	if baseEditor == "nvim" || baseEditor == "vim" || baseEditor == "vi" || baseEditor == "nano" {
		if lineNum > 0 {
			args = append(args, fmt.Sprintf("+%d", lineNum))
		}
	} else if baseEditor == "code" {
		if lineNum > 0 {
			args = append(args, "--goto", fmt.Sprintf("%s:%d", path, lineNum))
			path = ""
		}
	}

	if path != "" {
		args = append(args, path)
	}

	c := exec.Command(editor, args...)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		if err != nil {
			return errMsg{err}
		}
		return nil
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// padBetween pads left and right strings to fill width.
func padBetween(left, right string, width int) string {
	lv := visibleLen(left)
	rv := visibleLen(right)
	gap := width - lv - rv - 2
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

// visibleLen estimates printable character count (strips common ANSI sequences).
func visibleLen(s string) int {
	n := 0
	inEsc := false
	for _, c := range s {
		if c == '\x1b' {
			inEsc = true
		}
		if inEsc {
			if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
				inEsc = false
			}
			continue
		}
		n++
	}
	return n
}
