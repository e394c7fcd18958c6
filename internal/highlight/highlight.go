package highlight

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

type Result struct {
	Text      string
	Count     int
	LineIndex []int
}

// ApplyANSI wraps every case-insensitive occurrence of query in rendered
// terminal text. Escape sequences are left intact and a match never spans one.
func ApplyANSI(input, query string, wrap func(string) string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Text: input}
	}
	if !strings.Contains(strings.ToLower(ansi.Strip(input)), strings.ToLower(query)) {
		return Result{Text: input}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	lines := strings.SplitAfter(input, "\n")
	var out strings.Builder
	lineMatches := make([]int, 0, 16)
	total := 0

	for lineNo, line := range lines {
		core, hasNewline := strings.CutSuffix(line, "\n")
		rendered, count := applyToANSIText(core, query, wrap)
		out.WriteString(rendered)
		if hasNewline {
			out.WriteByte('\n')
		}
		if count > 0 {
			lineMatches = append(lineMatches, lineNo)
			total += count
		}
	}

	return Result{
		Text:      out.String(),
		Count:     total,
		LineIndex: lineMatches,
	}
}

func applyToANSIText(s, query string, wrap func(string) string) (string, int) {
	indices := ansiCSI.FindAllStringIndex(s, -1)
	if len(indices) == 0 {
		return applyToPlain(s, query, wrap)
	}

	var out strings.Builder
	total := 0
	pos := 0
	for _, idx := range indices {
		if idx[0] > pos {
			plain, count := applyToPlain(s[pos:idx[0]], query, wrap)
			out.WriteString(plain)
			total += count
		}
		out.WriteString(s[idx[0]:idx[1]])
		pos = idx[1]
	}
	if pos < len(s) {
		plain, count := applyToPlain(s[pos:], query, wrap)
		out.WriteString(plain)
		total += count
	}
	return out.String(), total
}

func applyToPlain(s, query string, wrap func(string) string) (string, int) {
	if s == "" || query == "" {
		return s, 0
	}

	lower := strings.ToLower(s)
	q := strings.ToLower(query)
	if len(lower) != len(s) || !strings.Contains(lower, q) {
		return s, 0
	}

	var out strings.Builder
	count := 0
	start := 0
	for {
		rel := strings.Index(lower[start:], q)
		if rel < 0 {
			out.WriteString(s[start:])
			break
		}
		idx := start + rel
		out.WriteString(s[start:idx])
		end := idx + len(q)
		out.WriteString(wrap(s[idx:end]))
		count++
		start = end
	}
	return out.String(), count
}

// Cursor steps through the matched lines of a Result.
type Cursor struct {
	lines []int
	count int
	index int
}

func NewCursor(res Result) Cursor {
	if res.Count == 0 || len(res.LineIndex) == 0 {
		return Cursor{index: -1}
	}
	return Cursor{lines: append([]int(nil), res.LineIndex...), count: res.Count}
}

func (c Cursor) Empty() bool { return len(c.lines) == 0 }
func (c Cursor) Count() int { return c.count }
func (c Cursor) Position() int { return c.index + 1 }

// Line is the line of the current match, or -1.
func (c Cursor) Line() int {
	if c.Empty() || c.index < 0 {
		return -1
	}
	return c.lines[c.index]
}

// Step moves by delta matched lines, wrapping around at either end.
func (c Cursor) Step(delta int) Cursor {
	if c.Empty() {
		return c
	}
	n := len(c.lines)
	switch {
	case c.index < 0 || c.index >= n:
		c.index = 0
	case delta > 0:
		c.index = (c.index + 1) % n
	case delta < 0:
		c.index = (c.index - 1 + n) % n
	}
	return c
}

// Snippet returns the first line of rendered text containing query,
// truncated to width cells.
func Snippet(rendered, query string, width int) string {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, line := range strings.Split(ansi.Strip(rendered), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (q != "" && !strings.Contains(strings.ToLower(line), q)) {
			continue
		}
		if width > 0 {
			return ansi.Truncate(line, width, "…")
		}
		return line
	}
	return ""
}
