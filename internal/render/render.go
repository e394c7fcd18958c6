package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

const noColorStyle = "notty"

var (
	renderers   = map[string]*glamour.TermRenderer{}
	renderersMu sync.Mutex
)

// Options controls markdown rendering behaviour.
type Options struct {
	Style   string
	NoColor bool
	Width   int
}

func (o Options) key() string {
	return fmt.Sprintf("%s|%t|%d", o.Style, o.NoColor, o.Width)
}

// Markdown renders md for the terminal. Rendering failures fall back to the
// raw markdown.
func Markdown(md string, opts Options) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	r, err := renderer(opts)
	if err != nil {
		return md
	}

	renderersMu.Lock()
	out, err := r.Render(md)
	renderersMu.Unlock()
	if err != nil {
		return md
	}
	return normalizeSpacing(out)
}

func normalizeSpacing(s string) string {
	trimmed := strings.Trim(s, "\n")
	if strings.TrimSpace(trimmed) == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.Join(lines, "\n")
}

func renderer(opts Options) (*glamour.TermRenderer, error) {
	renderersMu.Lock()
	defer renderersMu.Unlock()

	k := opts.key()
	if r, ok := renderers[k]; ok {
		return r, nil
	}
	r, err := newRenderer(opts)
	if err != nil {
		return nil, err
	}
	renderers[k] = r
	return r, nil
}

func newRenderer(opts Options) (*glamour.TermRenderer, error) {
	options := []glamour.TermRendererOption{}
	if opts.NoColor {
		options = append(options,
			glamour.WithStandardStyle(noColorStyle),
			glamour.WithColorProfile(termenv.Ascii),
		)
	} else {
		style := strings.TrimSpace(opts.Style)
		if style == "" || style == "auto" {
			options = append(options, glamour.WithAutoStyle())
		} else {
			options = append(options, glamour.WithStandardStyle(style))
		}
		options = append(options, glamour.WithColorProfile(termenv.TrueColor))
	}
	if opts.Width > 0 {
		options = append(options, glamour.WithWordWrap(opts.Width))
	}
	return glamour.NewTermRenderer(options...)
}
