package content

import (
	"iter"
	"strings"
)

const (
	openMarker  = "<<<"
	closeMarker = ">>>"
)

type Kind int

const (
	KindText Kind = iota
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Segment is one piece of decoded message content. Text is set for text
// segments, Name for resource references.
type Segment struct {
	Kind Kind
	Text string
	Name string
}

func Text(s string) Segment { return Segment{Kind: KindText, Text: s} }
func Resource(name string) Segment { return Segment{Kind: KindResource, Name: name} }

// Decode splits content into text and resource segments. The sequence is
// computed lazily and can be ranged over any number of times.
func Decode(content string) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		pos := 0
		textStart := 0
		for pos < len(content) {
			start, end, name, ok := nextReference(content, pos)
			if !ok {
				break
			}
			if text := strings.TrimSpace(content[textStart:start]); text != "" {
				if !yield(Text(text)) {
					return
				}
			}
			if !yield(Resource(name)) {
				return
			}
			pos = end
			textStart = end
		}
		if text := strings.TrimSpace(content[textStart:]); text != "" {
			yield(Text(text))
		}
	}
}

// nextReference finds the leftmost well-formed <<<name>>> at or after pos.
// Names never contain '>' or an opening marker and must not be blank.
func nextReference(s string, pos int) (start, end int, name string, ok bool) {
	for pos < len(s) {
		rel := strings.Index(s[pos:], openMarker)
		if rel < 0 {
			return 0, 0, "", false
		}
		start = pos + rel
		nameStart := start + len(openMarker)
		nameEnd := nameStart
		for nameEnd < len(s) && s[nameEnd] != '>' {
			nameEnd++
		}
		if nameEnd > nameStart && strings.HasPrefix(s[nameEnd:], closeMarker) &&
			!strings.Contains(s[nameStart:nameEnd], openMarker) {
			if trimmed := strings.TrimSpace(s[nameStart:nameEnd]); trimmed != "" {
				return start, nameEnd + len(closeMarker), trimmed, true
			}
		}
		pos = start + 1
	}
	return 0, 0, "", false
}

// Segments collects Decode into a slice.
func Segments(content string) []Segment {
	var out []Segment
	for seg := range Decode(content) {
		out = append(out, seg)
	}
	return out
}

// References lists resource names in document order.
func References(content string) []string {
	var out []string
	for seg := range Decode(content) {
		if seg.Kind == KindResource {
			out = append(out, seg.Name)
		}
	}
	return out
}

// Render joins decoded segments with a blank line between them. The resource
// callback runs exactly once per reference, in document order. A nil text
// callback leaves text as is.
func Render(content string, text func(string) string, resource func(name string) string) string {
	if text == nil {
		text = func(s string) string { return s }
	}
	parts := make([]string, 0, 4)
	for seg := range Decode(content) {
		switch seg.Kind {
		case KindResource:
			if resource != nil {
				parts = append(parts, resource(seg.Name))
			}
		default:
			parts = append(parts, text(seg.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

// ChartKind guesses how a generated figure should be labelled from its file name.
func ChartKind(name string) string {
	if strings.Contains(strings.ToLower(name), "heat") {
		return "heatmap"
	}
	return "bar"
}
