package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"analyst-chat/internal/content"
	"analyst-chat/internal/render"
	"analyst-chat/internal/session"
)

type figureStatus int

const (
	figurePending figureStatus = iota
	figureFound
	figureMissing
)

// figure is what the transcript knows about one resource reference.
type figure struct {
	Name   string
	URL    string
	Status figureStatus
}

// figureRef locates a resource reference inside a session.
type figureRef struct {
	SessionID string
	RunID     string
	Name      string
}

func (r figureRef) key() string {
	return r.SessionID + "/" + r.RunID + "/" + r.Name
}

// figureRefs lists every resource reference of the session's assistant
// messages in document order.
func figureRefs(s session.Session) []figureRef {
	var refs []figureRef
	for _, m := range s.Messages {
		if m.Role != session.RoleAssistant {
			continue
		}
		for _, name := range content.References(m.Content) {
			refs = append(refs, figureRef{SessionID: s.ID, RunID: m.RunID, Name: name})
		}
	}
	return refs
}

type transcriptOptions struct {
	Width    int
	Markdown render.Options
}

// renderTranscript draws the whole message log. Assistant content is decoded
// on every call; figures missing from the map render as pending.
func renderTranscript(s session.Session, figures map[string]figure, opts transcriptOptions) string {
	width := opts.Width
	if width < 20 {
		width = 20
	}
	md := opts.Markdown
	md.Width = width

	blocks := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		switch m.Role {
		case session.RoleUser:
			blocks = append(blocks, renderUserMessage(m, width))
		case session.RoleAssistant:
			body := content.Render(m.Content,
				func(text string) string { return render.Markdown(text, md) },
				func(name string) string {
					ref := figureRef{SessionID: s.ID, RunID: m.RunID, Name: name}
					f, ok := figures[ref.key()]
					if !ok {
						f = figure{Name: name, Status: figurePending}
					}
					return renderFigureCard(f, width)
				})
			if strings.TrimSpace(body) == "" {
				continue
			}
			blocks = append(blocks, assistantLabelStyle.Render("Analyst")+"\n"+body)
		}
	}
	if len(blocks) == 0 {
		return emptyTranscriptStyle.Render("No messages yet.")
	}
	return strings.Join(blocks, "\n\n")
}

func renderUserMessage(m session.Message, width int) string {
	inner := width - 4
	if inner < 10 {
		inner = 10
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(wordwrap.String(strings.TrimSpace(m.Content), inner), "\n"))
	if len(m.FileNames) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(attachmentStyle.Render("files: " + strings.Join(m.FileNames, ", ")))
	}
	return userLabelStyle.Render("You") + "\n" + userBubbleStyle.Width(inner).Render(b.String())
}

func renderFigureCard(f figure, width int) string {
	inner := width - 4
	if inner < 10 {
		inner = 10
	}
	switch f.Status {
	case figureMissing:
		return missingFigureStyle.Render("[ Diagram Not Found: " + f.Name + " ]")
	case figureFound:
		title := fmt.Sprintf("%s chart · %s", content.ChartKind(f.Name), f.Name)
		body := title + "\n" + strings.TrimRight(wordwrap.String(f.URL, inner), "\n")
		return figureCardStyle.Width(inner).Render(body)
	default:
		return pendingFigureStyle.Render("loading figure " + f.Name + "…")
	}
}

var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("42"))
	userBubbleStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	attachmentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)
	figureCardStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	missingFigureStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("203"))
	pendingFigureStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244")).
				Italic(true)
	emptyTranscriptStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))
)
