package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const inputHeight = 3

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	left, right := m.paneWidths()

	m.list.SetSize(left-2, m.bodyHeight()-2)
	m.viewport.Width = right - 4
	m.viewport.Height = m.bodyHeight() - 2
	m.input.SetWidth(m.width - 4)
	m.search.Width = m.width - 4
	m.attach.Width = m.width - 12
	m.help.Width = m.width
}

// bodyHeight is what is left for the panes once the status line, thinking
// line, attachment chips, input box and help are laid out.
func (m Model) bodyHeight() int {
	h := m.height - 1 - 1 - 1 - (inputHeight + 2) - 1
	if h < 6 {
		h = 6
	}
	return h
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	left, right := m.paneWidths()
	height := m.bodyHeight()

	var main string
	if m.store.ActiveID() == "" {
		main = m.landingView(right-4, height-2)
	} else {
		main = m.viewport.View()
	}
	leftPane := panelStyle(m.focus == focusSessions).Width(left).Height(height).Render(m.list.View())
	rightPane := panelStyle(m.focus == focusTranscript).Width(right).Height(height).Render(main)
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	var bottom string
	switch {
	case m.searchMode:
		bottom = m.search.View()
	case m.attachMode:
		bottom = m.attach.View()
	default:
		bottom = inputStyle(m.focus == focusInput).Render(m.input.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		body,
		m.thinkingLine(),
		m.attachmentChips(),
		bottom,
		m.help.View(m.keys),
	)
}

func (m Model) landingView(width, height int) string {
	var b strings.Builder
	b.WriteString(landingTitleStyle.Render("AI Data Analyst"))
	b.WriteString("\n")
	b.WriteString(landingSubtitleStyle.Render("Attach a dataset and ask a question to get started."))
	b.WriteString("\n\n")
	for i, s := range suggestions {
		card := fmt.Sprintf("%s\n%s", suggestionTitleStyle.Render(fmt.Sprintf("alt+%d  %s", i+1, s.Title)), s.Prompt)
		b.WriteString(suggestionStyle.Width(min(width-4, 72)).Render(card))
		b.WriteString("\n")
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, b.String())
}

func (m Model) thinkingLine() string {
	if !m.busy() {
		return ""
	}
	text := "Sending..."
	if !m.submitting {
		text = m.streams.Status(m.store.ActiveID())
		if text == "" {
			text = "Thinking..."
		}
	}
	return thinkingStyle.Render(m.spinner.View() + " " + text)
}

func (m Model) attachmentChips() string {
	if len(m.attachments) == 0 {
		return ""
	}
	chips := make([]string, 0, len(m.attachments)+1)
	for _, p := range m.attachments {
		chips = append(chips, chipStyle.Render(filepath.Base(p)))
	}
	chips = append(chips, fmt.Sprintf("%d/%d", len(m.attachments), m.submitter.MaxFiles()))
	return strings.Join(chips, " ")
}

func (m Model) statusLine() string {
	status := "new chat"
	if s, ok := m.store.Active(); ok {
		status = fmt.Sprintf("session=%s  messages=%d  stream=%s",
			shorten(s.ID, 18),
			s.Len(),
			m.streams.State(s.ID))
	}
	if m.searchQuery != "" || m.searchMode {
		status += "  [search]"
		if strings.TrimSpace(m.searchQuery) != "" {
			if !m.cursor.Empty() {
				status += fmt.Sprintf("  [match %d/%d]", m.cursor.Position(), m.cursor.Count())
			} else {
				status += "  [match 0]"
			}
		}
	}
	if m.rendering {
		status += "  [rendering]"
	}
	if strings.TrimSpace(m.status) != "" {
		status += "  " + shorten(strings.TrimSpace(m.status), 80)
	}
	if m.err != nil {
		status += "  err=" + shorten(m.err.Error(), 60)
	}
	return statusStyle.Render(status)
}

func (m Model) paneWidths() (int, int) {
	left := m.width / 4
	if left < 28 {
		left = 28
	}
	if left > m.width-40 {
		left = m.width - 40
	}
	if left < 20 {
		left = 20
	}
	right := m.width - left - 1
	if right < 20 {
		right = 20
	}
	return left, right
}

// shorten truncates s to n terminal cells.
func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if runewidth.StringWidth(s) <= n {
		return s
	}
	if n <= 3 {
		return runewidth.Truncate(s, n, "")
	}
	return runewidth.Truncate(s, n, "...")
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	searchMatchStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("16")).
				Background(lipgloss.Color("220"))
	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
	chipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("60")).
			Padding(0, 1)
	landingTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))
	landingSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))
	suggestionTitleStyle = lipgloss.NewStyle().
				Bold(true)
	suggestionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func panelStyle(active bool) lipgloss.Style {
	color := lipgloss.Color("240")
	if active {
		color = lipgloss.Color("39")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true).
		BorderForeground(color).
		Padding(0, 1)
}

func inputStyle(active bool) lipgloss.Style {
	color := lipgloss.Color("240")
	if active {
		color = lipgloss.Color("42")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder(), true).
		BorderForeground(color)
}
