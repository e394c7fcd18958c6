package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"analyst-chat/internal/backend"
	"analyst-chat/internal/clipboard"
	"analyst-chat/internal/config"
	"analyst-chat/internal/content"
	"analyst-chat/internal/export"
	"analyst-chat/internal/highlight"
	"analyst-chat/internal/index"
	"analyst-chat/internal/logging"
	"analyst-chat/internal/render"
	"analyst-chat/internal/session"
	"analyst-chat/internal/stream"
	"analyst-chat/internal/submit"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusSessions
	focusTranscript
)

type suggestion struct {
	Title  string
	Prompt string
}

var suggestions = []suggestion{
	{Title: "Sales Trend Analysis", Prompt: "Analyze the monthly sales trend from this dataset and identify seasonality."},
	{Title: "Customer Segmentation", Prompt: "Segment customers based on purchasing behavior and suggest marketing strategies."},
	{Title: "Data Cleaning", Prompt: "Check this file for missing values and anomalies, then summarize the columns."},
}

// Resources locates and probes generated figures.
type Resources interface {
	ResourceURL(sessionID, runID, name string) (string, error)
	ProbeResource(ctx context.Context, url string) (bool, error)
}

type Deps struct {
	Config    config.AppConfig
	Store     *session.Store
	Streams   *stream.Manager
	Submitter *submit.Orchestrator
	Resources Resources
	Indexer   *index.Indexer
	Exporter  *export.Exporter
}

type Model struct {
	ctx       context.Context
	cfg       config.AppConfig
	store     *session.Store
	streams   *stream.Manager
	submitter *submit.Orchestrator
	resources Resources
	indexer   *index.Indexer
	exporter  *export.Exporter

	list     list.Model
	viewport viewport.Model
	input    textarea.Model
	search   textinput.Model
	attach   textinput.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap

	width  int
	height int

	focus       focusArea
	searchMode  bool
	attachMode  bool
	searchQuery string
	attachments []string
	submitting  bool
	ticking     bool

	changes     *uint64
	seen        uint64
	shownID     string
	shownKey    string
	rendering   bool
	renderNonce int
	rendered    map[string]string
	highlighted map[string]highlight.Result
	cursor      highlight.Cursor
	figures     map[string]figure
	figureGen   int

	status string
	err    error
}

type submitResultMsg struct{ res submit.Result }
type streamOpenedMsg struct {
	conn *stream.Conn
	sub  stream.Subscription
	err  error
}
type streamFrameMsg struct {
	conn  *stream.Conn
	frame stream.Frame
	err   error
}
type probeMsg struct {
	ref   figureRef
	url   string
	found bool
	err   error
}
type renderMsg struct {
	sessionID string
	cacheKey  string
	rendered  string
	nonce     int
}
type sessionsMsg struct {
	sessions []index.Session
	snippets map[string]string
	err      error
}
type exportMsg struct {
	path string
	err  error
}
type copyMsg struct {
	what string
	err  error
}

type sessionItem struct {
	s       index.Session
	snippet string
	active  bool
}

func (i sessionItem) Title() string {
	title := i.s.Title
	if title == "" {
		title = session.DefaultTitle
	}
	title += " · " + shorten(i.s.ID, 12)
	if i.active {
		title = "● " + title
	}
	return title
}

func (i sessionItem) Description() string {
	meta := fmt.Sprintf("last %s | %d msgs", index.FormatUnix(i.s.LastActivityTS), i.s.MessageCount)
	switch {
	case i.snippet != "":
		return meta + " | " + i.snippet
	case i.s.Preview != "":
		return meta + " | " + i.s.Preview
	default:
		return meta
	}
}

func (i sessionItem) FilterValue() string {
	return strings.ToLower(i.s.ID + " " + i.s.Title + " " + i.s.Preview)
}

// NewModel wires the front end to the session core. The model registers
// itself as a store observer so any mutation triggers a redraw.
func NewModel(ctx context.Context, deps Deps) Model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 30, 20)
	l.Title = "Sessions"
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	vp := viewport.New(60, 20)

	ta := textarea.New()
	ta.Placeholder = "Ask a question about your data..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	search := textinput.New()
	search.Placeholder = "Search across sessions..."
	search.Prompt = "/ "
	search.CharLimit = 256

	attach := textinput.New()
	attach.Placeholder = "path/to/data.csv"
	attach.Prompt = "attach: "
	attach.CharLimit = 1024

	sp := spinner.New()
	sp.Spinner = spinner.Points

	h := help.New()
	h.ShowAll = false

	changes := new(uint64)
	deps.Store.Observe(session.ObserverFunc(func(session.Change) { *changes++ }))

	return Model{
		ctx:       ctx,
		cfg:       deps.Config,
		store:     deps.Store,
		streams:   deps.Streams,
		submitter: deps.Submitter,
		resources: deps.Resources,
		indexer:   deps.Indexer,
		exporter:  deps.Exporter,

		list:     l,
		viewport: vp,
		input:    ta,
		search:   search,
		attach:   attach,
		spinner:  sp,
		help:     h,
		keys:     defaultKeys(),

		focus:       focusInput,
		changes:     changes,
		rendered:    make(map[string]string),
		highlighted: make(map[string]highlight.Result),
		figures:     make(map[string]figure),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.sessionsCmd(""))
}

func (m Model) submitCmd(req submit.Request) tea.Cmd {
	ctx, orch := m.ctx, m.submitter
	return func() tea.Msg {
		return submitResultMsg{res: orch.Dispatch(ctx, req)}
	}
}

func (m Model) openCmd(conn *stream.Conn) tea.Cmd {
	streams := m.streams
	return func() tea.Msg {
		sub, err := streams.Open(conn)
		return streamOpenedMsg{conn: conn, sub: sub, err: err}
	}
}

func (m Model) receiveCmd(conn *stream.Conn) tea.Cmd {
	streams := m.streams
	return func() tea.Msg {
		f, err := streams.Receive(conn)
		return streamFrameMsg{conn: conn, frame: f, err: err}
	}
}

func (m Model) probeCmd(ref figureRef) tea.Cmd {
	ctx, res := m.ctx, m.resources
	return func() tea.Msg {
		u, err := res.ResourceURL(ref.SessionID, ref.RunID, ref.Name)
		if err != nil {
			return probeMsg{ref: ref, err: err}
		}
		found, err := res.ProbeResource(ctx, u)
		return probeMsg{ref: ref, url: u, found: found, err: err}
	}
}

// sessionsCmd lists sessions for the sessions pane. With a query, each hit
// carries the first matching line of its messages.
func (m Model) sessionsCmd(query string) tea.Cmd {
	idx := m.indexer
	return func() tea.Msg {
		sessions, err := idx.ListSessions(query, 200)
		if err != nil || strings.TrimSpace(query) == "" {
			return sessionsMsg{sessions: sessions, err: err}
		}
		snippets := make(map[string]string, len(sessions))
		for _, s := range sessions {
			msgs, err := idx.GetMessages(s.ID)
			if err != nil {
				continue
			}
			lines := make([]string, 0, len(msgs))
			for _, msg := range msgs {
				lines = append(lines, msg.Content)
			}
			snippets[s.ID] = highlight.Snippet(strings.Join(lines, "\n"), query, 60)
		}
		return sessionsMsg{sessions: sessions, snippets: snippets}
	}
}

func (m Model) exportCmd() tea.Cmd {
	s, ok := m.store.Active()
	if !ok {
		return nil
	}
	exp, resolve := m.exporter, m.resolver()
	return func() tea.Msg {
		path, err := exp.Export(s, resolve)
		return exportMsg{path: path, err: err}
	}
}

func (m Model) copyResponseCmd() tea.Cmd {
	s, ok := m.store.Active()
	if !ok {
		return nil
	}
	last, ok := s.LastAssistant()
	if !ok {
		return func() tea.Msg { return copyMsg{err: errors.New("no response to copy")} }
	}
	resolve := m.resolver()
	text := content.Render(last.Content, nil, func(name string) string {
		if u := resolve(s.ID, last.RunID, name); u != "" {
			return fmt.Sprintf("[%s](%s)", name, u)
		}
		return "[ Diagram Not Found: " + name + " ]"
	})
	return m.clipboardCmd("response", text)
}

func (m Model) copyFiguresCmd() tea.Cmd {
	s, ok := m.store.Active()
	if !ok {
		return nil
	}
	resolve := m.resolver()
	var urls []string
	for _, ref := range figureRefs(s) {
		if u := resolve(ref.SessionID, ref.RunID, ref.Name); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return func() tea.Msg { return copyMsg{err: errors.New("no figures in this session")} }
	}
	return m.clipboardCmd(fmt.Sprintf("%d figure url(s)", len(urls)), strings.Join(urls, "\n"))
}

func (m Model) clipboardCmd(what, text string) tea.Cmd {
	parent := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, 3*time.Second)
		defer cancel()
		return copyMsg{what: what, err: clipboard.Copy(ctx, text)}
	}
}

// resolver maps figure references to URLs, leaving out figures whose probe
// came back missing.
func (m Model) resolver() export.Resolver {
	figures := maps.Clone(m.figures)
	res := m.resources
	return func(sessionID, runID, name string) string {
		if f, ok := figures[figureRef{SessionID: sessionID, RunID: runID, Name: name}.key()]; ok {
			if f.Status == figureMissing {
				return ""
			}
			if f.URL != "" {
				return f.URL
			}
		}
		u, err := res.ResourceURL(sessionID, runID, name)
		if err != nil {
			return ""
		}
		return u
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case submitResultMsg:
		m.submitting = false
		conn, err := m.submitter.Complete(m.ctx, msg.res)
		if err != nil {
			m.err = err
			m.status = m.submitFailure(err)
			if msg.res.Request.SessionID == "" && strings.TrimSpace(m.input.Value()) == "" {
				m.input.SetValue(msg.res.Request.Prompt)
			}
			break
		}
		m.err = nil
		m.status = ""
		if conn != nil {
			cmds = append(cmds, m.openCmd(conn))
		}

	case streamOpenedMsg:
		if m.streams.Attach(msg.conn, msg.sub, msg.err) {
			cmds = append(cmds, m.receiveCmd(msg.conn))
		}

	case streamFrameMsg:
		if m.streams.Deliver(msg.conn, msg.frame, msg.err) {
			cmds = append(cmds, m.receiveCmd(msg.conn))
		}

	case probeMsg:
		f := figure{Name: msg.ref.Name, URL: msg.url, Status: figureMissing}
		switch {
		case msg.err != nil:
			logging.Warn(m.ctx, "figure probe failed",
				slog.String("session_id", msg.ref.SessionID),
				slog.String("name", msg.ref.Name),
				slog.String("error", msg.err.Error()))
		case msg.found:
			f.Status = figureFound
		}
		m.figures[msg.ref.key()] = f
		m.figureGen++

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.rendering = false
		if len(m.rendered) > 64 {
			clear(m.rendered)
			clear(m.highlighted)
		}
		m.rendered[msg.cacheKey] = msg.rendered
		if msg.sessionID == m.store.ActiveID() {
			m.setViewportFromRendered(msg.cacheKey, msg.rendered, false)
		}

	case sessionsMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Session query failed"
			break
		}
		m.applySessions(msg.sessions, msg.snippets)

	case exportMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.status = "Exported: " + msg.path
		}

	case copyMsg:
		switch {
		case errors.Is(msg.err, clipboard.ErrToolNotFound):
			m.err = msg.err
			m.status = "Could not copy: clipboard tool not found"
		case msg.err != nil:
			m.err = msg.err
			m.status = "Could not copy: " + msg.err.Error()
		default:
			m.status = "Copied " + msg.what + " to clipboard"
		}

	case spinner.TickMsg:
		if !m.busy() {
			m.ticking = false
			break
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		cmd, quit := m.handleKey(msg)
		if quit {
			return m, cmd
		}
		cmds = append(cmds, cmd)

	default:
		if m.focus == focusInput && !m.searchMode && !m.attachMode {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	cmds = append(cmds, m.sync())
	return m, tea.Batch(cmds...)
}

// sync reconciles the view with the store after every message: it refreshes
// the sessions pane on any change, probes new figures and re-renders the
// active transcript when its content, figures or width moved.
func (m *Model) sync() tea.Cmd {
	var cmds []tea.Cmd
	if m.busy() && !m.ticking {
		m.ticking = true
		cmds = append(cmds, m.spinner.Tick)
	}
	if *m.changes != m.seen {
		m.seen = *m.changes
		cmds = append(cmds, m.sessionsCmd(m.searchQuery))
	}

	s, ok := m.store.Active()
	if !ok {
		m.shownID, m.shownKey = "", ""
		m.cursor = highlight.Cursor{}
		return tea.Batch(cmds...)
	}
	if s.ID != m.shownID {
		m.shownID = s.ID
		m.viewport.SetContent("")
		m.viewport.GotoTop()
	}
	cmds = append(cmds, m.probeFigures(s))
	if cacheKey := m.renderCacheKey(s.ID); cacheKey != m.shownKey {
		cmds = append(cmds, m.renderActive(s, cacheKey))
	}
	return tea.Batch(cmds...)
}

func (m *Model) probeFigures(s session.Session) tea.Cmd {
	var cmds []tea.Cmd
	for _, ref := range figureRefs(s) {
		k := ref.key()
		if _, ok := m.figures[k]; ok {
			continue
		}
		m.figures[k] = figure{Name: ref.Name, Status: figurePending}
		cmds = append(cmds, m.probeCmd(ref))
	}
	return tea.Batch(cmds...)
}

func (m *Model) renderActive(s session.Session, cacheKey string) tea.Cmd {
	m.shownKey = cacheKey
	if rendered, ok := m.rendered[cacheKey]; ok {
		m.setViewportFromRendered(cacheKey, rendered, false)
		return nil
	}
	m.rendering = true
	m.renderNonce++
	nonce := m.renderNonce
	figures := maps.Clone(m.figures)
	opts := transcriptOptions{
		Width: m.viewport.Width - 2,
		Markdown: render.Options{
			Style:   m.cfg.GlamourStyle,
			NoColor: m.cfg.NoColor,
		},
	}
	return func() tea.Msg {
		return renderMsg{
			sessionID: s.ID,
			cacheKey:  cacheKey,
			rendered:  renderTranscript(s, figures, opts),
			nonce:     nonce,
		}
	}
}

func (m Model) renderCacheKey(sessionID string) string {
	return fmt.Sprintf("%s|v=%d|f=%d|w=%d", sessionID, m.seen, m.figureGen, m.viewport.Width)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.Type == tea.KeyCtrlC {
		return m.quit(), true
	}
	if m.searchMode {
		return m.handleSearchKey(msg), false
	}
	if m.attachMode {
		return m.handleAttachKey(msg), false
	}

	switch {
	case key.Matches(msg, m.keys.Tab):
		m.cycleFocus()
		return nil, false
	case key.Matches(msg, m.keys.NewChat):
		return m.newChat(), false
	case key.Matches(msg, m.keys.Attach):
		m.attachMode = true
		m.attach.SetValue("")
		return m.attach.Focus(), false
	case key.Matches(msg, m.keys.ClearFiles):
		if len(m.attachments) > 0 {
			m.attachments = nil
			m.status = "Attachments cleared"
		}
		return nil, false
	case key.Matches(msg, m.keys.Suggestion):
		m.useSuggestion(msg.String())
		return nil, false
	}

	if m.focus == focusInput {
		switch {
		case key.Matches(msg, m.keys.Send):
			return m.send(), false
		case key.Matches(msg, m.keys.Esc):
			m.setFocus(focusTranscript)
			return nil, false
		case msg.Type == tea.KeyBackspace && m.input.Value() == "" && len(m.attachments) > 0:
			removed := m.attachments[len(m.attachments)-1]
			m.attachments = submit.RemoveFile(m.attachments, len(m.attachments)-1)
			m.status = "Removed " + filepath.Base(removed)
			return nil, false
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return cmd, false
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit(), true
	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.search.SetValue(m.searchQuery)
		m.search.CursorEnd()
		return m.search.Focus(), false
	case key.Matches(msg, m.keys.Esc):
		if m.searchQuery != "" {
			m.searchQuery = ""
			m.refreshViewportFromCache()
			return m.sessionsCmd(""), false
		}
		m.setFocus(focusInput)
		return nil, false
	case key.Matches(msg, m.keys.Export):
		return m.exportCmd(), false
	case key.Matches(msg, m.keys.Copy), key.Matches(msg, m.keys.CopyFigures):
		if !clipboard.Available() {
			m.status = "Could not copy: clipboard not available"
			return nil, false
		}
		if key.Matches(msg, m.keys.Copy) {
			return m.copyResponseCmd(), false
		}
		return m.copyFiguresCmd(), false
	}

	if m.focus == focusSessions {
		if key.Matches(msg, m.keys.Send) {
			if item, ok := m.list.SelectedItem().(sessionItem); ok {
				m.selectSession(item.s.ID)
			}
			return nil, false
		}
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return cmd, false
	}

	switch {
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
	case key.Matches(msg, m.keys.NextMatch):
		m.jumpToMatch(1)
	case key.Matches(msg, m.keys.PrevMatch):
		m.jumpToMatch(-1)
	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
	}
	return nil, false
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		m.searchMode = false
		m.searchQuery = ""
		m.search.SetValue("")
		m.search.Blur()
		m.refreshViewportFromCache()
		return m.sessionsCmd("")
	case tea.KeyEnter:
		m.searchMode = false
		m.search.Blur()
		m.searchQuery = strings.TrimSpace(m.search.Value())
		m.refreshViewportFromCache()
		return m.sessionsCmd(m.searchQuery)
	}
	before := strings.TrimSpace(m.search.Value())
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	after := strings.TrimSpace(m.search.Value())
	if after == before {
		return cmd
	}
	m.searchQuery = after
	m.refreshViewportFromCache()
	return tea.Batch(cmd, m.sessionsCmd(after))
}

func (m *Model) handleAttachKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		m.attachMode = false
		m.attach.Blur()
		return nil
	case tea.KeyEnter:
		m.attachMode = false
		m.attach.Blur()
		m.addAttachment(m.attach.Value())
		return nil
	}
	var cmd tea.Cmd
	m.attach, cmd = m.attach.Update(msg)
	return cmd
}

func (m *Model) addAttachment(raw string) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		m.status = "Cannot attach: " + err.Error()
		return
	case info.IsDir():
		m.status = "Cannot attach a directory: " + path
		return
	}
	kept, notice := submit.AttachFiles(m.attachments, []string{path}, m.submitter.MaxFiles())
	m.attachments = kept
	if notice != "" {
		m.status = string(notice)
		return
	}
	m.status = "Attached " + filepath.Base(path)
}

func (m *Model) useSuggestion(k string) {
	if m.store.ActiveID() != "" {
		return
	}
	n := int(k[len(k)-1] - '1')
	if n < 0 || n >= len(suggestions) {
		return
	}
	m.input.SetValue(suggestions[n].Prompt)
	m.input.CursorEnd()
	m.setFocus(focusInput)
}

// send hands the prompt and attachments to the orchestrator. A session whose
// stream is still live does not take another message.
func (m *Model) send() tea.Cmd {
	if m.submitting {
		m.status = "Still sending the previous message..."
		return nil
	}
	active := m.store.ActiveID()
	if active != "" && m.streams.State(active).Live() {
		m.status = "Wait for the current analysis to finish."
		return nil
	}

	files := make([]backend.File, 0, len(m.attachments))
	for _, p := range m.attachments {
		files = append(files, backend.FileFromPath(p))
	}
	req := submit.Request{
		Prompt:    strings.TrimSpace(m.input.Value()),
		Files:     files,
		SessionID: active,
	}
	if err := m.submitter.Validate(req); err != nil {
		m.status = m.submitFailure(err)
		return nil
	}

	m.submitting = true
	m.err = nil
	m.status = ""
	m.input.Reset()
	m.attachments = nil
	return m.submitCmd(req)
}

func (m Model) submitFailure(err error) string {
	switch {
	case errors.Is(err, submit.ErrMissingPrompt):
		return "Type a question first."
	case errors.Is(err, submit.ErrTooManyFiles):
		return fmt.Sprintf("You can only upload a maximum of %d files.", m.submitter.MaxFiles())
	default:
		return submit.FailureText(err)
	}
}

func (m *Model) selectSession(id string) {
	prev := m.store.ActiveID()
	if prev == id {
		m.setFocus(focusTranscript)
		return
	}
	if err := m.store.Activate(id); err != nil {
		m.err = err
		m.status = "Session not found"
		return
	}
	if prev != "" {
		m.streams.Close(prev)
	}
	m.attachments = nil
	m.setFocus(focusInput)
}

func (m *Model) newChat() tea.Cmd {
	if prev := m.store.ActiveID(); prev != "" {
		m.streams.Close(prev)
	}
	m.store.Deactivate()
	m.input.Reset()
	m.attachments = nil
	m.status = ""
	m.err = nil
	m.setFocus(focusInput)
	return m.sessionsCmd(m.searchQuery)
}

func (m *Model) quit() tea.Cmd {
	m.streams.CloseAll()
	m.store.Reset()
	return tea.Quit
}

func (m Model) busy() bool {
	if m.submitting {
		return true
	}
	active := m.store.ActiveID()
	return active != "" && m.streams.State(active).Live()
}

func (m *Model) cycleFocus() {
	next := (m.focus + 1) % 3
	if next == focusTranscript && m.store.ActiveID() == "" {
		next = focusInput
	}
	m.setFocus(next)
}

func (m *Model) setFocus(f focusArea) {
	m.focus = f
	if f == focusInput {
		m.input.Focus()
		return
	}
	m.input.Blur()
}

func (m *Model) applySessions(in []index.Session, snippets map[string]string) {
	active := m.store.ActiveID()
	items := make([]list.Item, 0, len(in))
	selectIdx := m.list.Index()
	for i, s := range in {
		items = append(items, sessionItem{s: s, snippet: snippets[s.ID], active: s.ID == active})
		if s.ID == active {
			selectIdx = i
		}
	}
	m.list.SetItems(items)
	if selectIdx >= len(items) {
		selectIdx = len(items) - 1
	}
	if selectIdx >= 0 {
		m.list.Select(selectIdx)
	}
}

func (m *Model) refreshViewportFromCache() {
	rendered, ok := m.rendered[m.shownKey]
	if !ok {
		m.cursor = highlight.Cursor{}
		return
	}
	m.setViewportFromRendered(m.shownKey, rendered, true)
}

// setViewportFromRendered shows a rendered transcript, highlighting the
// current search. The view sticks to the bottom while it is already there,
// or jumps to the first match when jump is set.
func (m *Model) setViewportFromRendered(cacheKey, rendered string, jump bool) {
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	text := rendered
	m.cursor = highlight.Cursor{}
	if query := strings.TrimSpace(m.searchQuery); query != "" {
		hKey := cacheKey + "|q=" + strings.ToLower(query)
		res, ok := m.highlighted[hKey]
		if !ok {
			res = highlight.ApplyANSI(rendered, query, func(s string) string {
				return searchMatchStyle.Render(s)
			})
			m.highlighted[hKey] = res
		}
		text = res.Text
		m.cursor = highlight.NewCursor(res)
	}

	m.viewport.SetContent(text)
	switch {
	case jump && !m.cursor.Empty():
		m.viewport.SetYOffset(m.clampViewportOffset(m.cursor.Line()))
	case follow:
		m.viewport.GotoBottom()
	}
}

func (m *Model) jumpToMatch(delta int) {
	if m.cursor.Empty() {
		m.status = "No search matches in transcript"
		return
	}
	m.cursor = m.cursor.Step(delta)
	m.viewport.SetYOffset(m.clampViewportOffset(m.cursor.Line()))
	m.status = fmt.Sprintf("Match %d/%d", m.cursor.Position(), m.cursor.Count())
}

func (m *Model) clampViewportOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}
