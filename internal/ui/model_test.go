package ui

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"analyst-chat/internal/backend"
	"analyst-chat/internal/config"
	"analyst-chat/internal/export"
	"analyst-chat/internal/index"
	"analyst-chat/internal/session"
	"analyst-chat/internal/stream"
	"analyst-chat/internal/submit"
)

type fakeBackend struct {
	calls   []backend.Submission
	receipt backend.Receipt
	err     error
}

func (b *fakeBackend) Submit(_ context.Context, sub backend.Submission) (backend.Receipt, error) {
	b.calls = append(b.calls, sub)
	return b.receipt, b.err
}

type scriptedSub struct {
	frames []string
}

func (s *scriptedSub) Next(ctx context.Context) (stream.Frame, error) {
	if err := ctx.Err(); err != nil {
		return stream.Frame{}, err
	}
	if len(s.frames) == 0 {
		return stream.Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return stream.Frame{Data: f}, nil
}

func (s *scriptedSub) Close() error { return nil }

type scriptedTransport struct {
	frames []string
	opened []string
}

func (t *scriptedTransport) Open(_ context.Context, sessionID string) (stream.Subscription, error) {
	t.opened = append(t.opened, sessionID)
	return &scriptedSub{frames: append([]string(nil), t.frames...)}, nil
}

type fakeResources struct {
	found  bool
	probed []string
}

func (r *fakeResources) ResourceURL(sessionID, runID, name string) (string, error) {
	if sessionID == "" || runID == "" || name == "" {
		return "", errors.New("incomplete reference")
	}
	return "http://backend/api/v1/process/storage/" + sessionID + "/" + runID + "/" + name, nil
}

func (r *fakeResources) ProbeResource(_ context.Context, url string) (bool, error) {
	r.probed = append(r.probed, url)
	return r.found, nil
}

type harness struct {
	store     *session.Store
	streams   *stream.Manager
	backend   *fakeBackend
	transport *scriptedTransport
	resources *fakeResources
}

func newTestModel(t *testing.T, frames ...string) (Model, *harness) {
	t.Helper()
	ctx := context.Background()

	idx, err := index.New(ctx)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	exp, err := export.New(t.TempDir())
	if err != nil {
		t.Fatalf("exporter: %v", err)
	}

	h := &harness{
		store:     session.NewStore(session.Options{}),
		backend:   &fakeBackend{receipt: backend.Receipt{SessionID: "s1"}},
		transport: &scriptedTransport{frames: frames},
		resources: &fakeResources{},
	}
	h.streams = stream.NewManager(h.transport, h.store, stream.Options{})
	h.store.Observe(idx)
	h.store.Observe(h.streams)

	m := NewModel(ctx, Deps{
		Config:    config.AppConfig{GlamourStyle: "dark", NoColor: true, MaxFiles: 3},
		Store:     h.store,
		Streams:   h.streams,
		Submitter: submit.New(h.backend, h.store, h.streams, submit.Options{}),
		Resources: h.resources,
		Indexer:   idx,
		Exporter:  exp,
	})
	m = drive(t, m, tea.WindowSizeMsg{Width: 140, Height: 50})
	return m, h
}

// drive feeds msg to the model and then every message its commands produce,
// skipping spinner ticks so nothing sleeps.
func drive(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	queue := []tea.Msg{msg}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 500 {
			t.Fatalf("model did not settle")
		}
		next := queue[0]
		queue = queue[1:]
		if _, ok := next.(spinner.TickMsg); ok {
			continue
		}
		if _, ok := next.(tea.QuitMsg); ok {
			continue
		}
		updated, cmd := m.Update(next)
		m = updated.(Model)
		queue = append(queue, collect(cmd)...)
	}
	return m
}

func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func send(t *testing.T, m Model, prompt string) Model {
	t.Helper()
	m.input.SetValue(prompt)
	cmd := m.send()
	if cmd == nil {
		t.Fatalf("send produced no command, status=%q", m.status)
	}
	for _, msg := range collect(cmd) {
		m = drive(t, m, msg)
	}
	return m
}

func writeTempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSendCreatesSessionStreamsAndRenders(t *testing.T) {
	m, h := newTestModel(t,
		`{"type":"progress","message":"Initiating"}`,
		`{"type":"response","message":{"text":"See <<<chart.png>>> above","run_id":"r1"}}`,
		stream.Sentinel,
	)
	m.addAttachment(writeTempFile(t, "data.csv"))
	if len(m.attachments) != 1 {
		t.Fatalf("attachment not added: %q", m.status)
	}

	m = send(t, m, "trend?")

	if len(h.backend.calls) != 1 {
		t.Fatalf("expected one submission, got %d", len(h.backend.calls))
	}
	call := h.backend.calls[0]
	if call.Prompt != "trend?" || call.SessionID != "" || len(call.Files) != 1 || call.Files[0].Name != "data.csv" {
		t.Fatalf("unexpected submission: %+v", call)
	}
	if h.store.ActiveID() != "s1" {
		t.Fatalf("active session: got=%q want=s1", h.store.ActiveID())
	}
	s, _ := h.store.Get("s1")
	if len(s.Messages) != 2 {
		t.Fatalf("messages: got=%d want=2", len(s.Messages))
	}
	if s.Messages[0].Role != session.RoleUser || s.Messages[0].FileNames[0] != "data.csv" {
		t.Fatalf("unexpected user message: %+v", s.Messages[0])
	}
	if s.Messages[1].Content != "See <<<chart.png>>> above" || s.Messages[1].RunID != "r1" {
		t.Fatalf("unexpected assistant message: %+v", s.Messages[1])
	}
	if got := h.streams.State("s1"); got != stream.Closed {
		t.Fatalf("stream state: got=%s want=closed", got)
	}
	if len(m.attachments) != 0 || m.input.Value() != "" {
		t.Fatalf("composer not cleared: files=%v input=%q", m.attachments, m.input.Value())
	}

	if len(h.resources.probed) != 1 || !strings.HasSuffix(h.resources.probed[0], "/s1/r1/chart.png") {
		t.Fatalf("unexpected probes: %v", h.resources.probed)
	}
	rendered := m.rendered[m.shownKey]
	if !strings.Contains(rendered, "[ Diagram Not Found: chart.png ]") {
		t.Fatalf("expected missing figure placeholder, got:\n%s", rendered)
	}
	if len(m.list.Items()) != 1 {
		t.Fatalf("sessions pane: got=%d items want=1", len(m.list.Items()))
	}
}

func TestFoundFigureRendersCard(t *testing.T) {
	m, h := newTestModel(t,
		`{"type":"response","message":{"text":"See <<<chart.png>>> above","run_id":"r1"}}`,
		stream.Sentinel,
	)
	h.resources.found = true

	m = send(t, m, "trend?")

	rendered := m.rendered[m.shownKey]
	if !strings.Contains(rendered, "bar chart · chart.png") {
		t.Fatalf("expected figure card, got:\n%s", rendered)
	}
	if strings.Contains(rendered, "Diagram Not Found") {
		t.Fatalf("unexpected placeholder:\n%s", rendered)
	}
}

func TestFollowUpUsesActiveSession(t *testing.T) {
	m, h := newTestModel(t,
		`{"type":"response","message":{"text":"Done","run_id":"r1"}}`,
		stream.Sentinel,
	)
	m = send(t, m, "trend?")
	m = send(t, m, "and by region?")

	if len(h.backend.calls) != 2 || h.backend.calls[1].SessionID != "s1" {
		t.Fatalf("follow-up not tied to session: %+v", h.backend.calls)
	}
	s, _ := h.store.Get("s1")
	if len(s.Messages) != 4 {
		t.Fatalf("messages: got=%d want=4", len(s.Messages))
	}
	if len(h.transport.opened) != 2 {
		t.Fatalf("opened streams: got=%v", h.transport.opened)
	}
}

func TestSendBlockedWhileStreamLive(t *testing.T) {
	m, h := newTestModel(t)
	if _, err := h.store.Create("s1", session.DefaultTitle, session.UserMessage("trend?", nil)); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = h.store.Activate("s1")
	if _, ok := h.streams.Subscribe(context.Background(), "s1"); !ok {
		t.Fatalf("subscribe failed")
	}

	m.input.SetValue("again?")
	if cmd := m.send(); cmd != nil {
		t.Fatalf("expected send to be refused while streaming")
	}
	if !strings.Contains(m.status, "Wait for the current analysis") {
		t.Fatalf("unexpected status: %q", m.status)
	}
	if len(h.backend.calls) != 0 {
		t.Fatalf("backend called while streaming")
	}
}

func TestSendValidatesPrompt(t *testing.T) {
	m, h := newTestModel(t)
	m.input.SetValue("   ")
	if cmd := m.send(); cmd != nil {
		t.Fatalf("expected empty prompt to be rejected")
	}
	if m.status != "Type a question first." {
		t.Fatalf("unexpected status: %q", m.status)
	}
	if len(h.backend.calls) != 0 {
		t.Fatalf("backend called for empty prompt")
	}
}

func TestFailedFirstSubmissionKeepsPrompt(t *testing.T) {
	m, h := newTestModel(t)
	h.backend.err = &backend.APIError{Status: 500, Detail: "Backend server error", Reason: "boom"}

	m = send(t, m, "trend?")

	if h.store.Len() != 0 {
		t.Fatalf("no session should be created on failure")
	}
	if m.input.Value() != "trend?" {
		t.Fatalf("prompt not restored: %q", m.input.Value())
	}
	if !strings.HasPrefix(m.status, "Error: Backend server error") {
		t.Fatalf("unexpected status: %q", m.status)
	}
}

func TestAttachmentCap(t *testing.T) {
	m, _ := newTestModel(t)
	for _, name := range []string{"a.csv", "b.csv", "c.csv", "d.csv"} {
		m.addAttachment(writeTempFile(t, name))
	}
	if len(m.attachments) != 3 {
		t.Fatalf("attachments: got=%d want=3", len(m.attachments))
	}
	if m.status != "You can only upload a maximum of 3 files." {
		t.Fatalf("unexpected notice: %q", m.status)
	}

	m.addAttachment(filepath.Join(t.TempDir(), "missing.csv"))
	if !strings.HasPrefix(m.status, "Cannot attach") {
		t.Fatalf("unexpected status for missing file: %q", m.status)
	}

	m = drive(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	if len(m.attachments) != 2 {
		t.Fatalf("backspace on empty input should drop last attachment, got %d", len(m.attachments))
	}
	m = drive(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	if len(m.attachments) != 0 {
		t.Fatalf("ctrl+x should clear attachments")
	}
}

func TestSuggestionFillsInputOnLanding(t *testing.T) {
	m, _ := newTestModel(t)
	m = drive(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}, Alt: true})
	if m.input.Value() != suggestions[1].Prompt {
		t.Fatalf("unexpected input: %q", m.input.Value())
	}
	if !strings.Contains(m.View(), "AI Data Analyst") {
		t.Fatalf("landing view missing title")
	}
}

func TestSwitchingSessionClosesPreviousStream(t *testing.T) {
	m, h := newTestModel(t)
	for _, id := range []string{"s1", "s2"} {
		if _, err := h.store.Create(id, session.DefaultTitle, session.UserMessage("q "+id, nil)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	_ = h.store.Activate("s1")
	if _, ok := h.streams.Subscribe(context.Background(), "s1"); !ok {
		t.Fatalf("subscribe failed")
	}

	m.selectSession("s2")

	if h.store.ActiveID() != "s2" {
		t.Fatalf("active: got=%q want=s2", h.store.ActiveID())
	}
	if got := h.streams.State("s1"); got != stream.Closed {
		t.Fatalf("previous stream: got=%s want=closed", got)
	}
}

func TestNewChatReturnsToLanding(t *testing.T) {
	m, h := newTestModel(t)
	if _, err := h.store.Create("s1", session.DefaultTitle); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = h.store.Activate("s1")
	h.streams.Subscribe(context.Background(), "s1")

	m = drive(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})

	if h.store.ActiveID() != "" {
		t.Fatalf("expected no active session, got %q", h.store.ActiveID())
	}
	if h.streams.Live() != 0 {
		t.Fatalf("expected stream to be closed")
	}
	if _, ok := h.store.Get("s1"); !ok {
		t.Fatalf("new chat must keep previous sessions")
	}
}

func TestQuitClosesStreamsAndResetsStore(t *testing.T) {
	m, h := newTestModel(t)
	if _, err := h.store.Create("s1", session.DefaultTitle); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.streams.Subscribe(context.Background(), "s1")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
	if h.store.Len() != 0 || h.streams.Live() != 0 {
		t.Fatalf("quit left state behind: sessions=%d live=%d", h.store.Len(), h.streams.Live())
	}
}

func TestSearchHighlightsActiveTranscript(t *testing.T) {
	m, _ := newTestModel(t,
		`{"type":"response","message":{"text":"Revenue peaks in December.","run_id":"r1"}}`,
		stream.Sentinel,
	)
	m = send(t, m, "trend?")
	m.setFocus(focusTranscript)

	m = drive(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}})
	if !m.searchMode {
		t.Fatalf("expected search mode")
	}
	for _, r := range "december" {
		m = drive(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m = drive(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.searchQuery != "december" {
		t.Fatalf("search query: got=%q", m.searchQuery)
	}
	if m.cursor.Empty() || m.cursor.Count() != 1 {
		t.Fatalf("expected one match, got %d", m.cursor.Count())
	}
	items := m.list.Items()
	if len(items) != 1 {
		t.Fatalf("search should keep the matching session listed")
	}
	if item := items[0].(sessionItem); !strings.Contains(item.Description(), "Revenue peaks in December.") {
		t.Fatalf("expected matching snippet, got %q", item.Description())
	}
}
