package index

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"analyst-chat/internal/session"
)

func TestBuildFTSQuery(t *testing.T) {
	got := buildFTSQuery(`hello "world" /path:test`)
	want := `"hello"* AND "world"* AND "/path:test"*`
	if got != want {
		t.Fatalf("unexpected fts query\nwant: %s\ngot:  %s", want, got)
	}
}

func TestTokenizeSearchTerms(t *testing.T) {
	got := tokenizeSearchTerms(`  hello,   "world"   (test)  `)
	if len(got) != 3 || got[0] != "hello" || got[1] != "world" || got[2] != "test" {
		t.Fatalf("unexpected tokens: %#v", got)
	}
}

func newIndexedStore(t *testing.T) (*Indexer, *session.Store) {
	t.Helper()
	idx, err := New(context.Background())
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	store := session.NewStore(session.Options{})
	store.Observe(idx)
	return idx, store
}

func TestIndexFollowsStore(t *testing.T) {
	idx, store := newIndexedStore(t)

	if _, err := store.Create("s1", "", session.UserMessage("show the sales trend", []string{"sales.csv"})); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if _, err := store.Append("s1", session.AssistantMessage("Sales rose 5% <<<trend.png>>>", "r1")); err != nil {
		t.Fatalf("append s1: %v", err)
	}
	if _, err := store.Create("s2", "", session.UserMessage("segment customers", nil)); err != nil {
		t.Fatalf("create s2: %v", err)
	}

	all, err := idx.ListSessions("", 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}

	msgs, err := idx.GetMessages("s1")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Content != "Sales rose 5% <<<trend.png>>>" {
		t.Fatalf("unexpected messages: %#v", msgs)
	}

	hits, err := idx.Search("sales", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "s1" || hits[0].Score != 2 {
		t.Fatalf("unexpected hits: %#v", hits)
	}
	if hits[0].Preview != "show the sales trend" || hits[0].Title != session.DefaultTitle {
		t.Fatalf("unexpected summary: %#v", hits[0])
	}

	store.Drop("s1")
	hits, err = idx.Search("sales", 10)
	if err != nil {
		t.Fatalf("search after drop: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits after drop, got %#v", hits)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	idx, store := newIndexedStore(t)
	if _, err := store.Create("s1", "", session.UserMessage("hello", nil)); err != nil {
		t.Fatalf("create: %v", err)
	}
	hits, err := idx.Search("   ", 10)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected no hits, got %#v (%v)", hits, err)
	}
}

func TestReplaceRewritesRows(t *testing.T) {
	idx, store := newIndexedStore(t)
	sess, err := store.Create("s1", "", session.UserMessage("first question", nil))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess.Messages = []session.Message{session.UserMessage("second question", nil)}
	if err := store.Replace(sess); err != nil {
		t.Fatalf("replace: %v", err)
	}

	msgs, err := idx.GetMessages("s1")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "second question" {
		t.Fatalf("unexpected messages after replace: %#v", msgs)
	}
}

func TestTrimPreviewKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("売上", 100)
	got := trimPreview(long)
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid utf-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != previewLimit {
		t.Fatalf("preview rune count = %d, want %d", n, previewLimit)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("preview should end with an ellipsis: %q", got)
	}

	if got := trimPreview("  line one\nline two  "); got != "line one line two" {
		t.Fatalf("short preview = %q", got)
	}
}
