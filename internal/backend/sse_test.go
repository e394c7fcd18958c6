package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"analyst-chat/internal/session"
	"analyst-chat/internal/stream"
)

func TestDecodeSSE(t *testing.T) {
	require := require.New(t)

	body := strings.Join([]string{
		": keep-alive",
		`data: {"type":"progress","message":"Loading"}`,
		"",
		"event: ping",
		"data: {}",
		"",
		"data: line one",
		"data: line two",
		"",
		"event:",
		"",
		"data: [DONE]",
	}, "\n")

	type got struct{ event, data string }
	var events []got
	err := decodeSSE(context.Background(), strings.NewReader(body), func(event, data string) error {
		events = append(events, got{event, data})
		return nil
	})
	require.NoError(err)
	require.Equal([]got{
		{"message", `{"type":"progress","message":"Loading"}`},
		{"ping", "{}"},
		{"message", "line one\nline two"},
		{"message", "[DONE]"},
	}, events)
}

func TestDecodeSSEStopsOnCallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := decodeSSE(context.Background(), strings.NewReader("data: a\n\ndata: b\n\n"), func(string, string) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestOpenStreamsFrames(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/api/v1/process/events/s1", r.URL.Path)
		require.Equal("text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"progress\",\"message\":\"Loading\"}\n\n")
		fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(err)

	sub, err := c.Open(context.Background(), "s1")
	require.NoError(err)
	defer sub.Close()

	f, err := sub.Next(context.Background())
	require.NoError(err)
	require.Equal(stream.FrameProgress, stream.Classify(f).Kind)

	f, err = sub.Next(context.Background())
	require.NoError(err)
	require.Equal(stream.Sentinel, f.Data)

	_, err = sub.Next(context.Background())
	require.ErrorIs(err, io.EOF)
}

func TestOpenRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"unknown session"}`)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Open(context.Background(), "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "unknown session", apiErr.Message())
}

func TestSubscriptionCloseUnblocksNext(t *testing.T) {
	require := require.New(t)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(err)

	sub, err := c.Open(context.Background(), "s1")
	require.NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(sub.Close())
	require.NoError(sub.Close())

	select {
	case err := <-done:
		require.Error(err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestManagerOverSSE(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"progress\",\"message\":\"Loading data\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response\",\"message\":{\"text\":\"Up 5% <<<chart.png>>>\",\"run_id\":\"r1\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(err)

	store := session.NewStore(session.Options{})
	_, err = store.Create("s1", "", session.UserMessage("trend?", nil))
	require.NoError(err)

	var statuses []string
	mgr := stream.NewManager(c, store, stream.Options{
		IdleTimeout: time.Second,
		Observer: stream.Hooks{OnStatus: func(_ string, status string) {
			statuses = append(statuses, status)
		}},
	})

	require.NoError(mgr.Run(context.Background(), "s1"))
	require.Equal(stream.Closed, mgr.State("s1"))
	require.Equal([]string{"Loading data", ""}, statuses)

	s, ok := store.Get("s1")
	require.True(ok)
	require.Len(s.Messages, 2)
	require.Equal(session.RoleAssistant, s.Messages[1].Role)
	require.Equal("r1", s.Messages[1].RunID)
}
