package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"analyst-chat/internal/logging"
	"analyst-chat/internal/stream"
)

const (
	defaultScannerCapacity = 4 * 1024 * 1024
	defaultEventName       = "message"
)

// Open subscribes to the event stream of sessionID. Frames of named events
// other than "message" are skipped.
func (c *Client) Open(ctx context.Context, sessionID string) (stream.Subscription, error) {
	endpoint, err := c.EventsURL(sessionID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)

	logging.Debug(ctx, "events request", slog.String("endpoint", endpoint))

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("execute events request: %w", wrapIfTransient(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		cancel()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		logging.Error(ctx, "events unexpected status",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode))
		return nil, newAPIError(resp.StatusCode, raw)
	}

	sub := &sseSubscription{
		frames: make(chan stream.Frame),
		done:   make(chan struct{}),
		cancel: cancel,
		body:   resp.Body,
	}
	go sub.pump(sctx)
	return sub, nil
}

type sseSubscription struct {
	frames chan stream.Frame
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	body   io.ReadCloser
	once   sync.Once
}

func (s *sseSubscription) pump(ctx context.Context) {
	defer close(s.done)
	err := decodeSSE(ctx, s.body, func(event, data string) error {
		if event != defaultEventName {
			logging.Trace(ctx, "named event skipped", slog.String("event", event))
			return nil
		}
		select {
		case s.frames <- stream.Frame{Data: data}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err == nil {
		err = io.EOF
	}
	s.err = wrapIfTransient(err)
}

func (s *sseSubscription) Next(ctx context.Context) (stream.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return stream.Frame{}, s.err
	case <-ctx.Done():
		return stream.Frame{}, ctx.Err()
	}
}

func (s *sseSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// decodeSSE reads server-sent events from r and calls onEvent for every
// dispatched event. It returns nil at end of input.
func decodeSSE(ctx context.Context, r io.Reader, onEvent func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScannerCapacity)

	var (
		currentEvent string
		dataLines    []string
		sawData      bool
	)

	flushEvent := func() error {
		if !sawData {
			currentEvent = ""
			return nil
		}
		evt := currentEvent
		if evt == "" {
			evt = defaultEventName
		}
		raw := strings.Join(dataLines, "\n")
		currentEvent = ""
		dataLines = dataLines[:0]
		sawData = false
		return onEvent(evt, raw)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if err := flushEvent(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			value := line[len("data:"):]
			value = strings.TrimPrefix(value, " ")
			dataLines = append(dataLines, value)
			sawData = true
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read event stream: %w", err)
	}
	return flushEvent()
}
