package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"analyst-chat/internal/logging"
)

// ResourceURL locates a file the analysis run produced.
func (c *Client) ResourceURL(sessionID, runID, name string) (string, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(runID) == "" {
		return "", errors.New("resource needs a session and run id")
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("resource name cannot be empty")
	}
	return url.JoinPath(c.baseURL, storagePath, sessionID, runID, name)
}

// ProbeResource reports whether the resource at rawURL exists. Servers that
// reject HEAD are asked again with GET.
func (c *Client) ProbeResource(ctx context.Context, rawURL string) (bool, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	status, err := c.probe(ctx, http.MethodHead, rawURL)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = c.probe(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		return false, err
	}

	logging.Trace(ctx, "resource probed", slog.String("url", rawURL), slog.Int("status", status))
	switch {
	case status >= 200 && status <= 299:
		return true, nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return false, nil
	default:
		return false, &APIError{Status: status}
	}
}

func (c *Client) probe(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe resource: %w", wrapIfTransient(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, nil
}
