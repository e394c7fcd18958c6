package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"analyst-chat/internal/logging"
)

const (
	userAgent = "analyst-chat"

	processPath  = "api/v1/process"
	eventsPath   = "api/v1/process/events"
	storagePath  = "api/v1/process/storage"
	ProxyPath    = "api/process"
	maxBodyBytes = 1 << 20

	FieldPrompt    = "prompt"
	FieldSessionID = "session_id"
	FieldFiles     = "files"
)

// File is one attachment of a submission. Open is called once per request.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

func FileFromPath(path string) File {
	return File{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

func FileFromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

type Submission struct {
	Prompt    string
	SessionID string
	Files     []File
}

// Receipt is the decoded success body of a submission.
type Receipt struct {
	SessionID string
	Body      map[string]any
}

type Options struct {
	// BaseURL is the analysis backend; events and resources are always
	// fetched from it.
	BaseURL string
	// ProxyURL, when set, receives submissions instead of BaseURL.
	ProxyURL       string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

type Client struct {
	http           *http.Client
	baseURL        string
	submitURL      string
	requestTimeout time.Duration
}

func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("backend url cannot be empty")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}

	submitURL, err := url.JoinPath(base, processPath)
	if err != nil {
		return nil, fmt.Errorf("construct submit endpoint: %w", err)
	}
	if proxy := strings.TrimSpace(opts.ProxyURL); proxy != "" {
		if submitURL, err = url.JoinPath(proxy, ProxyPath); err != nil {
			return nil, fmt.Errorf("construct proxy endpoint: %w", err)
		}
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		http:           hc,
		baseURL:        base,
		submitURL:      submitURL,
		requestTimeout: opts.RequestTimeout,
	}, nil
}

func (c *Client) BaseURL() string   { return c.baseURL }
func (c *Client) SubmitURL() string { return c.submitURL }

// Submit posts the prompt, optional session id and files as multipart form
// data and returns the session id the backend assigned.
func (c *Client) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	if strings.TrimSpace(sub.Prompt) == "" {
		return Receipt{}, errors.New("prompt cannot be empty")
	}
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	status, raw, err := c.Forward(ctx, sub)
	if err != nil {
		return Receipt{}, err
	}
	if status < 200 || status > 299 {
		logging.Error(ctx, "submit unexpected status",
			slog.String("endpoint", c.submitURL),
			slog.Int("status", status),
			slog.String("snippet", truncateSnippet(strings.TrimSpace(string(raw)), 512)))
		return Receipt{}, newAPIError(status, raw)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Receipt{}, fmt.Errorf("decode submit response: %w", err)
	}
	id, _ := decoded[FieldSessionID].(string)
	if strings.TrimSpace(id) == "" {
		return Receipt{}, errors.New("submit response missing session_id")
	}

	logging.Info(ctx, "submission accepted", slog.String("session_id", id))
	return Receipt{SessionID: id, Body: decoded}, nil
}

// Forward posts sub to the submit endpoint and returns the raw answer
// whatever its status.
func (c *Client) Forward(ctx context.Context, sub Submission) (int, []byte, error) {
	body, contentType, err := encodeSubmission(sub)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	logging.Debug(ctx, "submit request",
		slog.String("endpoint", c.submitURL),
		slog.String("session_id", sub.SessionID),
		slog.Int("files", len(sub.Files)),
		slog.Int("payload_bytes", body.Len()))

	resp, err := c.http.Do(req)
	if err != nil {
		err = wrapIfTransient(err)
		logging.Error(ctx, "submit request failed",
			slog.String("endpoint", c.submitURL),
			slog.String("error", err.Error()))
		return 0, nil, fmt.Errorf("execute submit request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read submit response: %w", wrapIfTransient(err))
	}
	return resp.StatusCode, raw, nil
}

func encodeSubmission(sub Submission) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField(FieldPrompt, sub.Prompt); err != nil {
		return nil, "", fmt.Errorf("write prompt field: %w", err)
	}
	if sub.SessionID != "" {
		if err := w.WriteField(FieldSessionID, sub.SessionID); err != nil {
			return nil, "", fmt.Errorf("write session field: %w", err)
		}
	}
	for _, f := range sub.Files {
		if err := writeFile(w, f); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, f File) error {
	if f.Open == nil {
		return fmt.Errorf("attachment %q has no content", f.Name)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open attachment %s: %w", f.Name, err)
	}
	defer src.Close()

	part, err := w.CreateFormFile(FieldFiles, f.Name)
	if err != nil {
		return fmt.Errorf("create file part %s: %w", f.Name, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy attachment %s: %w", f.Name, err)
	}
	return nil
}

// EventsURL is the event stream endpoint of a session.
func (c *Client) EventsURL(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("sessionID cannot be empty")
	}
	return url.JoinPath(c.baseURL, eventsPath, sessionID)
}
