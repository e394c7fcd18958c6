package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// APIError is a non-2xx answer from the backend or the proxy. Detail and
// Reason carry the `detail` and `error` fields of the JSON body verbatim.
type APIError struct {
	Status int
	Detail string
	Reason string
	Body   string
}

func (e *APIError) Error() string {
	if e == nil {
		return "backend error"
	}
	msg := e.Message()
	if msg == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, msg)
}

// Message is the user-facing text of the error.
func (e *APIError) Message() string {
	detail := strings.TrimSpace(e.Detail)
	reason := strings.TrimSpace(e.Reason)
	switch {
	case detail != "" && reason != "":
		return detail + ": " + reason
	case detail != "":
		return detail
	case reason != "":
		return reason
	default:
		return truncateSnippet(strings.TrimSpace(e.Body), 512)
	}
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Body: string(body)}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	apiErr.Detail = rawText(payload.Detail)
	apiErr.Reason = rawText(payload.Error)
	return apiErr
}

// rawText returns JSON strings unquoted and any other JSON value as written.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// TransientError wraps failures that are likely caused by temporary transport issues.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsTransient(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}

func wrapIfTransient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	if isLikelyTransient(err) {
		return &TransientError{Err: err}
	}
	return err
}

func isLikelyTransient(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		return isLikelyTransient(urlErr.Err)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func truncateSnippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
