package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"analyst-chat/internal/backend"
	"analyst-chat/internal/logging"
	"analyst-chat/internal/session"
	"analyst-chat/internal/stream"
)

const (
	DefaultMaxFiles = 3
	FailureMessage  = "Error: Could not send message. Please try again."
)

var (
	ErrMissingPrompt = errors.New("prompt is missing")
	ErrTooManyFiles  = errors.New("too many files")
)

// Backend is the submission endpoint.
type Backend interface {
	Submit(ctx context.Context, sub backend.Submission) (backend.Receipt, error)
}

type Request struct {
	Prompt    string
	Files     []backend.File
	SessionID string
}

func (r Request) fileNames() []string {
	if len(r.Files) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		names = append(names, f.Name)
	}
	return names
}

// Result is the outcome of the I/O half of a submission, handed back to the
// event loop for Complete.
type Result struct {
	Request   Request
	SessionID string
	Err       error
}

type Options struct {
	MaxFiles int
}

type Orchestrator struct {
	backend  Backend
	store    *session.Store
	streams  *stream.Manager
	maxFiles int
}

func New(b Backend, store *session.Store, streams *stream.Manager, opts Options) *Orchestrator {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	return &Orchestrator{backend: b, store: store, streams: streams, maxFiles: opts.MaxFiles}
}

func (o *Orchestrator) MaxFiles() int { return o.maxFiles }

// Validate rejects requests before any network call.
func (o *Orchestrator) Validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrMissingPrompt
	}
	if len(req.Files) > o.maxFiles {
		return fmt.Errorf("%w: %d attached, at most %d allowed", ErrTooManyFiles, len(req.Files), o.maxFiles)
	}
	return nil
}

// Dispatch performs the backend request. It touches no local state and may
// run off the event loop.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) Result {
	if err := o.Validate(req); err != nil {
		return Result{Request: req, Err: err}
	}
	receipt, err := o.backend.Submit(ctx, backend.Submission{
		Prompt:    req.Prompt,
		SessionID: req.SessionID,
		Files:     req.Files,
	})
	if err != nil {
		return Result{Request: req, Err: err}
	}
	id := receipt.SessionID
	if req.SessionID != "" && id != req.SessionID {
		logging.Warn(ctx, "backend answered for a different session",
			slog.String("session_id", req.SessionID),
			slog.String("backend_session_id", id))
		id = req.SessionID
	}
	return Result{Request: req, SessionID: id}
}

// Complete applies a dispatch result to the store. On success it records the
// user message and returns the connection the caller must drive; conn is nil
// when a connection for the session is already live.
func (o *Orchestrator) Complete(ctx context.Context, res Result) (*stream.Conn, error) {
	req := res.Request
	if res.Err != nil {
		return nil, o.fail(ctx, req, res.Err)
	}

	// A follow-up always streams on the session it was asked in.
	if req.SessionID != "" {
		res.SessionID = req.SessionID
	}

	user := session.UserMessage(req.Prompt, req.fileNames())
	if req.SessionID == "" {
		if _, err := o.store.Create(res.SessionID, session.DefaultTitle, user); err != nil {
			if !errors.Is(err, session.ErrSessionExists) {
				return nil, fmt.Errorf("create session %s: %w", res.SessionID, err)
			}
			if _, err := o.store.Append(res.SessionID, user); err != nil {
				return nil, err
			}
		}
		if err := o.store.Activate(res.SessionID); err != nil {
			return nil, err
		}
	} else if _, err := o.store.Append(req.SessionID, user); err != nil {
		return nil, err
	}

	logging.Info(ctx, "submission complete",
		slog.String("session_id", res.SessionID),
		slog.Int("files", len(req.Files)))

	conn, _ := o.streams.Subscribe(ctx, res.SessionID)
	return conn, nil
}

// Submit runs a whole submission on the calling goroutine: it dispatches,
// records the result and drives the session's stream until it closes.
// Stream failures end up in the session log, not in the returned error.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	res := o.Dispatch(ctx, req)
	conn, err := o.Complete(ctx, res)
	if err != nil {
		return "", err
	}
	if conn != nil {
		_ = o.streams.Drive(conn)
	}
	return res.SessionID, nil
}

func (o *Orchestrator) fail(ctx context.Context, req Request, err error) error {
	if errors.Is(err, ErrMissingPrompt) || errors.Is(err, ErrTooManyFiles) {
		return err
	}

	logging.Error(ctx, "submission failed",
		slog.String("session_id", req.SessionID),
		slog.Bool("transient", backend.IsTransient(err)),
		slog.String("error", err.Error()))

	if req.SessionID == "" {
		return err
	}
	if _, appendErr := o.store.Append(req.SessionID, session.NewMessage(session.RoleAssistant, FailureText(err))); appendErr != nil {
		return errors.Join(err, appendErr)
	}
	return err
}

// FailureText is the assistant message shown for a failed submission.
// Backend-reported errors are surfaced verbatim.
func FailureText(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		if msg := apiErr.Message(); msg != "" {
			return "Error: " + msg
		}
	}
	return FailureMessage
}
