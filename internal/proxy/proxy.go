package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"analyst-chat/internal/backend"
	"analyst-chat/internal/logging"
)

const maxFormMemory = 32 << 20

// Forwarder relays a submission and returns the backend's raw answer.
type Forwarder interface {
	Forward(ctx context.Context, sub backend.Submission) (int, []byte, error)
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
}

type Server struct {
	backend Forwarder
}

// NewServer returns the proxy surface: POST /api/process is forwarded to the
// analysis backend.
func NewServer(ctx context.Context, b Forwarder) http.Handler {
	s := &Server{backend: b}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+backend.ProxyPath, s.handleProcess)
	return chainMiddlewares(mux, withLogging(ctx), withCORS)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Detail: "Method Not Allowed"})
		return
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		logging.Warn(r.Context(), "proxy malformed form", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "Malformed form data", Error: err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	prompt := r.FormValue(backend.FieldPrompt)
	if strings.TrimSpace(prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "Prompt is missing"})
		return
	}

	sub := backend.Submission{
		Prompt:    prompt,
		SessionID: r.FormValue(backend.FieldSessionID),
		Files:     formFiles(r.MultipartForm.File[backend.FieldFiles]),
	}

	status, raw, err := s.backend.Forward(r.Context(), sub)
	if err != nil {
		logging.Error(r.Context(), "proxy forward failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal Server Error", Error: err.Error()})
		return
	}
	if status < 200 || status > 299 {
		logging.Error(r.Context(), "proxy backend error",
			slog.Int("status", status),
			slog.String("body", string(raw)))
		writeJSON(w, status, errorBody{Detail: "Backend server error", Error: string(raw)})
		return
	}

	var payload json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal Server Error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func formFiles(headers []*multipart.FileHeader) []backend.File {
	files := make([]backend.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, backend.File{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return files
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging attaches the logger from ctx to every request and logs it.
func withLogging(ctx context.Context) func(http.Handler) http.Handler {
	logger := logging.FromContext(ctx)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			if logger != nil {
				r = r.WithContext(logging.WithLogger(r.Context(), logger))
			}

			next.ServeHTTP(rec, r)

			logging.Info(r.Context(), "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("elapsed", time.Since(start)))
		})
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// chainMiddlewares applies middlewares so the last one runs first.
func chainMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}

// ListenAndServe serves the proxy on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, b Forwarder) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewServer(ctx, b),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logging.Info(ctx, "proxy listening", slog.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
