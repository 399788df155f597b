// Package server provides the base HTTP server, middleware chain, and JSON
// response helpers used by the tryouts API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// ErrEmptyBody is returned by DecodeJSON when the request has no body.
var ErrEmptyBody = errors.New("request body is required")

// Options configures a Server.
type Options struct {
	Addr            string
	Verbose         bool
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// RequestLogSize bounds the in-memory request log. Defaults to 1000.
	RequestLogSize int
}

// Server wraps a chi router with the common middleware stack and
// lifecycle management.
type Server struct {
	Router   *chi.Mux
	Logger   *slog.Logger
	Requests *RequestLog

	addr            string
	shutdownTimeout time.Duration
}

// NewLogger builds the process logger: JSON to w, Debug when verbose.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// New creates a Server with the middleware stack mounted.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	size := opts.RequestLogSize
	if size <= 0 {
		size = 1000
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	reqLog := NewRequestLog(size)
	mw := &Middleware{logger: logger, verbose: opts.Verbose, log: reqLog}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)

	return &Server{
		Router:          r,
		Logger:          logger,
		Requests:        reqLog,
		addr:            opts.Addr,
		shutdownTimeout: timeout,
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the check-in event stream stays open.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("starting server", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.Logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP implements http.Handler so the Server can be used directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response typed by the status text.
func Error(w http.ResponseWriter, status int, message string) {
	ErrorCode(w, status, http.StatusText(status), "", message)
}

// ErrorCode writes a JSON error response with an explicit type and machine code.
func ErrorCode(w http.ResponseWriter, status int, errType, code, message string) {
	body := map[string]any{
		"type":    errType,
		"message": message,
	}
	if code != "" {
		body["code"] = code
	} else {
		body["code"] = status
	}
	JSON(w, status, map[string]any{"error": body})
}

// DecodeJSON reads a JSON request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	return nil
}
