// Package server exposes the coordinator over HTTP.
//
// Information Hiding:
// - Route layout and middleware stack hidden
// - Error kind to status code mapping hidden
// - NDJSON flushing hidden

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richinex/relay/model"
	"github.com/richinex/relay/orchestration"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Service is the coordinator surface the handlers call.
type Service interface {
	Generate(ctx context.Context, req model.Request) (*orchestration.Result, error)
	StartSession(ctx context.Context, req model.Request) (io.ReadCloser, error)
	ResumeSession(ctx context.Context, runID string, newMessage *model.ChatMessage) (io.ReadCloser, error)
}

var _ Service = (*orchestration.Coordinator)(nil)

// Handler serves the HTTP API.
type Handler struct {
	svc            Service
	logger         *slog.Logger
	gatherer       prometheus.Gatherer
	requestTimeout time.Duration
	maxBodySize    int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// WithRequestTimeout bounds one-shot requests. Streams are bounded by the
// client connection instead.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) { h.requestTimeout = d }
}

// WithMaxBodySize caps request bodies.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) { h.maxBodySize = n }
}

// NewHandler creates a handler for svc.
func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:         svc,
		logger:      slog.Default(),
		gatherer:    prometheus.DefaultGatherer,
		maxBodySize: defaultMaxRequestBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "server")
	return h
}

// Routes returns the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.logRequests)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.requestTimeout > 0 {
				r.Use(chiMiddleware.Timeout(h.requestTimeout))
			}
			r.Post("/generate", h.handleGenerate)
		})
		r.Post("/sessions", h.handleStartSession)
		r.Post("/sessions/{runID}/resume", h.handleResumeSession)
	})
	return r
}

// resumeBody is the body of a resume request.
type resumeBody struct {
	NewMessage *model.ChatMessage `json:"newMessage,omitempty"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req model.Request
	if !h.decode(w, r, &req, false) {
		return
	}
	res, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req model.Request
	if !h.decode(w, r, &req, false) {
		return
	}
	stream, err := h.svc.StartSession(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeStream(w, r, stream)
}

func (h *Handler) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	var body resumeBody
	if !h.decode(w, r, &body, true) {
		return
	}
	stream, err := h.svc.ResumeSession(r.Context(), chi.URLParam(r, "runID"), body.NewMessage)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeStream(w, r, stream)
}

// decode reads a JSON body into v. An empty body is accepted when optional.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Kind: model.KindInvalidRequest.String()})
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: model.KindInvalidRequest.String()})
	return false
}

// writeStream copies NDJSON lines to the client, flushing after each one.
func (h *Handler) writeStream(w http.ResponseWriter, r *http.Request, stream io.ReadCloser) {
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	br := bufio.NewReader(stream)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				h.logger.Debug("client went away", "path", r.URL.Path, "error", werr)
				return
			}
			_ = rc.Flush()
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			// The error frame is already on the wire.
			h.logger.Warn("stream ended with error", "path", r.URL.Path,
				"request_id", chiMiddleware.GetReqID(r.Context()), "error", err)
		}
		return
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindInvalidRequest, model.KindForbiddenContent:
		return http.StatusBadRequest
	case model.KindTooManyMessages:
		return http.StatusRequestEntityTooLarge
	case model.KindModelUnavailable:
		return http.StatusServiceUnavailable
	case model.KindEngineFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Kind: kind.String()}

	var typed *model.Error
	switch {
	case kind == model.KindEngineFailure:
		body.Error = "engine failure"
	case errors.As(err, &typed):
		body.Error = typed.Error()
		body.Field = typed.Field
		if kind == model.KindForbiddenContent {
			body.Field = ""
		}
	default:
		body.Error = "internal error"
	}

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed", "path", r.URL.Path, "status", status,
		"kind", kind, "request_id", chiMiddleware.GetReqID(r.Context()), "error", err)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logRequests logs one line per request with slog.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
