// Package statusapi serves engine status, Prometheus metrics and a live
// event stream over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hotlib"
	"hotlib/internal/event"
	"hotlib/internal/logging"
	"hotlib/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultReplay   = 16
	maxReplay       = 256
	defaultLogLimit = 100
	shutdownTimeout = 5 * time.Second
)

// Source is the engine surface the API reads from.
type Source interface {
	ID() string
	Err() error
	Handles() []*hotlib.Handle
	Events(replay int, types ...string) (<-chan event.Event, func())
}

type Options struct {
	// Logger receives the API's own entries; its buffer and live stream back
	// the /logs routes.
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AllowedOrigins []string
}

type api struct {
	source  Source
	logger  *logging.Logger
	logs    *logging.Logger
	metrics *metrics.Registry
	origins []string
}

// NewRouter returns the routes:
//
//	GET  /healthz
//	GET  /status
//	GET  /packages/{session}
//	POST /packages/{session}/rebuild
//	GET  /metrics
//	GET  /events?replay=N&type=a,b   (websocket)
//	GET  /logs?package=name&level=warning&limit=N
//	GET  /logs/stream?level=info     (websocket)
func NewRouter(source Source, options Options) http.Handler {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	a := &api{
		source:  source,
		logger:  logger.Component("statusapi"),
		logs:    logger,
		metrics: options.Metrics,
		origins: options.AllowedOrigins,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Get("/status", a.handleStatus)
	r.Get("/packages/{session}", a.handlePackage)
	r.Post("/packages/{session}/rebuild", a.handleRebuild)
	r.Get("/metrics", a.metrics.Handler().ServeHTTP)
	r.Get("/events", a.handleEvents)
	r.Get("/logs", a.handleLogs)
	r.Get("/logs/stream", a.handleLogStream)
	return r
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.source.Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: err.Error(), Code: "engine_failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	handles := a.source.Handles()
	response := engineResponse{
		ID:       a.source.ID(),
		Error:    errorText(a.source.Err()),
		Packages: make([]packageResponse, 0, len(handles)),
	}
	for _, handle := range handles {
		response.Packages = append(response.Packages, packagePayload(handle.Status()))
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *api) handlePackage(w http.ResponseWriter, r *http.Request) {
	handle, ok := a.lookup(chi.URLParam(r, "session"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "unknown session", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, packagePayload(handle.Status()))
}

func (a *api) handleRebuild(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	handle, ok := a.lookup(session)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "unknown session", Code: "not_found"})
		return
	}
	epoch, err := handle.Rebuild()
	if err != nil {
		status := http.StatusInternalServerError
		code := "rebuild_failed"
		if errors.Is(err, hotlib.ErrClosed) {
			status = http.StatusConflict
			code = "closed"
		}
		writeJSON(w, status, errorResponse{Message: err.Error(), Code: code})
		return
	}
	a.logger.Info("rebuild requested", map[string]string{
		logging.FieldSession: session,
		logging.FieldEpoch:   epoch.String(),
		"request_id":         middleware.GetReqID(r.Context()),
	})
	writeJSON(w, http.StatusAccepted, rebuildResponse{Session: session, Epoch: uint64(epoch)})
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	replay := defaultReplay
	if raw := r.URL.Query().Get("replay"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "replay must be a non-negative integer", Code: "bad_request"})
			return
		}
		replay = min(parsed, maxReplay)
	}
	output, cancel := a.source.Events(replay, splitList(r.URL.Query().Get("type"))...)
	defer cancel()
	serveWSStream(w, r, wsStreamConfig[event.Event]{
		AllowedOrigins: a.origins,
		Output:         output,
		BuildPayload:   eventPayload,
		Logger:         a.logger,
	})
}

func (a *api) lookup(session string) (*hotlib.Handle, bool) {
	for _, handle := range a.source.Handles() {
		if handle.Session() == session {
			return handle, true
		}
	}
	return nil, false
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Serve listens on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, listener, handler, logger)
}

func serveListener(ctx context.Context, listener net.Listener, handler http.Handler, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(listener)
	}()
	logger.Info("status api listening", map[string]string{"addr": listener.Addr().String()})

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
