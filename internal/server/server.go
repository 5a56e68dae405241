// Package server is the agent's HTTP front door. It owns two surfaces on
// one listener: the interception path, where application traffic flows
// through the classifier into the strategy engine, and the control API
// under /caresync/v1/, where clients subscribe to events and poke the
// queue and lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caresync-labs/caresync/internal/bus"
	"github.com/caresync-labs/caresync/internal/classify"
	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/ports"
	"github.com/caresync-labs/caresync/internal/strategy"
	"github.com/caresync-labs/caresync/pkg/log"
)

const (
	controlPrefix = "/caresync/v1/"

	sseKeepalive    = 25 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Updater is the slice of the lifecycle manager the control API needs.
type Updater interface {
	// Update begins installing a new application version.
	Update(ctx context.Context, version string) error
	// MaybeActivate activates a waiting version if no client blocks it.
	MaybeActivate(ctx context.Context) error
}

// Server serves intercepted application traffic and the control API.
type Server struct {
	classifier *classify.Classifier
	engine     *strategy.Engine
	drainer    Drainer
	updater    Updater
	bus        *bus.Bus
	mlog       ports.MutationLog
	logger     log.Logger

	httpServer *http.Server
}

// New creates a server. mlog may be nil in degraded mode; the queue
// endpoints then answer 503.
func New(
	addr string,
	classifier *classify.Classifier,
	engine *strategy.Engine,
	drainer Drainer,
	updater Updater,
	b *bus.Bus,
	mlog ports.MutationLog,
	logger log.Logger,
) *Server {
	s := &Server{
		classifier: classifier,
		engine:     engine,
		drainer:    drainer,
		updater:    updater,
		bus:        b,
		mlog:       mlog,
		logger:     logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full routing surface, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(controlPrefix+"events", s.handleEvents)
	mux.HandleFunc(controlPrefix+"queue", s.handleQueue)
	mux.HandleFunc(controlPrefix+"drain", s.handleDrain)
	mux.HandleFunc(controlPrefix+"update", s.handleUpdate)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, controlPrefix) {
			mux.ServeHTTP(w, r)
			return
		}
		s.intercept(w, r)
	})
}

// Run serves until the context is canceled, then drains in-flight requests
// within shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", log.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// intercept routes application traffic: owned origins go through the
// classifier into the strategy engine, everything else is forwarded as-is.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request) {
	if r.URL.Host != "" && !s.classifier.Owns(r.URL) {
		s.engine.Passthrough(w, r)
		return
	}
	category := classify.Classify(r.Method, r.URL, r.Header)
	s.engine.Handle(w, r, category)
}

// handleEvents is the SSE stream. Clients pass their running application
// version as ?version=; a disconnect may unblock a waiting activation.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	version := r.URL.Query().Get("version")
	handle := s.bus.Register(version)
	defer func() {
		s.bus.Unregister(handle)
		// The departed client may have been the last one pinning the
		// old version.
		if err := s.updater.MaybeActivate(context.Background()); err != nil {
			s.logger.Warn("activation check after disconnect failed", log.Err(err))
		}
	}()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected client=%s\n\n", handle.ID())
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-handle.Events():
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind(), payload)
	return err
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.queueStatus(w, r)
	case http.MethodDelete:
		s.queueClear(w, r)
	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	if s.mlog == nil {
		writeError(w, http.StatusServiceUnavailable, "durable store unavailable")
		return
	}
	pending, err := s.mlog.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeControlJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// queueClear drops every pending mutation. Destructive and explicit: the
// caller is telling us the queued work is stale or wrong.
func (s *Server) queueClear(w http.ResponseWriter, r *http.Request) {
	if s.mlog == nil {
		writeError(w, http.StatusServiceUnavailable, "durable store unavailable")
		return
	}
	dropped, err := s.mlog.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dropped > 0 {
		s.logger.Warn("cleared mutation queue on operator request", log.Int("dropped", dropped))
	}
	s.bus.Broadcast(domain.QueueDepthChanged{PendingCount: 0})
	writeControlJSON(w, http.StatusOK, map[string]any{"dropped": dropped})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.mlog == nil {
		writeError(w, http.StatusServiceUnavailable, "durable store unavailable")
		return
	}

	// The drain outlives the request; results arrive on the event stream.
	go func() {
		summary, err := s.drainer.Drain(context.Background())
		if err != nil {
			s.logger.Error("requested drain failed", log.Err(err))
			return
		}
		if !summary.Coalesced {
			s.logger.Info("requested drain finished",
				log.Int("synced", summary.Synced),
				log.Int("failed", summary.Failed),
				log.Int("remaining", summary.Remaining),
			)
		}
	}()
	writeControlJSON(w, http.StatusAccepted, map[string]any{"status": "draining"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Version == "" {
		writeError(w, http.StatusBadRequest, `body must be {"version": "..."}`)
		return
	}
	if err := s.updater.Update(r.Context(), body.Version); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeControlJSON(w, http.StatusAccepted, map[string]any{
		"status":  "installing",
		"version": body.Version,
	})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeControlJSON(w, status, map[string]any{"error": msg})
}

func writeControlJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
