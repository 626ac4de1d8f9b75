// Package server is the HTTP front-end for debate sessions. It streams
// session events as server-sent events and serves persisted sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallnest/debategraph/debate"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/log"
	"github.com/smallnest/debategraph/metrics"
	"github.com/smallnest/debategraph/store"
)

// Server serves the debate sessions of one engine.
type Server struct {
	engine   *debate.Engine
	logger   log.Logger
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics counts session outcomes on c and exposes g at /metrics.
func WithMetrics(c *metrics.Collector, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = c
		s.gatherer = g
	}
}

// New creates a server for e.
func New(e *debate.Engine, opts ...Option) *Server {
	s := &Server{
		engine: e,
		logger: log.GetDefaultLogger(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /api/debates", s.handleRun)
	s.mux.HandleFunc("GET /api/debates", s.handleList)
	s.mux.HandleFunc("GET /api/debates/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /api/debates/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/debates/{id}/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/debates/{id}/summary", s.handleSummary)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// runRequest starts a session, or resumes session_id when it exists. The
// options apply to new sessions only and default to the server's.
type runRequest struct {
	Topic     string `json:"topic"`
	SessionID string `json:"session_id,omitempty"`
	Rebuttals *bool  `json:"rebuttals,omitempty"`
	Rounds    *int   `json:"rounds,omitempty"`
}

// eventPayload is the data of one server-sent event.
type eventPayload struct {
	SessionID  string         `json:"session_id"`
	Stage      string         `json:"stage,omitempty"`
	Step       int            `json:"step"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type sessionSummary struct {
	SessionID string `json:"session_id"`
	Label     string `json:"label"`
	Final     bool   `json:"final"`
	// Error is set when the session cannot be read by this server.
	Error string `json:"error,omitempty"`
}

type snapshotResponse struct {
	SessionID string         `json:"session_id"`
	Values    map[string]any `json:"values"`
	Completed []string       `json:"completed"`
	Next      []string       `json:"next"`
	Final     bool           `json:"final"`
	Step      int            `json:"step"`
	Stage     string         `json:"stage,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toSnapshotResponse(s *graph.StateSnapshot) snapshotResponse {
	return snapshotResponse{
		SessionID: s.SessionID,
		Values:    s.Values,
		Completed: s.Completed,
		Next:      s.Next,
		Final:     s.Final,
		Step:      s.Step,
		Stage:     s.Stage,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if req.SessionID == "" {
		if strings.TrimSpace(req.Topic) == "" {
			writeError(w, http.StatusBadRequest, debate.ErrEmptyTopic)
			return
		}
		req.SessionID = graph.NewSessionID()
	}
	opts := s.engine.Defaults()
	if req.Rebuttals != nil {
		opts.Rebuttals = *req.Rebuttals
	}
	if req.Rounds != nil {
		opts.Rounds = *req.Rounds
	}
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	events, err := s.engine.Start(r.Context(), req.SessionID, req.Topic, opts)
	if err != nil {
		if errors.Is(err, debate.ErrEmptyTopic) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", req.SessionID)
	w.WriteHeader(http.StatusOK)

	s.logger.Info("session %s: run requested", req.SessionID)
	for ev := range events {
		if s.metrics != nil {
			s.metrics.ObserveEvent(ev)
		}
		if err := sendSSE(w, flusher, ev); err != nil {
			s.logger.Warn("session %s: failed to write event: %v", req.SessionID, err)
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, ev graph.Event) error {
	payload := eventPayload{
		SessionID:  ev.SessionID,
		Stage:      ev.Stage,
		Step:       ev.Step,
		Output:     ev.Output,
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.ListSessions(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	sessions := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		snap, err := s.engine.GetState(r.Context(), id)
		var unavailable *graph.StoreUnavailableError
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Deleted or expired between listing and loading.
			continue
		case errors.As(err, &unavailable):
			s.writeStoreError(w, err)
			return
		case err != nil:
			s.logger.Warn("session %s: %v", id, err)
			sessions = append(sessions, sessionSummary{
				SessionID: id,
				Label:     debate.Label(id, ""),
				Error:     err.Error(),
			})
			continue
		}
		sessions = append(sessions, sessionSummary{
			SessionID: id,
			Label:     debate.Label(id, snap.Values.String(debate.FieldTopic)),
			Final:     snap.Final,
		})
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]snapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toSnapshotResponse(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !snap.Final {
		writeError(w, http.StatusConflict, fmt.Errorf("session %s has not finished", snap.SessionID))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(debate.RenderHTML(snap.Values.String(debate.FieldFinalMarkdown)))
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var busy *graph.SessionBusyError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &busy), errors.Is(err, graph.ErrIncompatibleCheckpoint):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, graph.ErrHistoryUnsupported):
		writeError(w, http.StatusNotImplemented, err)
	default:
		s.logger.Error("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
