/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the read-only status surface and the operator's
// manual preload trigger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/events"
	"github.com/friendsincode/easyaps/internal/logbuffer"
	"github.com/friendsincode/easyaps/internal/preload"
	"github.com/friendsincode/easyaps/internal/status"
	"github.com/friendsincode/easyaps/internal/telemetry"
)

// SnapshotSource produces status snapshots.
type SnapshotSource interface {
	Snapshot() status.Snapshot
}

// PreloadTrigger starts a next-day fetch on request.
type PreloadTrigger interface {
	Trigger() (bool, error)
	Status() preload.Status
}

// EventSource is the subscribing half of the event bus.
type EventSource interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// LogSource serves recently captured log lines.
type LogSource interface {
	Find(q logbuffer.Query) []logbuffer.Entry
	Stats() logbuffer.Stats
}

// Option customises a Server.
type Option func(*Server)

// WithLogs exposes src under /api/v1/logs.
func WithLogs(src LogSource) Option {
	return func(s *Server) { s.logs = src }
}

// Server bundles the HTTP router and listener.
type Server struct {
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	snapshots SnapshotSource
	preload   PreloadTrigger
	bus       EventSource
	logs      LogSource

	streamInterval time.Duration
}

// New constructs the server. bus may be nil, in which case the websocket
// stream carries snapshots only.
func New(addr string, snapshots SnapshotSource, pre PreloadTrigger, bus EventSource, logger zerolog.Logger, opts ...Option) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("easyaps-status"))
	router.Use(telemetry.MetricsMiddleware)

	s := &Server{
		logger:         logger.With().Str("component", "http").Logger(),
		router:         router,
		snapshots:      snapshots,
		preload:        pre,
		bus:            bus,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("status server shutdown error")
		return err
	}
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/ws", s.handleStatusStream)
		r.Post("/preload", s.handlePreload)
		if s.logs != nil {
			r.Get("/logs", s.handleLogs)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshots.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"phase":  snap.Phase,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshots.Snapshot())
}

func (s *Server) handlePreload(w http.ResponseWriter, _ *http.Request) {
	started, err := s.preload.Trigger()
	if errors.Is(err, preload.ErrNoTimeline) {
		writeError(w, http.StatusConflict, "no_timeline")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "preload_failed")
		return
	}

	code := http.StatusOK
	if started {
		code = http.StatusAccepted
		s.logger.Info().Msg("manual preload requested")
	}
	writeJSON(w, code, map[string]any{
		"started": started,
		"preload": s.preload.Status(),
	})
}

// handleLogs answers ?level=warn&component=media&search=x&since=RFC3339&limit=N
// with matching entries, newest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := logbuffer.Query{
		Component: params.Get("component"),
		Search:    params.Get("search"),
		Limit:     100,
	}
	if v := params.Get("level"); v != "" {
		lvl, err := zerolog.ParseLevel(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_level")
			return
		}
		q.MinLevel = lvl
	}
	if v := params.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		q.Since = since
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		q.Limit = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.logs.Find(q),
		"stats":   s.logs.Stats(),
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, map[string]string{"error": reason})
}
