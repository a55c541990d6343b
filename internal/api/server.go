// Package api exposes the HTTP query surface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/gaps"
	"github.com/farmassist/harvester/internal/match"
	"github.com/farmassist/harvester/internal/metrics"
	"github.com/farmassist/harvester/internal/store"
)

// Server wires HTTP handlers to the stores.
type Server struct {
	router   chi.Router
	programs store.ProgramStore
	gaps     store.GapStore
	jobs     store.JobStore
	payments store.PaymentStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	programs store.ProgramStore,
	gapStore store.GapStore,
	jobs store.JobStore,
	payments store.PaymentStore,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		programs: programs,
		gaps:     gapStore,
		jobs:     jobs,
		payments: payments,
		logger:   logger,
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/match", s.matchPrograms)
		r.Get("/programs", s.listPrograms)
		r.Get("/programs/{logical_id}", s.getProgram)
		r.Get("/gaps", s.listGaps)
		r.Get("/gaps/summary", s.gapSummary)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/payments", s.listPayments)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Probe the program store so readiness reflects database health.
	if _, err := s.programs.ListPrograms(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type matchRequest struct {
	Criteria []string `json:"criteria"`
}

func (s *Server) matchPrograms(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	selected := make([]catalog.CriteriaFlag, 0, len(req.Criteria))
	for _, raw := range req.Criteria {
		selected = append(selected, catalog.CriteriaFlag(raw))
	}
	if err := match.ValidateProfile(selected); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	programs, err := s.programs.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list programs")
		return
	}
	results := match.Match(programs, selected)
	metrics.ObserveMatchRequest()
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) listPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := s.programs.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list programs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": programs, "count": len(programs)})
}

func (s *Server) getProgram(w http.ResponseWriter, r *http.Request) {
	logicalID := chi.URLParam(r, "logical_id")
	program, err := s.programs.GetProgram(r.Context(), logicalID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "program not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch program")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"program": program})
}

func (s *Server) listGaps(w http.ResponseWriter, r *http.Request) {
	logicalID := r.URL.Query().Get("logical_id")
	rows, err := s.gaps.ListGaps(r.Context(), logicalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list gaps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gaps": rows, "count": len(rows)})
}

func (s *Server) gapSummary(w http.ResponseWriter, r *http.Request) {
	programs, err := s.programs.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list programs")
		return
	}
	writeJSON(w, http.StatusOK, gaps.Summarize(programs))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": rows, "count": len(rows)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	program := r.URL.Query().Get("program")
	rows, err := s.payments.ListHistoricalPayments(r.Context(), program)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": rows, "count": len(rows)})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
