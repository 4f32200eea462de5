// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/antidetect"
	"github.com/quizforge/question-harvester/internal/harvest"
	"github.com/quizforge/question-harvester/internal/telemetry"
)

// JobService is the slice of the job manager the API needs.
type JobService interface {
	Submit(ctx context.Context, spec harvest.JobSpec) (harvest.Job, error)
	Start(ctx context.Context, jobID string) (harvest.Job, error)
	Pause(ctx context.Context, jobID string) (harvest.Job, error)
	Resume(ctx context.Context, jobID string) (harvest.Job, error)
	Cancel(ctx context.Context, jobID string) (harvest.Job, error)
	Status(ctx context.Context, jobID string) (harvest.Job, error)
	List(ctx context.Context, filter harvest.JobFilter) ([]harvest.Job, int, error)
}

// Config carries the server knobs the handlers need.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the job manager and source registry.
type Server struct {
	router  chi.Router
	jobs    JobService
	sources []harvest.SourceConfig
	risk    *antidetect.Controller
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. risk may be
// nil; source endpoints then omit the risk snapshot.
func NewServer(
	jobs JobService,
	sources []harvest.SourceConfig,
	risk *antidetect.Controller,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		jobs:    jobs,
		sources: sources,
		risk:    risk,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Put("/start", s.transition("start", jobs.Start))
				r.Put("/pause", s.transition("pause", jobs.Pause))
				r.Put("/resume", s.transition("resume", jobs.Resume))
				r.Put("/cancel", s.transition("cancel", jobs.Cancel))
			})
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Get("/{source_id}", s.getSource)
		})
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var spec harvest.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	job, err := s.jobs.Submit(r.Context(), spec)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

type transitionFunc func(ctx context.Context, jobID string) (harvest.Job, error)

func (s *Server) transition(action string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		job, err := fn(r.Context(), jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": job.ID,
			"action": action,
			"status": string(job.Status),
		})
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := harvest.JobFilter{
		Status:   harvest.JobStatus(q.Get("status")),
		SourceID: q.Get("source"),
		Page:     intQuery(q.Get("page"), 1),
		PerPage:  intQuery(q.Get("per_page"), 20),
	}
	jobs, total, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []harvest.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":     jobs,
		"total":    total,
		"page":     filter.Page,
		"per_page": filter.PerPage,
	})
}

type sourceView struct {
	harvest.SourceConfig
	Risk *harvest.SourceRiskState `json:"risk,omitempty"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	views := make([]sourceView, 0, len(s.sources))
	for _, src := range s.sources {
		views = append(views, s.sourceView(src))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": views})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	for _, src := range s.sources {
		if src.ID == sourceID {
			writeJSON(w, http.StatusOK, s.sourceView(src))
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("source %s not found", sourceID))
}

func (s *Server) sourceView(src harvest.SourceConfig) sourceView {
	view := sourceView{SourceConfig: src}
	if s.risk != nil {
		snapshot := s.risk.Snapshot(src.ID)
		view.Risk = &snapshot
	}
	return view
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, harvest.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "job not found")
	case harvest.CodeOf(err) == harvest.CodeInvalidTransition:
		writeError(w, http.StatusConflict, string(harvest.CodeInvalidTransition), err.Error())
	case harvest.CodeOf(err) == harvest.CodeInvalidJobConfig:
		writeError(w, http.StatusBadRequest, string(harvest.CodeInvalidJobConfig), err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]map[string]string{
		"error": {"code": code, "message": msg},
	})
}
