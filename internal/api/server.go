// Package api exposes the power service over HTTP.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mixpower/app"
	"mixpower/domain/core"
	"mixpower/domain/power"
	"mixpower/internal"
	"mixpower/internal/config"
	apperrors "mixpower/internal/errors"
	"mixpower/internal/report"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Options are server-side defaults applied to every request.
type Options struct {
	Workers          int
	SweepConcurrency int
}

// Server routes power and sweep requests to the PowerService.
type Server struct {
	router  *chi.Mux
	service *app.PowerService
	opts    Options
	logger  *internal.Logger
}

// RunResponse is returned for a completed power run.
type RunResponse struct {
	RunID       string              `json:"run_id"`
	Fingerprint string              `json:"fingerprint"`
	DurationMs  int64               `json:"duration_ms"`
	Records     []power.PowerRecord `json:"records"`
}

// SweepResponse is returned for a completed sweep.
type SweepResponse struct {
	SweepID    string              `json:"sweep_id"`
	Points     int                 `json:"points"`
	DurationMs int64               `json:"duration_ms"`
	Records    []power.PowerRecord `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewServer creates the HTTP server
func NewServer(service *app.PowerService, opts Options, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &Server{
		router:  chi.NewRouter(),
		service: service,
		opts:    opts,
		logger:  logger.With("api"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Minute))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/api/power", s.handlePower)
	s.router.Post("/api/sweep", s.handleSweep)
	s.router.Get("/api/runs/{id}", s.handleGetRun)
	s.router.Get("/api/sweeps/{id}", s.handleGetSweep)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePower runs one simulation. The body is a run file in JSON (or YAML) form.
// With ?format=html the response is the rendered report instead of JSON.
func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	req, _, err := s.decodeRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	run, err := s.service.RunPower(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(report.HTML("Power analysis", []*power.Run{run}))
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{
		RunID:       run.ID.String(),
		Fingerprint: string(run.Fingerprint),
		DurationMs:  run.Duration.Milliseconds(),
		Records:     run.Records(""),
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	req, rf, err := s.decodeRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rf.Sweep == nil {
		s.writeError(w, core.NewArgumentError("sweep", "section is required"))
		return
	}

	concurrency := rf.Sweep.Concurrency
	if concurrency <= 0 {
		concurrency = s.opts.SweepConcurrency
	}
	outcome, err := s.service.RunSweep(r.Context(), app.SweepRequest{
		PowerRequest: req,
		SubjectNs:    rf.Sweep.SubjectN,
		ItemNs:       rf.Sweep.ItemN,
		Concurrency:  concurrency,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse{
		SweepID:    outcome.ID.String(),
		Points:     len(outcome.Results),
		DurationMs: outcome.Duration.Milliseconds(),
		Records:    outcome.Records(),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, core.NewArgumentError("id", err.Error()))
		return
	}
	s.writeRecords(w, r, func() ([]power.PowerRecord, error) {
		return s.service.Repository().ListByRun(r.Context(), id.String())
	})
}

func (s *Server) handleGetSweep(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseSweepID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, core.NewArgumentError("id", err.Error()))
		return
	}
	s.writeRecords(w, r, func() ([]power.PowerRecord, error) {
		return s.service.Repository().ListBySweep(r.Context(), id.String())
	})
}

func (s *Server) writeRecords(w http.ResponseWriter, r *http.Request, list func() ([]power.PowerRecord, error)) {
	if s.service.Repository() == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "no repository configured", Code: apperrors.CodeConfigInvalid})
		return
	}
	records, err := list()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// decodeRequest parses the body as a run file. Pool files are not read on the
// server; pools must be inline.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (app.PowerRequest, *config.RunFile, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return app.PowerRequest{}, nil, apperrors.InvalidInput("request body too large or unreadable")
	}
	rf, err := config.ParseRunFile(body)
	if err != nil {
		return app.PowerRequest{}, nil, err
	}
	for _, f := range rf.Design.Factors {
		if f.PoolFile != "" {
			return app.PowerRequest{}, nil, apperrors.InvalidInput("pool_file is not accepted over HTTP; send the pool inline")
		}
	}

	spec, err := rf.Spec()
	if err != nil {
		return app.PowerRequest{}, nil, err
	}
	contrasts, err := rf.Contrasts()
	if err != nil {
		return app.PowerRequest{}, nil, err
	}
	return app.PowerRequest{
		Design:    spec,
		Formula:   rf.Model.Formula,
		Contrasts: contrasts,
		Config:    rf.SimulationConfig(s.opts.Workers),
	}, rf, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	} else {
		s.logger.Debug("rejected request: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: codeFor(err)})
}

func statusFor(err error) int {
	if core.IsCallerError(err) {
		return http.StatusBadRequest
	}
	if core.IsFitFailure(err) {
		return http.StatusUnprocessableEntity
	}
	switch apperrors.GetCode(err) {
	case apperrors.CodeInvalidInput, apperrors.CodeConfigInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	switch {
	case core.IsInvalidSpec(err):
		return "INVALID_SPEC"
	case core.IsInvalidArgument(err):
		return "INVALID_ARGUMENT"
	case core.IsFitFailure(err):
		return "FIT_FAILED"
	case apperrors.IsAppError(err):
		return apperrors.GetCode(err)
	}
	return apperrors.CodeInternalError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
