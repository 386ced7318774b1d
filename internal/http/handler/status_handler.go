// Package handler serves the read-only training status API.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/dqn-trader/internal/datastore"
	"github.com/your-org/dqn-trader/internal/trainer"
)

// ProgressSource is satisfied by *trainer.Trainer.
type ProgressSource interface {
	Progress() trainer.Progress
}

// StatusHandler exposes the live trainer snapshot and, when a repository is
// configured, summaries of recorded runs.
type StatusHandler struct {
	src    ProgressSource
	repo   datastore.Repository
	logger *zap.Logger
}

// NewStatusHandler creates a StatusHandler. repo may be nil.
func NewStatusHandler(src ProgressSource, repo datastore.Repository, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{src: src, repo: repo, logger: logger}
}

// RegisterRoutes registers the status routes on r.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", HealthCheckHandler(h.src))
	r.Get("/status", h.GetStatus)
	r.Get("/system", h.GetSystem)
	r.Get("/runs/{runID}/summary", h.GetRunSummary)
}

// GetStatus returns the trainer's progress snapshot.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.src == nil {
		writeError(w, http.StatusServiceUnavailable, "no trainer attached")
		return
	}
	writeJSON(w, http.StatusOK, h.src.Progress())
}

type runSummaryResponse struct {
	RunID        string          `json:"run_id"`
	ModelVersion string          `json:"model_version"`
	Summary      trainer.Summary `json:"summary"`
}

// GetRunSummary summarizes a recorded run. The run ID "latest" selects the
// most recently started run.
func (h *StatusHandler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "no run repository configured")
		return
	}
	runID := chi.URLParam(r, "runID")
	if runID == "latest" {
		runID = ""
	}

	run, history, err := datastore.LoadRunHistory(r.Context(), h.repo, runID)
	if errors.Is(err, datastore.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load run summary", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run summary")
		return
	}
	writeJSON(w, http.StatusOK, runSummaryResponse{
		RunID:        run.RunID,
		ModelVersion: run.ModelVersion,
		Summary:      history.Summarize(),
	})
}
