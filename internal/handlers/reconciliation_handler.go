package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ledger-auditor/internal/middleware"
	"ledger-auditor/internal/models"
	"ledger-auditor/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const maxRunsPageSize = 200

type RunReader interface {
	GetRun(ctx context.Context, runID int64) (*models.MonitoringRun, error)
	ListRuns(ctx context.Context, jobName string, limit, offset int) ([]*models.MonitoringRun, error)
}

type RunTrigger interface {
	Trigger(name string) error
}

type ReconciliationHandler struct {
	runs    RunReader
	trigger RunTrigger
	logger  zerolog.Logger
}

func NewReconciliationHandler(runs RunReader, trigger RunTrigger, logger zerolog.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{
		runs:    runs,
		trigger: trigger,
		logger:  logger,
	}
}

func (h *ReconciliationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1)
	if limit > maxRunsPageSize {
		limit = maxRunsPageSize
	}
	offset := queryInt(r, "offset", 0, 0)
	job := r.URL.Query().Get("job")

	runs, err := h.runs.ListRuns(r.Context(), job, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r)).Msg("Failed to list monitoring runs")
		respondWithError(w, http.StatusInternalServerError, "fetch_failed", "Failed to list monitoring runs")
		return
	}
	if runs == nil {
		runs = []*models.MonitoringRun{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *ReconciliationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || runID <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Run id must be a positive integer")
		return
	}

	run, err := h.runs.GetRun(r.Context(), runID)
	if errors.Is(err, models.ErrRunNotFound) {
		respondWithError(w, http.StatusNotFound, "not_found", "Monitoring run not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("run_id", runID).Msg("Failed to fetch monitoring run")
		respondWithError(w, http.StatusInternalServerError, "fetch_failed", "Failed to fetch monitoring run")
		return
	}

	respondWithJSON(w, http.StatusOK, run)
}

type triggerRequest struct {
	Job string `json:"job"`
}

// TriggerRun queues a run in the background. Overlap with a running job is
// resolved by the run lock, so a 202 does not guarantee a new run row.
func (h *ReconciliationHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	req := triggerRequest{Job: services.JobLedgerIntegrityCheck}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
			return
		}
	}
	if req.Job == "" {
		req.Job = services.JobLedgerIntegrityCheck
	}

	if err := h.trigger.Trigger(req.Job); err != nil {
		if errors.Is(err, models.ErrUnknownJob) {
			respondWithError(w, http.StatusNotFound, "unknown_job", err.Error())
			return
		}
		h.logger.Error().Err(err).Str("job", req.Job).Msg("Failed to trigger run")
		respondWithError(w, http.StatusInternalServerError, "trigger_failed", "Failed to trigger run")
		return
	}

	h.logger.Info().Str("job", req.Job).Str("request_id", middleware.GetRequestID(r)).Msg("Run triggered via API")
	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"job":    req.Job,
		"status": "accepted",
	})
}
