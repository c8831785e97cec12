package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"ledger-auditor/internal/models"
	"ledger-auditor/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type WalletChecker interface {
	CheckUser(ctx context.Context, userID int64, job services.Job) (*models.WalletCheck, error)
}

// BalanceHandler serves read-only drift checks for a single wallet.
type BalanceHandler struct {
	checker WalletChecker
	jobs    []services.Job
	logger  zerolog.Logger
}

func NewBalanceHandler(checker WalletChecker, jobs []services.Job, logger zerolog.Logger) *BalanceHandler {
	return &BalanceHandler{
		checker: checker,
		jobs:    jobs,
		logger:  logger,
	}
}

func (h *BalanceHandler) CheckWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	if err != nil || userID <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "User id must be a positive integer")
		return
	}

	jobName := r.URL.Query().Get("job")
	if jobName == "" {
		jobName = services.JobLedgerIntegrityCheck
	}
	job, err := services.FindJob(h.jobs, jobName)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "unknown_job", err.Error())
		return
	}

	check, err := h.checker.CheckUser(r.Context(), userID, job)
	if errors.Is(err, models.ErrWalletNotFound) {
		respondWithError(w, http.StatusNotFound, "not_found", "Wallet not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to check wallet")
		respondWithError(w, http.StatusInternalServerError, "check_failed", "Failed to check wallet")
		return
	}

	respondWithJSON(w, http.StatusOK, check)
}
