package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ledger-auditor/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	JobLedgerIntegrityCheck  = "ledger-integrity-check"
	JobBalanceReconciliation = "balance-reconciliation"
)

type Job struct {
	Name     string
	Policy   *DriftPolicy
	Interval time.Duration
}

func LockKey(jobName string) string {
	return "ledger-audit:run:" + jobName
}

type ReconciliationOptions struct {
	Workers                 int
	TopN                    int
	AcceptableDiscrepancies int
}

// ReconciliationDeps groups the collaborators of a run. Locker and Archive
// are optional.
type ReconciliationDeps struct {
	Ledger     LedgerStore
	Runs       RunStore
	Balance    *BalanceService
	Classifier *DriftClassifier
	Notifier   *NotificationService
	Locker     RunLocker
	Archive    RunArchive
}

type ReconciliationService struct {
	deps   ReconciliationDeps
	opts   ReconciliationOptions
	logger zerolog.Logger
	now    func() time.Time
}

func NewReconciliationService(deps ReconciliationDeps, opts ReconciliationOptions, logger zerolog.Logger) *ReconciliationService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TopN <= 0 {
		opts.TopN = 20
	}
	if opts.AcceptableDiscrepancies <= 0 {
		opts.AcceptableDiscrepancies = 5
	}
	return &ReconciliationService{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

type walletResult struct {
	checked     bool
	clean       bool
	discrepancy models.Discrepancy
	outcome     DriftOutcome
}

// Run executes one reconciliation pass over every wallet. Per-wallet failures
// are logged and excluded; a failure to list wallets, record the run, or a
// cancelled context fails the run and is returned.
func (s *ReconciliationService) Run(ctx context.Context, job Job) (*models.RunSummary, error) {
	if job.Policy == nil {
		return nil, fmt.Errorf("job %s has no drift policy", job.Name)
	}

	if s.deps.Locker != nil {
		release, err := s.deps.Locker.Acquire(ctx, LockKey(job.Name))
		if err != nil {
			if errors.Is(err, models.ErrRunInProgress) {
				s.logger.Warn().Str("job", job.Name).Msg("Reconciliation already running, skipping")
			}
			return nil, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to release run lock")
			}
		}()
	}

	correlationID := uuid.NewString()
	startedAt := s.now()

	runID, err := s.deps.Runs.CreateRun(ctx, job.Name, map[string]any{
		"policy":         job.Policy.Name,
		"correlation_id": correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create monitoring run: %w", err)
	}

	log := s.logger.With().
		Str("job", job.Name).
		Int64("run_id", runID).
		Str("correlation_id", correlationID).
		Logger()
	log.Info().Str("policy", job.Policy.Name).Msg("Reconciliation run started")

	summary, err := s.execute(ctx, log, runID, job)
	if err != nil {
		s.fail(log, runID, correlationID, err, ctx.Err() != nil)
		return nil, err
	}
	summary.CorrelationID = correlationID
	summary.StartedAt = startedAt
	summary.CompletedAt = s.now()

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	err = s.deps.Runs.FinishRun(finishCtx, runID, models.RunStatusCompleted, summary)
	cancel()
	if err != nil {
		err = fmt.Errorf("failed to complete monitoring run: %w", err)
		s.fail(log, runID, correlationID, err, false)
		return nil, err
	}

	log.Info().
		Int("users_checked", summary.UsersChecked).
		Int("failed_wallets", summary.FailedWallets).
		Int("discrepancies", summary.DiscrepanciesFound).
		Int64("total_drift", summary.TotalDrift).
		Str("status", string(summary.Status)).
		Dur("duration", summary.CompletedAt.Sub(startedAt)).
		Msg("Reconciliation run completed")

	if summary.DiscrepanciesFound > 0 && s.deps.Notifier != nil {
		result, err := s.deps.Notifier.NotifyAdmins(ctx, summary)
		if err != nil {
			log.Error().Err(err).Msg("Failed to notify admins")
		} else {
			summary.Notifications = result
		}
	}

	if s.deps.Archive != nil {
		if err := s.deps.Archive.Archive(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("Failed to archive run summary")
		}
	}

	return summary, nil
}

func (s *ReconciliationService) execute(ctx context.Context, log zerolog.Logger, runID int64, job Job) (*models.RunSummary, error) {
	wallets, err := s.deps.Ledger.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	results := make([]walletResult, len(wallets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, wallet := range wallets {
		i, wallet := i, wallet
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.checkWallet(gctx, log, runID, job.Policy, wallet)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconciliation cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reconciliation cancelled: %w", err)
	}

	summary := s.summarize(results)
	summary.RunID = runID
	summary.JobName = job.Name
	summary.Policy = job.Policy.Name
	summary.WalletsTotal = len(wallets)
	return summary, nil
}

func (s *ReconciliationService) checkWallet(ctx context.Context, log zerolog.Logger, runID int64, policy *DriftPolicy, wallet models.Wallet) walletResult {
	journal, err := s.deps.Balance.JournalBalance(ctx, wallet.ID)
	if err != nil {
		log.Error().Err(err).
			Int64("wallet_id", wallet.ID).
			Int64("user_id", wallet.UserID).
			Msg("Wallet balance check failed, skipping")
		return walletResult{}
	}

	cls := policy.Classify(wallet.Balance, journal)
	if cls.Clean {
		return walletResult{checked: true, clean: true}
	}

	d := models.Discrepancy{
		UserID:         wallet.UserID,
		WalletID:       wallet.ID,
		Username:       s.deps.Balance.Username(ctx, wallet.UserID),
		WalletBalance:  wallet.Balance,
		JournalBalance: journal,
		Drift:          cls.Drift,
		Severity:       cls.Severity,
	}

	outcome := s.deps.Classifier.Apply(ctx, runID, d, cls)
	d.Suppressed = outcome.Suppressed

	return walletResult{checked: true, discrepancy: d, outcome: outcome}
}

func (s *ReconciliationService) summarize(results []walletResult) *models.RunSummary {
	summary := &models.RunSummary{
		BySeverity:       map[models.Severity]int{},
		TopDiscrepancies: []models.Discrepancy{},
	}

	var discrepancies []models.Discrepancy
	for _, r := range results {
		if !r.checked {
			summary.FailedWallets++
			continue
		}
		summary.UsersChecked++
		if r.clean {
			continue
		}

		summary.DiscrepanciesFound++
		summary.TotalDrift += r.discrepancy.Drift
		summary.BySeverity[r.discrepancy.Severity]++
		if r.outcome.Alert {
			summary.AlertsEmitted++
		}
		if r.outcome.FraudSignal {
			summary.FraudSignals++
		}
		discrepancies = append(discrepancies, r.discrepancy)
	}

	summary.TopDiscrepancies = append(summary.TopDiscrepancies, TopDiscrepancies(discrepancies, s.opts.TopN)...)
	summary.Status = ReportStatusFor(summary.DiscrepanciesFound, s.opts.AcceptableDiscrepancies)
	return summary
}

// TopDiscrepancies returns at most n discrepancies, largest drift first.
// Ties are ordered by user id so the report is stable across runs.
func TopDiscrepancies(discrepancies []models.Discrepancy, n int) []models.Discrepancy {
	sorted := make([]models.Discrepancy, len(discrepancies))
	copy(sorted, discrepancies)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Drift != sorted[j].Drift {
			return sorted[i].Drift > sorted[j].Drift
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func (s *ReconciliationService) fail(log zerolog.Logger, runID int64, correlationID string, runErr error, cancelled bool) {
	log.Error().Err(runErr).Bool("cancelled", cancelled).Msg("Reconciliation run failed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metadata := map[string]any{
		"error":          runErr.Error(),
		"cancelled":      cancelled,
		"correlation_id": correlationID,
		"failed_at":      s.now(),
	}
	if err := s.deps.Runs.FinishRun(ctx, runID, models.RunStatusFailed, metadata); err != nil {
		log.Error().Err(err).Msg("Failed to mark monitoring run as failed")
	}
}

// CheckUser inspects a single wallet with the job's policy. Nothing is written.
func (s *ReconciliationService) CheckUser(ctx context.Context, userID int64, job Job) (*models.WalletCheck, error) {
	return s.deps.Balance.CheckWallet(ctx, userID, job.Policy)
}

func (s *ReconciliationService) GetRun(ctx context.Context, runID int64) (*models.MonitoringRun, error) {
	return s.deps.Runs.GetRun(ctx, runID)
}

func (s *ReconciliationService) ListRuns(ctx context.Context, jobName string, limit, offset int) ([]*models.MonitoringRun, error) {
	return s.deps.Runs.ListRuns(ctx, jobName, limit, offset)
}
