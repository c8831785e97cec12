package services

import (
	"context"
	"errors"
	"fmt"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

func ReportStatusFor(discrepancies, acceptable int) models.ReportStatus {
	switch {
	case discrepancies == 0:
		return models.ReportClean
	case discrepancies < acceptable:
		return models.ReportAcceptable
	default:
		return models.ReportRequiresAttention
	}
}

func PriorityFor(status models.ReportStatus) models.Priority {
	if status == models.ReportRequiresAttention {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

type NotificationService struct {
	queue  NotificationQueue
	users  UserLookup
	topN   int
	logger zerolog.Logger
}

func NewNotificationService(queue NotificationQueue, users UserLookup, topN int, logger zerolog.Logger) *NotificationService {
	if topN <= 0 {
		topN = 10
	}
	return &NotificationService{
		queue:  queue,
		users:  users,
		topN:   topN,
		logger: logger,
	}
}

func (s *NotificationService) BuildReport(summary *models.RunSummary) map[string]any {
	top := summary.TopDiscrepancies
	if len(top) > s.topN {
		top = top[:s.topN]
	}

	return map[string]any{
		"runId":              summary.RunID,
		"jobName":            summary.JobName,
		"policy":             summary.Policy,
		"status":             summary.Status,
		"usersChecked":       summary.UsersChecked,
		"failedWallets":      summary.FailedWallets,
		"discrepanciesFound": summary.DiscrepanciesFound,
		"totalDrift":         summary.TotalDrift,
		"bySeverity":         summary.BySeverity,
		"topDiscrepancies":   top,
		"startedAt":          summary.StartedAt,
		"completedAt":        summary.CompletedAt,
	}
}

func (s *NotificationService) Subject(summary *models.RunSummary) string {
	return fmt.Sprintf("[%s] Coin ledger reconciliation: %d discrepancies, %d coins total drift",
		summary.Status, summary.DiscrepanciesFound, summary.TotalDrift)
}

// NotifyAdmins queues the run report for every admin account.
func (s *NotificationService) NotifyAdmins(ctx context.Context, summary *models.RunSummary) (*models.DispatchResult, error) {
	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin recipients: %w", err)
	}
	result := s.Dispatch(ctx, summary, admins)
	return &result, nil
}

// Dispatch queues one email per recipient. A failure for one recipient does not
// stop the others.
func (s *NotificationService) Dispatch(ctx context.Context, summary *models.RunSummary, recipients []models.User) models.DispatchResult {
	result := models.DispatchResult{Recipients: len(recipients)}
	payload := s.BuildReport(summary)
	subject := s.Subject(summary)
	priority := PriorityFor(summary.Status)

	for _, admin := range recipients {
		log := s.logger.With().Int64("run_id", summary.RunID).Int64("recipient_id", admin.ID).Logger()

		if admin.Email == "" {
			log.Warn().Msg("Admin has no email address, skipping notification")
			result.Failed++
			continue
		}

		err := s.queue.QueueEmail(ctx, models.EmailNotification{
			RecipientID:    admin.ID,
			TemplateKey:    models.TemplateLedgerReconciliation,
			RecipientEmail: admin.Email,
			Subject:        subject,
			Payload:        payload,
			Priority:       priority,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Notification queueing cancelled")
			} else {
				log.Error().Err(err).Msg("Failed to queue reconciliation email")
			}
			result.Failed++
			continue
		}
		result.Queued++
	}

	s.logger.Info().
		Int64("run_id", summary.RunID).
		Int("queued", result.Queued).
		Int("failed", result.Failed).
		Str("priority", string(priority)).
		Msg("Reconciliation notifications dispatched")

	return result
}
