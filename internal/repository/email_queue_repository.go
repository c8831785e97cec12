package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

// EmailQueueRepository queues emails in the email_queue table drained by the
// site's mail worker.
type EmailQueueRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewEmailQueueRepository(db *sql.DB, logger zerolog.Logger) *EmailQueueRepository {
	return &EmailQueueRepository{
		db:     db,
		logger: logger,
	}
}

func (r *EmailQueueRepository) QueueEmail(ctx context.Context, n models.EmailNotification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode email payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO email_queue (recipient_id, recipient_email, template_key, subject, payload, priority)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.RecipientID, n.RecipientEmail, n.TemplateKey, n.Subject, payload, string(n.Priority),
	)
	if err != nil {
		return fmt.Errorf("failed to queue email: %w", err)
	}

	r.logger.Debug().
		Int64("recipient_id", n.RecipientID).
		Str("template", n.TemplateKey).
		Str("priority", string(n.Priority)).
		Msg("Email queued")
	return nil
}
