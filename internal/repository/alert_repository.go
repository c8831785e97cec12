package repository

import (
	"context"
	"database/sql"
	"fmt"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

type AlertRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewAlertRepository(db *sql.DB, logger zerolog.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

func (r *AlertRepository) CreateAlert(ctx context.Context, alert models.MonitoringAlert) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO monitoring_alerts (type, severity, message, affected_entities) VALUES (?, ?, ?, ?)",
		alert.Type, string(alert.Severity), alert.Message, nullJSON(alert.AffectedEntities),
	)
	if err != nil {
		return fmt.Errorf("failed to insert monitoring alert: %w", err)
	}
	return nil
}

func (r *AlertRepository) CreateFraudSignal(ctx context.Context, signal models.FraudSignal) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO fraud_signals (user_id, signal_type, severity, payload) VALUES (?, ?, ?, ?)",
		signal.UserID, signal.Type, string(signal.Severity), nullJSON(signal.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fraud signal: %w", err)
	}
	return nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
