package services

import (
	"context"

	"ledger-auditor/internal/models"
)

// LedgerStore is the read side of the coin ledger. The auditor never writes to it.
type LedgerStore interface {
	ListWallets(ctx context.Context) ([]models.Wallet, error)
	SumJournalEntries(ctx context.Context, walletID int64) (models.JournalTotals, error)
	GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error)
}

// UserLookup returns models.ErrUserNotFound for absent users.
type UserLookup interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)
}

// RunStore persists monitoring runs. FinishRun must return models.ErrRunFinished
// when the run already reached a terminal status.
type RunStore interface {
	CreateRun(ctx context.Context, jobName string, metadata any) (int64, error)
	FinishRun(ctx context.Context, runID int64, status models.RunStatus, metadata any) error
	GetRun(ctx context.Context, runID int64) (*models.MonitoringRun, error)
	ListRuns(ctx context.Context, jobName string, limit, offset int) ([]*models.MonitoringRun, error)
}

type AlertSink interface {
	CreateAlert(ctx context.Context, alert models.MonitoringAlert) error
	CreateFraudSignal(ctx context.Context, signal models.FraudSignal) error
}

type NotificationQueue interface {
	QueueEmail(ctx context.Context, notification models.EmailNotification) error
}

// RunLocker guards a job against overlapping runs. Acquire returns
// models.ErrRunInProgress when another holder owns the key.
type RunLocker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

type RunArchive interface {
	Archive(ctx context.Context, summary *models.RunSummary) error
}

// AlertSuppressor reports whether an alert for the given user and severity
// may be emitted, recording the emission when it returns true.
type AlertSuppressor interface {
	Allow(ctx context.Context, userID int64, severity models.Severity) (bool, error)
}
