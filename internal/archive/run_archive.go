package archive

import (
	"context"
	"fmt"
	"time"

	"ledger-auditor/internal/models"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const runsCollection = "reconciliation_runs"

type DiscrepancyDoc struct {
	UserID         int64  `bson:"user_id"`
	WalletID       int64  `bson:"wallet_id"`
	Username       string `bson:"username"`
	WalletBalance  int64  `bson:"wallet_balance"`
	JournalBalance int64  `bson:"journal_balance"`
	Drift          int64  `bson:"drift"`
	Severity       string `bson:"severity"`
	Suppressed     bool   `bson:"suppressed"`
}

// RunDocument is one archived run summary. The correlation id doubles as _id
// so re-archiving the same run fails instead of duplicating it.
type RunDocument struct {
	ID                 string           `bson:"_id"`
	RunID              int64            `bson:"run_id"`
	JobName            string           `bson:"job_name"`
	Policy             string           `bson:"policy"`
	Status             string           `bson:"status"`
	WalletsTotal       int              `bson:"wallets_total"`
	UsersChecked       int              `bson:"users_checked"`
	FailedWallets      int              `bson:"failed_wallets"`
	DiscrepanciesFound int              `bson:"discrepancies_found"`
	TotalDrift         int64            `bson:"total_drift"`
	BySeverity         map[string]int   `bson:"by_severity"`
	AlertsEmitted      int              `bson:"alerts_emitted"`
	FraudSignals       int              `bson:"fraud_signals"`
	TopDiscrepancies   []DiscrepancyDoc `bson:"top_discrepancies"`
	EmailsQueued       int              `bson:"emails_queued"`
	StartedAt          time.Time        `bson:"started_at"`
	CompletedAt        time.Time        `bson:"completed_at"`
	ArchivedAt         time.Time        `bson:"archived_at"`
}

type RunArchive struct {
	collection *mongo.Collection
}

func NewRunArchive(client *mongo.Client, dbName string) *RunArchive {
	return &RunArchive{collection: client.Database(dbName).Collection(runsCollection)}
}

func (a *RunArchive) Archive(ctx context.Context, summary *models.RunSummary) error {
	doc := NewRunDocument(summary, time.Now().UTC())
	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to archive run %d: %w", summary.RunID, err)
	}
	return nil
}

func NewRunDocument(s *models.RunSummary, archivedAt time.Time) RunDocument {
	doc := RunDocument{
		ID:                 s.CorrelationID,
		RunID:              s.RunID,
		JobName:            s.JobName,
		Policy:             s.Policy,
		Status:             string(s.Status),
		WalletsTotal:       s.WalletsTotal,
		UsersChecked:       s.UsersChecked,
		FailedWallets:      s.FailedWallets,
		DiscrepanciesFound: s.DiscrepanciesFound,
		TotalDrift:         s.TotalDrift,
		BySeverity:         make(map[string]int, len(s.BySeverity)),
		AlertsEmitted:      s.AlertsEmitted,
		FraudSignals:       s.FraudSignals,
		TopDiscrepancies:   make([]DiscrepancyDoc, 0, len(s.TopDiscrepancies)),
		StartedAt:          s.StartedAt,
		CompletedAt:        s.CompletedAt,
		ArchivedAt:         archivedAt,
	}
	for sev, n := range s.BySeverity {
		doc.BySeverity[string(sev)] = n
	}
	for _, d := range s.TopDiscrepancies {
		doc.TopDiscrepancies = append(doc.TopDiscrepancies, DiscrepancyDoc{
			UserID:         d.UserID,
			WalletID:       d.WalletID,
			Username:       d.Username,
			WalletBalance:  d.WalletBalance,
			JournalBalance: d.JournalBalance,
			Drift:          d.Drift,
			Severity:       string(d.Severity),
			Suppressed:     d.Suppressed,
		})
	}
	if s.Notifications != nil {
		doc.EmailsQueued = s.Notifications.Queued
	}
	return doc
}
