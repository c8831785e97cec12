package models

import "time"

type Discrepancy struct {
	UserID         int64    `json:"user_id"`
	WalletID       int64    `json:"wallet_id"`
	Username       string   `json:"username"`
	WalletBalance  int64    `json:"wallet_balance"`
	JournalBalance int64    `json:"journal_balance"`
	Drift          int64    `json:"drift"`
	Severity       Severity `json:"severity"`
	Suppressed     bool     `json:"suppressed,omitempty"`
}

// ReportStatus classifies a whole run for admins.
type ReportStatus string

const (
	ReportClean             ReportStatus = "CLEAN"
	ReportAcceptable        ReportStatus = "ACCEPTABLE"
	ReportRequiresAttention ReportStatus = "REQUIRES_ATTENTION"
)

type RunSummary struct {
	RunID              int64            `json:"run_id"`
	CorrelationID      string           `json:"correlation_id"`
	JobName            string           `json:"job_name"`
	Policy             string           `json:"policy"`
	Status             ReportStatus     `json:"status"`
	WalletsTotal       int              `json:"wallets_total"`
	UsersChecked       int              `json:"users_checked"`
	FailedWallets      int              `json:"failed_wallets"`
	DiscrepanciesFound int              `json:"discrepancies_found"`
	TotalDrift         int64            `json:"total_drift"`
	BySeverity         map[Severity]int `json:"by_severity"`
	AlertsEmitted      int              `json:"alerts_emitted"`
	FraudSignals       int              `json:"fraud_signals"`
	TopDiscrepancies   []Discrepancy    `json:"top_discrepancies"`
	Notifications      *DispatchResult  `json:"notifications,omitempty"`
	StartedAt          time.Time        `json:"started_at"`
	CompletedAt        time.Time        `json:"completed_at"`
}

// WalletCheck is the side-effect free result of inspecting one wallet.
type WalletCheck struct {
	UserID         int64    `json:"user_id"`
	WalletID       int64    `json:"wallet_id"`
	Username       string   `json:"username"`
	WalletBalance  int64    `json:"wallet_balance"`
	JournalBalance int64    `json:"journal_balance"`
	Drift          int64    `json:"drift"`
	Clean          bool     `json:"clean"`
	Severity       Severity `json:"severity,omitempty"`
	Policy         string   `json:"policy"`
}
