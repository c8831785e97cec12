package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

type MonitoringRun struct {
	ID          int64           `json:"id"`
	JobName     string          `json:"job_name"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	AlertTypeBalanceDrift        = "balance_drift"
	FraudSignalSuspiciousPattern = "suspicious_pattern"
)

type MonitoringAlert struct {
	ID               int64           `json:"id"`
	Type             string          `json:"type"`
	Severity         Severity        `json:"severity"`
	Message          string          `json:"message"`
	AffectedEntities json.RawMessage `json:"affected_entities"`
	CreatedAt        time.Time       `json:"created_at"`
}

type FraudSignal struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      string          `json:"type"`
	Severity  Severity        `json:"severity"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
