package models

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
)

const TemplateLedgerReconciliation = "ledger_reconciliation_report"

type EmailNotification struct {
	RecipientID    int64          `json:"recipient_id"`
	TemplateKey    string         `json:"template_key"`
	RecipientEmail string         `json:"recipient_email"`
	Subject        string         `json:"subject"`
	Payload        map[string]any `json:"payload"`
	Priority       Priority       `json:"priority"`
}

type DispatchResult struct {
	Recipients int `json:"recipients"`
	Queued     int `json:"queued"`
	Failed     int `json:"failed"`
}
