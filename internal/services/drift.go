package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	PolicyTiered = "tiered"
	PolicySimple = "simple"
)

// Tier applies to any drift strictly greater than Above.
type Tier struct {
	Severity    models.Severity `yaml:"severity" json:"severity"`
	Above       int64           `yaml:"above" json:"above"`
	FraudSignal bool            `yaml:"fraud_signal" json:"fraud_signal"`
}

// DriftPolicy is a threshold table. Drift at or below Tolerance is clean; the
// first tier must start at Tolerance and tiers must be strictly ascending.
type DriftPolicy struct {
	Name      string `yaml:"name" json:"name"`
	Tolerance int64  `yaml:"tolerance" json:"tolerance"`
	Tiers     []Tier `yaml:"tiers" json:"tiers"`
}

type Classification struct {
	Drift       int64
	Clean       bool
	Severity    models.Severity
	FraudSignal bool
}

func TieredPolicy() *DriftPolicy {
	return &DriftPolicy{
		Name:      PolicyTiered,
		Tolerance: 1,
		Tiers: []Tier{
			{Severity: models.SeverityMedium, Above: 1},
			{Severity: models.SeverityHigh, Above: 100},
			{Severity: models.SeverityCritical, Above: 1000, FraudSignal: true},
		},
	}
}

func SimplePolicy() *DriftPolicy {
	return &DriftPolicy{
		Name:      PolicySimple,
		Tolerance: 1,
		Tiers: []Tier{
			{Severity: models.SeverityMedium, Above: 1},
		},
	}
}

func DefaultPolicies() map[string]*DriftPolicy {
	return map[string]*DriftPolicy{
		PolicyTiered: TieredPolicy(),
		PolicySimple: SimplePolicy(),
	}
}

func (p *DriftPolicy) Validate() error {
	if p.Name == "" {
		return errors.New("policy name is required")
	}
	if p.Tolerance < 0 {
		return fmt.Errorf("policy %s: tolerance must not be negative", p.Name)
	}
	if len(p.Tiers) == 0 {
		return fmt.Errorf("policy %s: at least one tier is required", p.Name)
	}
	if p.Tiers[0].Above != p.Tolerance {
		return fmt.Errorf("policy %s: first tier must start at tolerance %d", p.Name, p.Tolerance)
	}
	for i, tier := range p.Tiers {
		switch tier.Severity {
		case models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		default:
			return fmt.Errorf("policy %s: unknown severity %q", p.Name, tier.Severity)
		}
		if i > 0 && tier.Above <= p.Tiers[i-1].Above {
			return fmt.Errorf("policy %s: tier thresholds must be strictly ascending", p.Name)
		}
	}
	return nil
}

// Drift is the absolute difference of the two balances, saturating at
// math.MaxInt64 when it does not fit in an int64.
func Drift(walletBalance, journalBalance int64) int64 {
	d := walletBalance - journalBalance
	if (walletBalance < 0) != (journalBalance < 0) && (d < 0) != (walletBalance < 0) {
		return math.MaxInt64
	}
	if d == math.MinInt64 {
		return math.MaxInt64
	}
	if d < 0 {
		return -d
	}
	return d
}

func (p *DriftPolicy) Classify(walletBalance, journalBalance int64) Classification {
	drift := Drift(walletBalance, journalBalance)
	if drift <= p.Tolerance {
		return Classification{Drift: drift, Clean: true}
	}

	tier := p.Tiers[0]
	for i := len(p.Tiers) - 1; i >= 0; i-- {
		if drift > p.Tiers[i].Above {
			tier = p.Tiers[i]
			break
		}
	}

	return Classification{
		Drift:       drift,
		Severity:    tier.Severity,
		FraudSignal: tier.FraudSignal,
	}
}

// PolicySet holds the threshold tables and which table each job uses.
type PolicySet struct {
	Policies    map[string]*DriftPolicy
	JobPolicies map[string]string
}

type policyFile struct {
	Policies []*DriftPolicy    `yaml:"policies"`
	Jobs     map[string]string `yaml:"jobs"`
}

func DefaultPolicySet() *PolicySet {
	return &PolicySet{
		Policies: DefaultPolicies(),
		JobPolicies: map[string]string{
			JobLedgerIntegrityCheck:  PolicyTiered,
			JobBalanceReconciliation: PolicySimple,
		},
	}
}

// LoadDriftPolicies merges the policies and job bindings defined in a YAML
// file over the built-in ones. An empty path returns the defaults.
func LoadDriftPolicies(path string) (*PolicySet, error) {
	set := DefaultPolicySet()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	for _, p := range file.Policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		set.Policies[p.Name] = p
	}
	for job, policy := range file.Jobs {
		if _, ok := set.Policies[policy]; !ok {
			return nil, fmt.Errorf("job %s references unknown policy %q", job, policy)
		}
		set.JobPolicies[job] = policy
	}
	return set, nil
}

// DriftOutcome records which side effects were written for one discrepancy.
type DriftOutcome struct {
	Alert       bool
	FraudSignal bool
	Suppressed  bool
}

// DriftClassifier turns classified discrepancies into alerts and fraud signals.
type DriftClassifier struct {
	alerts     AlertSink
	suppressor AlertSuppressor
	logger     zerolog.Logger
}

func NewDriftClassifier(alerts AlertSink, suppressor AlertSuppressor, logger zerolog.Logger) *DriftClassifier {
	return &DriftClassifier{
		alerts:     alerts,
		suppressor: suppressor,
		logger:     logger,
	}
}

// Apply writes the side effects for a non-clean discrepancy. Write failures
// are logged and reported through the outcome, never returned.
func (c *DriftClassifier) Apply(ctx context.Context, runID int64, d models.Discrepancy, cls Classification) DriftOutcome {
	var outcome DriftOutcome
	if cls.Clean {
		return outcome
	}

	log := c.logger.With().
		Int64("run_id", runID).
		Int64("user_id", d.UserID).
		Int64("wallet_id", d.WalletID).
		Int64("drift", d.Drift).
		Str("severity", string(cls.Severity)).
		Logger()

	if c.suppressor != nil {
		allowed, err := c.suppressor.Allow(ctx, d.UserID, cls.Severity)
		if err != nil {
			log.Warn().Err(err).Msg("Alert suppression check failed, emitting alert")
		} else if !allowed {
			log.Info().Msg("Alert suppressed within window")
			outcome.Suppressed = true
			return outcome
		}
	}

	affected, _ := json.Marshal([]map[string]any{
		{"type": "user", "id": d.UserID, "username": d.Username},
		{"type": "wallet", "id": d.WalletID, "walletBalance": d.WalletBalance, "journalBalance": d.JournalBalance},
		{"type": "monitoring_run", "id": runID},
	})

	message := fmt.Sprintf("Wallet balance drift of %d coins for %s (user #%d): wallet=%d journal=%d",
		d.Drift, d.Username, d.UserID, d.WalletBalance, d.JournalBalance)

	err := c.alerts.CreateAlert(ctx, models.MonitoringAlert{
		Type:             models.AlertTypeBalanceDrift,
		Severity:         cls.Severity,
		Message:          message,
		AffectedEntities: affected,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create monitoring alert")
	} else {
		outcome.Alert = true
	}

	if !cls.FraudSignal {
		return outcome
	}

	payload, _ := json.Marshal(map[string]any{
		"walletId":              d.WalletID,
		"walletBalance":         d.WalletBalance,
		"journalBalance":        d.JournalBalance,
		"drift":                 d.Drift,
		"runId":                 runID,
		"requiresInvestigation": true,
	})

	err = c.alerts.CreateFraudSignal(ctx, models.FraudSignal{
		UserID:   d.UserID,
		Type:     models.FraudSignalSuspiciousPattern,
		Severity: models.SeverityHigh,
		Payload:  payload,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create fraud signal")
	} else {
		outcome.FraudSignal = true
	}

	return outcome
}
