package services

import (
	"fmt"
	"time"

	"ledger-auditor/internal/models"
)

// BuildJobs binds the two reconciliation jobs to their drift policies.
func BuildJobs(set *PolicySet, integrityInterval, reconciliationInterval time.Duration) ([]Job, error) {
	intervals := map[string]time.Duration{
		JobLedgerIntegrityCheck:  integrityInterval,
		JobBalanceReconciliation: reconciliationInterval,
	}

	jobs := make([]Job, 0, len(intervals))
	for _, name := range []string{JobLedgerIntegrityCheck, JobBalanceReconciliation} {
		policyName := set.JobPolicies[name]
		policy, ok := set.Policies[policyName]
		if !ok {
			return nil, fmt.Errorf("job %s references unknown policy %q", name, policyName)
		}
		jobs = append(jobs, Job{Name: name, Policy: policy, Interval: intervals[name]})
	}
	return jobs, nil
}

func FindJob(jobs []Job, name string) (Job, error) {
	for _, job := range jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return Job{}, fmt.Errorf("%w: %s", models.ErrUnknownJob, name)
}
