package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ledger-auditor/internal/models"
)

func TestRun_CleanWalletNoAlerts(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if summary.UsersChecked != 1 || summary.DiscrepanciesFound != 0 || summary.TotalDrift != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(h.alerts.alerts) != 0 || len(h.alerts.signals) != 0 {
		t.Fatalf("clean wallet must not emit side effects")
	}
}

func TestRun_MediumDrift(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 150, 100)

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if summary.DiscrepanciesFound != 1 || summary.TotalDrift != 50 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(h.alerts.alerts) != 1 || h.alerts.alerts[0].Severity != models.SeverityMedium {
		t.Fatalf("expected one medium alert, got %+v", h.alerts.alerts)
	}
	if len(h.alerts.signals) != 0 {
		t.Fatalf("medium drift must not raise a fraud signal")
	}
}

func TestRun_CriticalDriftRaisesFraudSignal(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 5000, 100)
	h.users.users[10] = models.User{ID: 10, Username: "whale"}

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if summary.TotalDrift != 4900 || summary.BySeverity[models.SeverityCritical] != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(h.alerts.alerts) != 1 || h.alerts.alerts[0].Severity != models.SeverityCritical {
		t.Fatalf("expected one critical alert, got %+v", h.alerts.alerts)
	}
	if len(h.alerts.signals) != 1 || summary.FraudSignals != 1 {
		t.Fatalf("expected one fraud signal")
	}
	if summary.TopDiscrepancies[0].Username != "whale" {
		t.Fatalf("expected username in report, got %+v", summary.TopDiscrepancies[0])
	}
}

func TestRun_PerWalletFailureIsSkipped(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)
	h.ledger.addWallet(2, 20, 9999, 0)
	h.ledger.addWallet(3, 30, 150, 100)
	h.ledger.failWallets[2] = errBoom

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if summary.UsersChecked != 2 || summary.FailedWallets != 1 || summary.WalletsTotal != 3 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.DiscrepanciesFound != 1 || summary.TotalDrift != 50 {
		t.Fatalf("failed wallet leaked into totals: %+v", summary)
	}

	run, _ := h.runs.GetRun(context.Background(), summary.RunID)
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
}

func TestRun_ZeroDiscrepanciesIsCleanAndSilent(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)
	h.ledger.addWallet(2, 20, 0, 0)
	h.ledger.addWallet(3, 30, 51, 50)

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Status != models.ReportClean {
		t.Fatalf("expected CLEAN, got %s", summary.Status)
	}
	if len(h.queue.emails) != 0 || summary.Notifications != nil {
		t.Fatalf("no notifications expected, got %d", len(h.queue.emails))
	}
	meta := h.runs.metadata(summary.RunID)
	if meta["status"] != string(models.ReportClean) {
		t.Fatalf("run metadata must record CLEAN, got %v", meta["status"])
	}
}

func TestRun_Aggregation(t *testing.T) {
	h := newHarness(ReconciliationOptions{TopN: 2, AcceptableDiscrepancies: 10})
	h.ledger.addWallet(1, 10, 100, 100)  // clean
	h.ledger.addWallet(2, 20, 102, 100)  // drift 2
	h.ledger.addWallet(3, 30, 0, 300)    // drift 300
	h.ledger.addWallet(4, 40, 2000, -10) // drift 2010
	h.ledger.addWallet(5, 50, 7, 0)      // failure
	h.ledger.failWallets[5] = errBoom

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if summary.UsersChecked != 4 {
		t.Errorf("users checked: %d", summary.UsersChecked)
	}
	if summary.DiscrepanciesFound != 3 {
		t.Errorf("discrepancies: %d", summary.DiscrepanciesFound)
	}
	if summary.TotalDrift != 2+300+2010 {
		t.Errorf("total drift: %d", summary.TotalDrift)
	}
	if summary.Status != models.ReportAcceptable {
		t.Errorf("status: %s", summary.Status)
	}
	if len(summary.TopDiscrepancies) != 2 || summary.TopDiscrepancies[0].Drift != 2010 || summary.TopDiscrepancies[1].Drift != 300 {
		t.Errorf("top discrepancies: %+v", summary.TopDiscrepancies)
	}
	want := map[models.Severity]int{models.SeverityMedium: 1, models.SeverityHigh: 1, models.SeverityCritical: 1}
	for sev, n := range want {
		if summary.BySeverity[sev] != n {
			t.Errorf("severity %s: got %d", sev, summary.BySeverity[sev])
		}
	}
}

func TestRun_NotifiesAdmins(t *testing.T) {
	h := newHarness(ReconciliationOptions{AcceptableDiscrepancies: 1})
	h.ledger.addWallet(1, 10, 150, 100)

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if len(h.queue.emails) != 2 {
		t.Fatalf("expected one email per admin, got %d", len(h.queue.emails))
	}
	for _, email := range h.queue.emails {
		if email.Priority != models.PriorityHigh || email.TemplateKey != models.TemplateLedgerReconciliation {
			t.Fatalf("unexpected email: %+v", email)
		}
	}
	if summary.Notifications == nil || summary.Notifications.Queued != 2 {
		t.Fatalf("dispatch result missing: %+v", summary.Notifications)
	}
	if len(h.archive.summaries) != 1 {
		t.Fatalf("expected the summary to be archived")
	}
}

func TestRun_NotificationFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 150, 100)
	h.users.adminsErr = errBoom

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatalf("notification errors must not fail the run: %v", err)
	}
	run, _ := h.runs.GetRun(context.Background(), summary.RunID)
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
}

func TestRun_ListWalletsFailureFailsRun(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.listErr = errBoom

	_, err := h.svc.Run(context.Background(), integrityJob())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected list error to propagate, got %v", err)
	}

	run, _ := h.runs.GetRun(context.Background(), 1)
	if run.Status != models.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	meta := h.runs.metadata(1)
	if meta["error"] == nil || meta["cancelled"] != false {
		t.Fatalf("unexpected failure metadata: %v", meta)
	}
	if len(h.locker.held) != 0 {
		t.Fatalf("lock must be released after a failed run")
	}
}

func TestRun_CancelledMidRun(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	for i := int64(1); i <= 5; i++ {
		h.ledger.addWallet(i, i*10, 100, 100)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.ledger.onSum = func(walletID int64) {
		if walletID == 2 {
			cancel()
		}
	}

	_, err := h.svc.Run(ctx, integrityJob())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}

	run, _ := h.runs.GetRun(context.Background(), 1)
	if run.Status != models.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if meta := h.runs.metadata(1); meta["cancelled"] != true {
		t.Fatalf("expected cancelled marker, got %v", meta)
	}
}

func TestRun_CompletesDespiteLateCancellation(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)
	ctx, cancel := context.WithCancel(context.Background())
	h.runs.beforeFinish = cancel

	summary, err := h.svc.Run(ctx, integrityJob())
	if err != nil {
		t.Fatalf("cancellation after the wallet pass must not lose the result: %v", err)
	}

	run, _ := h.runs.GetRun(context.Background(), summary.RunID)
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
}

func TestRun_CompleteFailureMarksRunFailed(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)
	h.runs.completeErr = errBoom

	if _, err := h.svc.Run(context.Background(), integrityJob()); !errors.Is(err, errBoom) {
		t.Fatalf("expected completion error, got %v", err)
	}

	run, _ := h.runs.GetRun(context.Background(), 1)
	if run.Status != models.RunStatusFailed {
		t.Fatalf("run must not stay running, got %s", run.Status)
	}
	if meta := h.runs.metadata(1); meta["error"] == nil || meta["cancelled"] != false {
		t.Fatalf("unexpected failure metadata: %v", meta)
	}
	if len(h.locker.held) != 0 {
		t.Fatalf("lock must be released")
	}
}

func TestRun_LockHeldSkipsRun(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)
	h.locker.held = map[string]bool{LockKey(JobLedgerIntegrityCheck): true}

	_, err := h.svc.Run(context.Background(), integrityJob())
	if !errors.Is(err, models.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if len(h.runs.runs) != 0 {
		t.Fatalf("no run record may be created while another run holds the lock")
	}
}

func TestRun_LockIsPerJob(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)
	h.locker.held = map[string]bool{LockKey(JobBalanceReconciliation): true}

	if _, err := h.svc.Run(context.Background(), integrityJob()); err != nil {
		t.Fatalf("a different job's lock must not block: %v", err)
	}
	if len(h.locker.released) != 1 || h.locker.released[0] != LockKey(JobLedgerIntegrityCheck) {
		t.Fatalf("expected own lock released, got %v", h.locker.released)
	}
}

func TestRun_RunRecordIsTerminal(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)

	summary, err := h.svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	err = h.runs.FinishRun(context.Background(), summary.RunID, models.RunStatusFailed, nil)
	if !errors.Is(err, models.ErrRunFinished) {
		t.Fatalf("completed run must reject further transitions, got %v", err)
	}
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	build := func(workers int) *harness {
		h := newHarness(ReconciliationOptions{Workers: workers, TopN: 50})
		for i := int64(1); i <= 40; i++ {
			h.ledger.addWallet(i, i, i*37, i*30)
		}
		h.ledger.failWallets[13] = errBoom
		return h
	}

	seq, err := build(1).svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}
	par, err := build(8).svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if seq.UsersChecked != par.UsersChecked || seq.DiscrepanciesFound != par.DiscrepanciesFound || seq.TotalDrift != par.TotalDrift {
		t.Fatalf("parallel aggregate differs: seq=%+v par=%+v", seq, par)
	}
	for i := range seq.TopDiscrepancies {
		if seq.TopDiscrepancies[i].UserID != par.TopDiscrepancies[i].UserID {
			t.Fatalf("top discrepancy order differs at %d", i)
		}
	}
}

func TestRun_SuppressionWindow(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 150, 100)
	svc := h.build(ReconciliationOptions{}, &fakeSuppressor{})

	first, err := svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Run(context.Background(), integrityJob())
	if err != nil {
		t.Fatal(err)
	}

	if len(h.alerts.alerts) != 1 {
		t.Fatalf("expected the repeated alert to be suppressed, got %d", len(h.alerts.alerts))
	}
	if first.DiscrepanciesFound != 1 || second.DiscrepanciesFound != 1 {
		t.Fatalf("suppressed discrepancies must still be counted")
	}
	if !second.TopDiscrepancies[0].Suppressed {
		t.Fatalf("expected suppressed flag in report")
	}
}

func TestRun_ConcurrentRunsOfSameJob(t *testing.T) {
	h := newHarness(ReconciliationOptions{})
	h.ledger.addWallet(1, 10, 100, 100)

	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	h.ledger.onSum = func(int64) {
		once.Do(func() { close(started) })
		<-unblock
	}

	errs := make(chan error, 1)
	go func() {
		_, err := h.svc.Run(context.Background(), integrityJob())
		errs <- err
	}()
	<-started

	if _, err := h.svc.Run(context.Background(), integrityJob()); !errors.Is(err, models.ErrRunInProgress) {
		t.Fatalf("expected overlapping run to be rejected, got %v", err)
	}

	close(unblock)
	if err := <-errs; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestTopDiscrepancies_StableOrdering(t *testing.T) {
	in := []models.Discrepancy{
		{UserID: 3, Drift: 10},
		{UserID: 1, Drift: 10},
		{UserID: 2, Drift: 50},
	}
	got := TopDiscrepancies(in, 10)
	if got[0].UserID != 2 || got[1].UserID != 1 || got[2].UserID != 3 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if in[0].UserID != 3 {
		t.Fatalf("input must not be reordered")
	}
}
