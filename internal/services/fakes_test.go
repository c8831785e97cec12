package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(io.Discard)

type fakeLedger struct {
	mu          sync.Mutex
	wallets     []models.Wallet
	entries     map[int64][]models.JournalEntry
	failWallets map[int64]error
	listErr     error
	sumCalls    int
	onSum       func(walletID int64)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		entries:     map[int64][]models.JournalEntry{},
		failWallets: map[int64]error{},
	}
}

// addWallet registers a wallet whose journal holds one credit of journalSum
// (or one debit when negative).
func (f *fakeLedger) addWallet(id, userID, balance, journalSum int64) {
	f.wallets = append(f.wallets, models.Wallet{ID: id, UserID: userID, Balance: balance})
	switch {
	case journalSum > 0:
		f.entries[id] = append(f.entries[id], models.JournalEntry{WalletID: id, Amount: journalSum, Direction: models.DirectionCredit})
	case journalSum < 0:
		f.entries[id] = append(f.entries[id], models.JournalEntry{WalletID: id, Amount: -journalSum, Direction: models.DirectionDebit})
	}
}

func (f *fakeLedger) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Wallet, len(f.wallets))
	copy(out, f.wallets)
	return out, nil
}

func (f *fakeLedger) SumJournalEntries(ctx context.Context, walletID int64) (models.JournalTotals, error) {
	if f.onSum != nil {
		f.onSum(walletID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sumCalls++
	if err := f.failWallets[walletID]; err != nil {
		return models.JournalTotals{}, err
	}
	var totals models.JournalTotals
	for _, e := range f.entries[walletID] {
		if e.Direction == models.DirectionCredit {
			totals.Credits += e.Amount
		} else {
			totals.Debits += e.Amount
		}
	}
	return totals, nil
}

func (f *fakeLedger) GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	for _, w := range f.wallets {
		if w.UserID == userID {
			w := w
			return &w, nil
		}
	}
	return nil, models.ErrWalletNotFound
}

type fakeUsers struct {
	users     map[int64]models.User
	admins    []models.User
	adminsErr error
	getErr    error
}

func (f *fakeUsers) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeUsers) ListAdmins(ctx context.Context) ([]models.User, error) {
	return f.admins, f.adminsErr
}

type fakeRuns struct {
	mu        sync.Mutex
	runs      map[int64]*models.MonitoringRun
	nextID    int64
	createErr error
	finishErr error

	// completeErr fails only the transition to completed.
	completeErr  error
	beforeFinish func()
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[int64]*models.MonitoringRun{}}
}

func (f *fakeRuns) CreateRun(ctx context.Context, jobName string, metadata any) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	raw, _ := json.Marshal(metadata)
	f.runs[f.nextID] = &models.MonitoringRun{
		ID:        f.nextID,
		JobName:   jobName,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
		Metadata:  raw,
	}
	return f.nextID, nil
}

func (f *fakeRuns) FinishRun(ctx context.Context, runID int64, status models.RunStatus, metadata any) error {
	if f.beforeFinish != nil {
		f.beforeFinish()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.finishErr != nil {
		return f.finishErr
	}
	if status == models.RunStatusCompleted && f.completeErr != nil {
		return f.completeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return models.ErrRunNotFound
	}
	if run.Status.IsTerminal() {
		return models.ErrRunFinished
	}
	raw, _ := json.Marshal(metadata)
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	run.Metadata = raw
	return nil
}

func (f *fakeRuns) GetRun(ctx context.Context, runID int64) (*models.MonitoringRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, models.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRuns) ListRuns(ctx context.Context, jobName string, limit, offset int) ([]*models.MonitoringRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.MonitoringRun
	for id := int64(1); id <= f.nextID; id++ {
		if run, ok := f.runs[id]; ok && (jobName == "" || run.JobName == jobName) {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRuns) metadata(runID int64) map[string]any {
	run, _ := f.GetRun(context.Background(), runID)
	var m map[string]any
	_ = json.Unmarshal(run.Metadata, &m)
	return m
}

type fakeAlerts struct {
	mu       sync.Mutex
	alerts   []models.MonitoringAlert
	signals  []models.FraudSignal
	alertErr error
}

func (f *fakeAlerts) CreateAlert(ctx context.Context, alert models.MonitoringAlert) error {
	if f.alertErr != nil {
		return f.alertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeAlerts) CreateFraudSignal(ctx context.Context, signal models.FraudSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signal)
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	emails  []models.EmailNotification
	failFor map[string]error
}

func (f *fakeQueue) QueueEmail(ctx context.Context, n models.EmailNotification) error {
	if err := f.failFor[n.RecipientEmail]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, n)
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return nil, models.ErrRunInProgress
	}
	f.held[key] = true
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
		f.released = append(f.released, key)
		return nil
	}, nil
}

type fakeArchive struct {
	summaries []*models.RunSummary
	err       error
}

func (f *fakeArchive) Archive(ctx context.Context, summary *models.RunSummary) error {
	if f.err != nil {
		return f.err
	}
	f.summaries = append(f.summaries, summary)
	return nil
}

type fakeSuppressor struct {
	seen map[string]bool
	err  error
}

func (f *fakeSuppressor) Allow(ctx context.Context, userID int64, severity models.Severity) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := fmt.Sprintf("%d:%s", userID, severity)
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

var errBoom = errors.New("boom")

type harness struct {
	ledger  *fakeLedger
	users   *fakeUsers
	runs    *fakeRuns
	alerts  *fakeAlerts
	queue   *fakeQueue
	locker  *fakeLocker
	archive *fakeArchive
	svc     *ReconciliationService
}

func newHarness(opts ReconciliationOptions) *harness {
	admins := []models.User{
		{ID: 900, Username: "root", Email: "root@example.com", Role: string(models.RoleAdmin)},
		{ID: 901, Username: "ops", Email: "ops@example.com", Role: string(models.RoleAdmin)},
	}
	h := &harness{
		ledger:  newFakeLedger(),
		users:   &fakeUsers{users: map[int64]models.User{}, admins: admins},
		runs:    newFakeRuns(),
		alerts:  &fakeAlerts{},
		queue:   &fakeQueue{failFor: map[string]error{}},
		locker:  &fakeLocker{},
		archive: &fakeArchive{},
	}
	h.svc = h.build(opts, nil)
	return h
}

func (h *harness) build(opts ReconciliationOptions, suppressor AlertSuppressor) *ReconciliationService {
	balance := NewBalanceService(h.ledger, h.users, testLogger)
	return NewReconciliationService(ReconciliationDeps{
		Ledger:     h.ledger,
		Runs:       h.runs,
		Balance:    balance,
		Classifier: NewDriftClassifier(h.alerts, suppressor, testLogger),
		Notifier:   NewNotificationService(h.queue, h.users, opts.TopN, testLogger),
		Locker:     h.locker,
		Archive:    h.archive,
	}, opts, testLogger)
}

func integrityJob() Job {
	return Job{Name: JobLedgerIntegrityCheck, Policy: TieredPolicy()}
}
