package services

import (
	"context"
	"errors"
	"fmt"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

// JournalBalance is sum(credits) - sum(debits). Entry order does not matter.
func JournalBalance(entries []models.JournalEntry) int64 {
	var totals models.JournalTotals
	for _, e := range entries {
		switch e.Direction {
		case models.DirectionCredit:
			totals.Credits += e.Amount
		case models.DirectionDebit:
			totals.Debits += e.Amount
		}
	}
	return totals.Balance()
}

type BalanceService struct {
	ledger LedgerStore
	users  UserLookup
	logger zerolog.Logger
}

func NewBalanceService(ledger LedgerStore, users UserLookup, logger zerolog.Logger) *BalanceService {
	return &BalanceService{
		ledger: ledger,
		users:  users,
		logger: logger,
	}
}

func (s *BalanceService) JournalBalance(ctx context.Context, walletID int64) (int64, error) {
	totals, err := s.ledger.SumJournalEntries(ctx, walletID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum journal entries for wallet %d: %w", walletID, err)
	}
	return totals.Balance(), nil
}

// CheckWallet compares one user's stated balance against the journal without
// writing anything.
func (s *BalanceService) CheckWallet(ctx context.Context, userID int64, policy *DriftPolicy) (*models.WalletCheck, error) {
	wallet, err := s.ledger.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	journal, err := s.JournalBalance(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	cls := policy.Classify(wallet.Balance, journal)
	if !cls.Clean {
		s.logger.Warn().
			Int64("user_id", userID).
			Int64("wallet_balance", wallet.Balance).
			Int64("journal_balance", journal).
			Msg("Balance discrepancy detected")
	}

	return &models.WalletCheck{
		UserID:         userID,
		WalletID:       wallet.ID,
		Username:       s.Username(ctx, userID),
		WalletBalance:  wallet.Balance,
		JournalBalance: journal,
		Drift:          cls.Drift,
		Clean:          cls.Clean,
		Severity:       cls.Severity,
		Policy:         policy.Name,
	}, nil
}

// Username never fails: absent users and lookup errors both yield "Unknown".
func (s *BalanceService) Username(ctx context.Context, userID int64) string {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrUserNotFound) {
			s.logger.Warn().Err(err).Int64("user_id", userID).Msg("User lookup failed")
		}
		return models.UnknownUsername
	}
	if user.Username == "" {
		return models.UnknownUsername
	}
	return user.Username
}
