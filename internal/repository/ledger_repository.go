package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

type LedgerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLedgerRepository(db *sql.DB, logger zerolog.Logger) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

func (r *LedgerRepository) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, balance, last_updated_at FROM user_wallets ORDER BY id",
	)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error listing wallets")
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Balance, &w.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}

	return wallets, nil
}

func (r *LedgerRepository) SumJournalEntries(ctx context.Context, walletID int64) (models.JournalTotals, error) {
	var totals models.JournalTotals

	err := r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE 0 END), 0)
		 FROM coin_journal_entries
		 WHERE wallet_id = ?`,
		walletID,
	).Scan(&totals.Credits, &totals.Debits)
	if err != nil {
		r.logger.Error().Err(err).Int64("wallet_id", walletID).Msg("Error summing journal entries")
		return models.JournalTotals{}, fmt.Errorf("database error: %w", err)
	}

	return totals, nil
}

func (r *LedgerRepository) GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	var w models.Wallet

	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, balance, last_updated_at FROM user_wallets WHERE user_id = ?",
		userID,
	).Scan(&w.ID, &w.UserID, &w.Balance, &w.LastUpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrWalletNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching wallet")
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &w, nil
}
