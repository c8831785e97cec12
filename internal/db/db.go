package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// NormalizeDSN forces the driver options the auditor depends on: DATETIME
// columns scanned into time.Time, in UTC.
func NormalizeDSN(dbURL string) (string, error) {
	cfg, err := mysql.ParseDSN(dbURL)
	if err != nil {
		return "", fmt.Errorf("invalid DB_URL: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func InitDB(dbURL string, logger zerolog.Logger) (*sql.DB, error) {
	dsn, err := NormalizeDSN(dbURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database is not responding: %w", err)
	}

	logger.Info().Msg("Connected to database")
	return db, nil
}

// RunMigrations creates the auditor-owned tables. The ledger tables are owned by
// the site; they are created here only so a fresh environment can boot.
func RunMigrations(db *sql.DB, logger zerolog.Logger) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			username VARCHAR(100) NOT NULL,
			email VARCHAR(255) NOT NULL,
			role VARCHAR(50) NOT NULL DEFAULT 'user',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS user_wallets (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			last_updated_at DATETIME DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_user_wallets_user (user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS coin_journal_entries (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			wallet_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			direction ENUM('credit','debit') NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_journal_wallet (wallet_id)
		);`,
		`CREATE TABLE IF NOT EXISTS monitoring_runs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_name VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			started_at DATETIME(3) NOT NULL,
			completed_at DATETIME(3) NULL,
			metadata JSON,
			INDEX idx_runs_job_started (job_name, started_at)
		);`,
		`CREATE TABLE IF NOT EXISTS monitoring_alerts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			type VARCHAR(50) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			message TEXT NOT NULL,
			affected_entities JSON,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_alerts_type_created (type, created_at)
		);`,
		`CREATE TABLE IF NOT EXISTS fraud_signals (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			signal_type VARCHAR(50) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			payload JSON,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_fraud_user (user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS email_queue (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			recipient_id BIGINT NOT NULL,
			recipient_email VARCHAR(255) NOT NULL,
			template_key VARCHAR(100) NOT NULL,
			subject VARCHAR(255) NOT NULL,
			payload JSON,
			priority VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_email_queue_status (status, priority)
		);`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	logger.Info().Int("tables", len(queries)).Msg("Migrations completed")
	return nil
}
