package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

// MySQLLocker uses GET_LOCK advisory locks. MySQL ties the lock to the
// session, so a dedicated connection is held until release.
type MySQLLocker struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMySQLLocker(db *sql.DB, logger zerolog.Logger) *MySQLLocker {
	return &MySQLLocker{
		db:     db,
		logger: logger,
	}
}

func (l *MySQLLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to obtain run lock %s: %w", key, err)
	}
	if !acquired.Valid {
		conn.Close()
		return nil, fmt.Errorf("failed to obtain run lock %s: GET_LOCK returned NULL", key)
	}
	if acquired.Int64 != 1 {
		conn.Close()
		return nil, models.ErrRunInProgress
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			defer conn.Close()
			var released sql.NullInt64
			err = conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", key).Scan(&released)
			if err == nil && released.Int64 != 1 {
				l.logger.Warn().Str("key", key).Msg("Run lock was not held at release")
			}
		})
		return err
	}
	return release, nil
}
