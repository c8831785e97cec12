package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

type UserRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewUserRepository(db *sql.DB, logger zerolog.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

func (r *UserRepository) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User

	err := r.db.QueryRowContext(ctx,
		"SELECT id, username, email, role, created_at FROM users WHERE id = ?",
		userID,
	).Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching user")
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &user, nil
}

func (r *UserRepository) ListAdmins(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, username, email, role, created_at FROM users WHERE role = ? ORDER BY id",
		string(models.RoleAdmin),
	)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error fetching admin users")
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var admins []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		admins = append(admins, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return admins, nil
}
