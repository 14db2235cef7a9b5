package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/database"
	"github.com/fedutinova/everwalk/internal/models"
	"github.com/google/uuid"
)

const userSelect = `
	SELECT u.id, u.username, u.email, u.password_hash, u.created_at, u.updated_at,
	       COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
	LEFT JOIN roles r ON r.id = ur.role_id`

// CreateUser inserts the user and grants role in one transaction. A taken
// email gives common.ErrConflict.
func (r *Repository) CreateUser(ctx context.Context, user *models.User, role string) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return r.db.WithTx(ctx, func(tx database.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (id, username, email, password_hash)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at`,
			user.ID, user.Username, user.Email, user.PasswordHash,
		).Scan(&user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return conflict(err, "email")
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE name = $2
			ON CONFLICT DO NOTHING`, user.ID, role)
		if err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("unknown role %q", role)
		}
		user.Roles = []string{role}
		return nil
	})
}

func (r *Repository) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := r.db.Pool().QueryRow(ctx, userSelect+" WHERE "+where+" GROUP BY u.id", arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &u.Roles,
	)
	if err != nil {
		return nil, notFound(err, common.ErrUserNotFound)
	}
	return &u, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, "lower(u.email) = lower($1)", email)
}

func (r *Repository) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return r.getUser(ctx, "u.id = $1", userID)
}

// SaveRefreshToken keeps a durable record of an issued refresh token hash.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)`, uuid.New(), userID, tokenHash, expiresAt)
	return err
}

// RefreshTokenOwner returns the user of a live, unrevoked refresh token.
func (r *Repository) RefreshTokenOwner(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.db.Pool().QueryRow(ctx, `
		SELECT user_id FROM refresh_tokens
		WHERE token_hash = $1 AND expires_at > NOW() AND revoked_at IS NULL`, tokenHash,
	).Scan(&userID)
	if err != nil {
		return uuid.Nil, notFound(err, common.ErrInvalidToken)
	}
	return userID, nil
}

func (r *Repository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash)
	return err
}

// RevokeUserRefreshTokens revokes every live token of the user.
func (r *Repository) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
