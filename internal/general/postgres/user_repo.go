package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transit-fleet/internal/domain/user"
	"transit-fleet/internal/realtime/domain"
)

// UserRepo reads the slice of the users table the realtime core needs
// for authorization.
type UserRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo constructs a new UserRepo.
func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

var _ domain.UserDirectory = (*UserRepo)(nil)

// GetUser fetches one user by id.
func (repo *UserRepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var (
		row     domain.User
		rawRole string
	)

	err := repo.pool.QueryRow(ctx, `
		SELECT id, role
		FROM users
		WHERE id = $1
	`, id).Scan(&row.ID, &rawRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user %d: %w", id, err)
	}

	role, err := user.ParseRole(rawRole)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", id, err)
	}
	row.Role = role

	return &row, nil
}
