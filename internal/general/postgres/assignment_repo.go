package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transit-fleet/internal/realtime/domain"
)

// AssignmentRepo reads assignments owned by the scheduling side of the
// system. This service never writes to the table.
type AssignmentRepo struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepo constructs a new AssignmentRepo.
func NewAssignmentRepo(pool *pgxpool.Pool) *AssignmentRepo {
	return &AssignmentRepo{pool: pool}
}

var _ domain.AssignmentDirectory = (*AssignmentRepo)(nil)

// GetAssignment fetches one assignment by id.
func (repo *AssignmentRepo) GetAssignment(ctx context.Context, id int64) (*domain.Assignment, error) {
	var assignment domain.Assignment

	err := repo.pool.QueryRow(ctx, `
		SELECT id, driver_id, route_id, status
		FROM assignments
		WHERE id = $1
	`, id).Scan(
		&assignment.ID,
		&assignment.DriverID,
		&assignment.RouteID,
		&assignment.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select assignment %d: %w", id, err)
	}

	return &assignment, nil
}
