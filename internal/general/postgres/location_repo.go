package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"transit-fleet/internal/realtime/domain"
)

// LocationRepo persists location updates using pgx and plain SQL.
type LocationRepo struct {
	pool *pgxpool.Pool
}

// NewLocationRepo constructs a new LocationRepo.
func NewLocationRepo(pool *pgxpool.Pool) *LocationRepo {
	return &LocationRepo{pool: pool}
}

var _ domain.LocationStore = (*LocationRepo)(nil)

// CreateLocationUpdate inserts one row and returns it with the
// server-assigned id and timestamp.
func (repo *LocationRepo) CreateLocationUpdate(ctx context.Context, report domain.LocationReport) (*domain.LocationUpdate, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	update := &domain.LocationUpdate{
		AssignmentID: report.AssignmentID,
		Latitude:     report.Latitude,
		Longitude:    report.Longitude,
		Speed:        report.Speed,
		Heading:      report.Heading,
		Status:       report.Status,
	}

	err := repo.pool.QueryRow(ctx, `
		INSERT INTO location_updates (
			assignment_id, latitude, longitude, speed, heading, status
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, timestamp
	`,
		report.AssignmentID,
		report.Latitude,
		report.Longitude,
		report.Speed,
		report.Heading,
		report.Status,
	).Scan(&update.ID, &update.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert location update: %w", err)
	}

	return update, nil
}
