package domain

import (
	"fmt"
	"time"

	"transit-fleet/internal/domain/user"
)

// Identity is what a connection asserted (or proved) about itself.
type Identity struct {
	UserID int64
	Role   user.Role
}

// LocationReport is a validated inbound driver position ping.
type LocationReport struct {
	AssignmentID int64
	Latitude     float64
	Longitude    float64
	Speed        *float64
	Heading      *float64
	Status       string
}

// Validate checks the report's range invariants.
func (r LocationReport) Validate() error {
	if r.AssignmentID <= 0 {
		return ErrInvalidAssignmentID
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return ErrInvalidCoordinates
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// LocationUpdate is the persisted form of an accepted report. Created
// exactly once per accepted report and immutable afterwards.
type LocationUpdate struct {
	ID           int64
	AssignmentID int64
	Latitude     float64
	Longitude    float64
	Speed        *float64
	Heading      *float64
	Status       string
	Timestamp    time.Time
}

// Assignment is the external driver+vehicle+route pairing this core reads
// for routing and ownership checks.
type Assignment struct {
	ID       int64
	DriverID int64
	RouteID  int64
	Status   string
}

// Active reports whether the assignment may receive location reports.
func (a Assignment) Active() bool {
	return a.Status == AssignmentStatusInProgress
}

// User is the slice of the external users table needed for authorization.
type User struct {
	ID   int64
	Role user.Role
}

// Assignment status values as stored in the `assignments` table.
const (
	AssignmentStatusScheduled  = "scheduled"
	AssignmentStatusInProgress = "in-progress"
	AssignmentStatusCompleted  = "completed"
	AssignmentStatusCancelled  = "cancelled"
)

// Channel naming: route:<routeId> and assignment:<assignmentId>.

func RouteChannel(routeID int64) string {
	return fmt.Sprintf("route:%d", routeID)
}

func AssignmentChannel(assignmentID int64) string {
	return fmt.Sprintf("assignment:%d", assignmentID)
}
