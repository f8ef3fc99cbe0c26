package domain

import (
	"context"
)

// LocationStore persists accepted reports. Implemented by the Postgres
// adapter; the returned LocationUpdate carries the server-assigned id and
// timestamp.
type LocationStore interface {
	CreateLocationUpdate(ctx context.Context, report LocationReport) (*LocationUpdate, error)
}

// AssignmentDirectory resolves assignments for routing and ownership checks.
type AssignmentDirectory interface {
	GetAssignment(ctx context.Context, id int64) (*Assignment, error)
}

// UserDirectory resolves users for authorization checks.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}

// LocationPublisher bridges accepted updates to out-of-process consumers
// (message broker). Failures are operational, not rejections: the report
// was already persisted and fanned out over websocket.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, update LocationUpdate, routeID, driverID int64) error
}

// AuthAssertion is the decoded content of an `auth` envelope.
type AuthAssertion struct {
	UserID int64
	Role   string
	Token  string
}

// IdentityVerifier decides what identity to attach for an auth envelope.
// The registry itself never verifies anything; it records what the
// verifier returns.
type IdentityVerifier interface {
	Verify(ctx context.Context, assertion AuthAssertion) (Identity, error)
}
