package domain

import "errors"

var (
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrInvalidAssignmentID = errors.New("invalid assignment id")
	ErrNotAuthenticated    = errors.New("connection is not authenticated")
	ErrNotDriver           = errors.New("only drivers may report locations")
	ErrAssignmentNotFound  = errors.New("assignment not found")
	ErrAssignmentInactive  = errors.New("assignment is not active")
	ErrAssignmentNotOwned  = errors.New("assignment is not owned by this driver")
	ErrUserNotFound        = errors.New("user not found")
	ErrIdentityRejected    = errors.New("identity rejected")
)
