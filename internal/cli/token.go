package cli

import (
	"fmt"
	"time"

	"transit-fleet/internal/domain/user"
	"transit-fleet/internal/general/jwt"
)

// GenerateUserToken mints a short-lived JWT for a seeded user.
// Dev-only helper; production tokens come from the auth service.
func GenerateUserToken(secret string, userID int64, roleStr string) (string, jwt.Claims, error) {
	role, err := user.ParseRole(roleStr)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}

	mgr := jwt.NewManager(secret, 2*time.Hour)

	token, claims, err := mgr.IssueUserToken(userID, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}
