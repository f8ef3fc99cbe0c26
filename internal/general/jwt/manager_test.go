package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-fleet/internal/domain/user"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)

	token, claims, err := mgr.IssueUserToken(7, user.RoleDriver)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, user.RoleDriver, claims.Role)

	userID, role, err := mgr.ParseAndValidate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
	assert.Equal(t, user.RoleDriver, role)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, _, err := NewManager("secret-a", time.Hour).IssueUserToken(7, user.RoleDriver)
	require.NoError(t, err)

	_, _, err = NewManager("secret-b", time.Hour).ParseAndValidate(token)
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	mgr := NewManager("test-secret", -time.Minute)

	token, _, err := mgr.IssueUserToken(7, user.RoleDriver)
	require.NoError(t, err)

	_, _, err = mgr.ParseAndValidate(token)
	assert.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	_, _, err := mgr.ParseAndValidate("not.a.token")
	assert.Error(t, err)
}

func TestIssueRejectsInvalidRole(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	_, _, err := mgr.IssueUserToken(7, user.Role("ghost"))
	assert.Error(t, err)
}

func TestNewManagerPanicsOnEmptySecret(t *testing.T) {
	assert.Panics(t, func() { NewManager("  ", time.Hour) })
}
