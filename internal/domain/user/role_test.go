package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"driver":  RoleDriver,
		"Driver":  RoleDriver,
		" ADMIN ": RoleAdmin,
		"user":    RoleUser,
	} {
		role, err := ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, role)
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "conductor", "drivers"} {
		_, err := ParseRole(in)
		assert.ErrorIs(t, err, ErrInvalidRole, in)
	}
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, RoleDriver.IsDriver())
	assert.False(t, RoleDriver.IsAdmin())
	assert.True(t, RoleAdmin.IsAdmin())
	assert.True(t, RoleUser.IsUser())
	assert.Equal(t, "driver", RoleDriver.String())
}
