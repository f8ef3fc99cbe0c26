package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-fleet/internal/domain/user"
	"transit-fleet/internal/general/jwt"
	"transit-fleet/internal/realtime/domain"
)

type memUsers struct {
	byID map[int64]*domain.User
}

func (m *memUsers) GetUser(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func TestAssertedNormalizesRole(t *testing.T) {
	identity, err := Asserted{}.Verify(context.Background(), domain.AuthAssertion{UserID: 7, Role: "Driver"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), identity.UserID)
	assert.Equal(t, user.RoleDriver, identity.Role)
}

func TestAssertedRejectsBadInput(t *testing.T) {
	_, err := Asserted{}.Verify(context.Background(), domain.AuthAssertion{UserID: 7, Role: "conductor"})
	assert.ErrorIs(t, err, domain.ErrIdentityRejected)

	_, err = Asserted{}.Verify(context.Background(), domain.AuthAssertion{UserID: 0, Role: "driver"})
	assert.ErrorIs(t, err, domain.ErrIdentityRejected)
}

func TestDirectoryAcceptsMatchingUser(t *testing.T) {
	verifier := Directory{Users: &memUsers{byID: map[int64]*domain.User{
		7: {ID: 7, Role: user.RoleDriver},
	}}}

	identity, err := verifier.Verify(context.Background(), domain.AuthAssertion{UserID: 7, Role: "driver"})
	require.NoError(t, err)
	assert.Equal(t, user.RoleDriver, identity.Role)
}

func TestDirectoryRejectsUnknownUser(t *testing.T) {
	verifier := Directory{Users: &memUsers{byID: map[int64]*domain.User{}}}

	_, err := verifier.Verify(context.Background(), domain.AuthAssertion{UserID: 7, Role: "driver"})
	assert.ErrorIs(t, err, domain.ErrIdentityRejected)
}

func TestDirectoryRejectsRoleMismatch(t *testing.T) {
	verifier := Directory{Users: &memUsers{byID: map[int64]*domain.User{
		7: {ID: 7, Role: user.RoleUser},
	}}}

	_, err := verifier.Verify(context.Background(), domain.AuthAssertion{UserID: 7, Role: "driver"})
	assert.ErrorIs(t, err, domain.ErrIdentityRejected)
}

func TestTokenRequiresToken(t *testing.T) {
	verifier := Token{Parser: jwt.NewManager("test-secret", time.Hour)}

	_, err := verifier.Verify(context.Background(), domain.AuthAssertion{UserID: 7, Role: "driver"})
	assert.ErrorIs(t, err, domain.ErrIdentityRejected)
}

func TestTokenDerivesIdentityFromClaims(t *testing.T) {
	mgr := jwt.NewManager("test-secret", time.Hour)
	signed, _, err := mgr.IssueUserToken(7, user.RoleDriver)
	require.NoError(t, err)

	verifier := Token{Parser: mgr}

	// the asserted fields are ignored; the claims win
	identity, err := verifier.Verify(context.Background(), domain.AuthAssertion{
		UserID: 999,
		Role:   "admin",
		Token:  signed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), identity.UserID)
	assert.Equal(t, user.RoleDriver, identity.Role)
}

func TestTokenRejectsBadToken(t *testing.T) {
	verifier := Token{Parser: jwt.NewManager("test-secret", time.Hour)}

	_, err := verifier.Verify(context.Background(), domain.AuthAssertion{Token: "garbage"})
	assert.ErrorIs(t, err, domain.ErrIdentityRejected)
}
