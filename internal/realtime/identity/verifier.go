// Package identity provides IdentityVerifier implementations for the
// `auth` envelope. Credential checking belongs to collaborators; the
// registry only records what a verifier returns.
package identity

import (
	"context"
	"errors"
	"fmt"

	"transit-fleet/internal/domain/user"
	"transit-fleet/internal/realtime/domain"
)

// Asserted records the identity exactly as the client asserted it, after
// normalizing the role. This is the default when no verifier backend is
// configured.
type Asserted struct{}

func (Asserted) Verify(_ context.Context, assertion domain.AuthAssertion) (domain.Identity, error) {
	role, err := user.ParseRole(assertion.Role)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrIdentityRejected, err)
	}
	if assertion.UserID <= 0 {
		return domain.Identity{}, fmt.Errorf("%w: invalid user id", domain.ErrIdentityRejected)
	}
	return domain.Identity{UserID: assertion.UserID, Role: role}, nil
}

// Directory cross-checks the asserted identity against the users table:
// the user must exist and the asserted role must match the stored one.
type Directory struct {
	Users domain.UserDirectory
}

func (d Directory) Verify(ctx context.Context, assertion domain.AuthAssertion) (domain.Identity, error) {
	identity, err := Asserted{}.Verify(ctx, assertion)
	if err != nil {
		return domain.Identity{}, err
	}
	u, err := d.Users.GetUser(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: unknown user", domain.ErrIdentityRejected)
		}
		return domain.Identity{}, err
	}
	if u.Role != identity.Role {
		return domain.Identity{}, fmt.Errorf("%w: role mismatch", domain.ErrIdentityRejected)
	}
	return identity, nil
}

// TokenParser is implemented by the jwt manager.
type TokenParser interface {
	ParseAndValidate(token string) (userID int64, role user.Role, err error)
}

// Token requires a signed token in the auth envelope and derives the
// identity from its claims, ignoring the asserted fields when they
// disagree.
type Token struct {
	Parser TokenParser
}

func (t Token) Verify(_ context.Context, assertion domain.AuthAssertion) (domain.Identity, error) {
	if assertion.Token == "" {
		return domain.Identity{}, fmt.Errorf("%w: token required", domain.ErrIdentityRejected)
	}
	userID, role, err := t.Parser.ParseAndValidate(assertion.Token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrIdentityRejected, err)
	}
	return domain.Identity{UserID: userID, Role: role}, nil
}
