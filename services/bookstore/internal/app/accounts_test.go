package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"booktrak/pkg/auth"
	"booktrak/pkg/domain"
)

func TestRegisterCreatesProfileWithRequestedType(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()

	lib := register(t, a, "libby", domain.UserTypeLibrarian)
	require.NotEmpty(t, lib.Token)
	p, ok, err := mem.GetProfile(ctx, lib.User.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.UserTypeLibrarian, p.UserType)

	cust := register(t, a, "carl", "")
	p, ok, err = mem.GetProfile(ctx, cust.User.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.UserTypeCustomer, p.UserType)
	require.Empty(t, p.SavedBooks)
	require.Empty(t, p.CartItems)
}

func TestRegisterReportsFieldErrors(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	register(t, a, "dana", "")

	_, err := a.Register(ctx, RegisterInput{
		Username: "dana", Email: "DANA@example.com", Password: "a", ConfirmPassword: "a",
	})
	appErr := requireKind(t, err, KindValidation)
	require.Equal(t, []string{msgUsernameTaken}, appErr.Fields["username"])
	require.Equal(t, []string{msgEmailTaken}, appErr.Fields["email"])

	_, err = a.Register(ctx, RegisterInput{
		Username: "erin", Email: "erin@example.com", Password: "a", ConfirmPassword: "b",
	})
	appErr = requireKind(t, err, KindValidation)
	require.Equal(t, []string{msgPasswordMismatch}, appErr.Fields["password"])

	_, err = a.Register(ctx, RegisterInput{
		Username: "fay", Email: "fay@example.com", Password: "a", ConfirmPassword: "a", UserType: "admin",
	})
	appErr = requireKind(t, err, KindValidation)
	require.Contains(t, appErr.Fields, "user_type")
}

func TestLoginReturnsSameTokenUntilLogout(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	reg := register(t, a, "gus", "")

	first, err := a.Login(ctx, "gus", "pw-gus")
	require.NoError(t, err)
	require.Equal(t, reg.Token, first.Token)
	second, err := a.Login(ctx, "gus", "pw-gus")
	require.NoError(t, err)
	require.Equal(t, first.Token, second.Token)

	user, err := a.UserFromToken(ctx, first.Token)
	require.NoError(t, err)
	require.Equal(t, reg.User.ID, user.ID)

	require.NoError(t, a.Logout(ctx, first.Token))
	_, err = a.UserFromToken(ctx, first.Token)
	requireKind(t, err, KindUnauthorized)

	third, err := a.Login(ctx, "gus", "pw-gus")
	require.NoError(t, err)
	require.NotEqual(t, first.Token, third.Token)
}

func TestLoginFailures(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()
	register(t, a, "hal", "")

	_, err := a.Login(ctx, "hal", "")
	require.ErrorIs(t, err, ErrCredentialsRequired)
	_, err = a.Login(ctx, "hal", "nope")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login(ctx, "nobody", "pw")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	hash, err := auth.HashPassword("pw-ida")
	require.NoError(t, err)
	disabled := domain.User{Username: "ida", Email: "ida@example.com", PasswordHash: hash}
	require.NoError(t, mem.CreateUser(ctx, &disabled))
	_, err = a.Login(ctx, "ida", "pw-ida")
	require.ErrorIs(t, err, ErrUserDisabled)
}

func TestUserFromTokenRejectsDeletedUser(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	token, err := a.sessions.TokenForUser(999)
	require.NoError(t, err)
	_, err = a.UserFromToken(ctx, token)
	requireKind(t, err, KindUnauthorized)
}

func TestAccessGates(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	lib := register(t, a, "ivy", domain.UserTypeLibrarian)
	cust := register(t, a, "jon", domain.UserTypeCustomer)

	_, err := a.RequireLibrarian(ctx, lib.User)
	require.NoError(t, err)
	_, err = a.RequireLibrarian(ctx, cust.User)
	require.ErrorIs(t, err, ErrForbidden)

	// The customer gate only requires authentication.
	p, err := a.RequireCustomer(ctx, lib.User)
	require.NoError(t, err)
	require.Equal(t, domain.UserTypeLibrarian, p.UserType)

	_, err = a.UserFromToken(ctx, "garbage")
	requireKind(t, err, KindUnauthorized)
	_, err = a.UserFromToken(ctx, "")
	requireKind(t, err, KindUnauthorized)
}
