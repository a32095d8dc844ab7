package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"booktrak/pkg/auth"
	"booktrak/pkg/domain"
	"booktrak/pkg/store"
)

const (
	msgUsernameTaken    = "A user with that username already exists."
	msgEmailTaken       = "User with this email is already exist"
	msgPasswordMismatch = "Password do not match"
)

// RegisterInput is a validated registration request.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	UserType        string
}

// Session is an authenticated user with their bearer token.
type Session struct {
	User  domain.User
	Token string
}

// Register creates the user and profile and returns the user's token.
// Uniqueness failures are reported per field before the password check.
func (a *App) Register(ctx context.Context, in RegisterInput) (Session, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	fields := FieldErrors{}
	userType, ok := domain.ParseUserType(strings.TrimSpace(in.UserType))
	if !ok {
		fields.Add("user_type", fmt.Sprintf("%q is not a valid choice.", in.UserType))
	}
	taken, err := a.store.HasUsername(ctx, username)
	if err != nil {
		return Session{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		fields.Add("username", msgUsernameTaken)
	}
	taken, err = a.store.HasUserEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("check email: %w", err)
	}
	if taken {
		fields.Add("email", msgEmailTaken)
	}
	if err := fields.Err(); err != nil {
		return Session{}, err
	}
	if in.Password != in.ConfirmPassword {
		return Session{}, fieldError("password", msgPasswordMismatch)
	}

	hash, err := auth.HashPassword(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return Session{}, fieldError("password", "Ensure this field has no more than 72 characters.")
	}
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	err = a.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, &user); err != nil {
			return err
		}
		profile := domain.NewProfile(user.ID, userType)
		return tx.SaveProfile(ctx, &profile)
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent registration.
		return Session{}, fieldError("username", msgUsernameTaken)
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	return a.issueToken(user)
}

// Login checks credentials and returns the user's existing token, or a new
// one when none is live.
func (a *App) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, ErrCredentialsRequired
	}
	user, ok, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return Session{}, ErrUserDisabled
	}
	return a.issueToken(user)
}

func (a *App) issueToken(user domain.User) (Session, error) {
	token, err := a.sessions.TokenForUser(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{User: user, Token: token}, nil
}

// Logout invalidates token.
func (a *App) Logout(_ context.Context, token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// UserFromToken resolves a bearer token to an active user.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, ErrUnauthorized
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !user.IsActive {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// Profile returns the user's profile, or an unsaved customer default.
func (a *App) Profile(ctx context.Context, userID int64) (domain.UserProfile, error) {
	profile, ok, err := a.store.GetProfile(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		return domain.NewProfile(userID, domain.UserTypeCustomer), nil
	}
	return profile, nil
}

// RequireLibrarian passes only users whose profile says librarian.
func (a *App) RequireLibrarian(ctx context.Context, user domain.User) (domain.UserProfile, error) {
	profile, ok, err := a.store.GetProfile(ctx, user.ID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !ok || !profile.IsLibrarian() {
		return domain.UserProfile{}, ErrForbidden
	}
	return profile, nil
}

// RequireCustomer gates customer endpoints. Any authenticated user passes,
// librarians included; callers reach it only after UserFromToken succeeded.
func (a *App) RequireCustomer(ctx context.Context, user domain.User) (domain.UserProfile, error) {
	return a.Profile(ctx, user.ID)
}
