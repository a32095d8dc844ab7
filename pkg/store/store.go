package store

import (
	"context"
	"errors"

	"booktrak/pkg/domain"
)

var (
	// ErrNotFound is returned by mutations that target a missing row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

// Store defines persistence operations for users, profiles and books.
// Lookups report absence through the bool result, not an error.
type Store interface {
	// users
	CreateUser(ctx context.Context, u *domain.User) error
	HasUsername(ctx context.Context, username string) (bool, error)
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)

	// profiles
	GetProfile(ctx context.Context, userID int64) (domain.UserProfile, bool, error)
	// GetProfileForUpdate reads the profile and locks its row until the
	// surrounding transaction ends.
	GetProfileForUpdate(ctx context.Context, userID int64) (domain.UserProfile, bool, error)
	SaveProfile(ctx context.Context, p *domain.UserProfile) error

	// books
	CreateBook(ctx context.Context, b *domain.Book) error
	UpdateBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id int64) (domain.Book, bool, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	DeleteBook(ctx context.Context, id int64) error
	HasISBN(ctx context.Context, isbn string, excludeID int64) (bool, error)
	// IncrementTimesIssued adds one issue to the book and returns the
	// updated record.
	IncrementTimesIssued(ctx context.Context, id int64) (domain.Book, error)

	// Transaction runs fn against a Store bound to a single transaction.
	// A non-nil error from fn rolls every write back.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// SessionStore issues and resolves bearer tokens. Each user owns at most one
// valid token at a time.
type SessionStore interface {
	TokenForUser(userID int64) (string, error)
	GetUserIDByToken(token string) (int64, bool, error)
	DeleteSession(token string) error
}
