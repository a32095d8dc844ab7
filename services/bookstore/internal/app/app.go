package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"booktrak/pkg/domain"
	"booktrak/pkg/store"
)

// DefaultLoanPeriod is how long an issued book may be kept.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	// Redis, when set, backs the token registry so tokens are shared across
	// replicas. Without it tokens live in process memory.
	Redis      *redis.Client
	JWTSecret  string
	TokenTTL   time.Duration
	LoanPeriod time.Duration

	Store    store.Store
	Sessions store.SessionStore
	Now      func() time.Time
}

// App is the core application service wiring together storage and auth logic.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	loanPeriod time.Duration
	now        func() time.Time
}

// New constructs the application. Store and Sessions default to Postgres and
// JWT sessions built from the rest of cfg.
func New(cfg Config) (*App, error) {
	if cfg.LoanPeriod <= 0 {
		cfg.LoanPeriod = DefaultLoanPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		var registry store.TokenRegistry = store.NewMemoryTokenRegistry()
		if cfg.Redis != nil {
			registry = store.NewRedisTokenRegistry(cfg.Redis)
		}
		jwtStore, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.TokenTTL, registry)
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	return &App{
		store:      dataStore,
		sessions:   sessionStore,
		loanPeriod: cfg.LoanPeriod,
		now:        cfg.Now,
	}, nil
}

// getBook returns the book or a book_id field error when it does not exist.
func (a *App) getBook(ctx context.Context, id int64) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, fieldError("book_id", msgBookDoesNotExist)
	}
	return book, nil
}

// updateProfile runs fn on the user's locked profile inside a transaction and
// persists the result. A missing profile starts out as an empty customer one.
func (a *App) updateProfile(ctx context.Context, userID int64, fn func(p *domain.UserProfile) error) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := a.store.Transaction(ctx, func(tx store.Store) error {
		profile, ok, err := tx.GetProfileForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("fetch profile: %w", err)
		}
		if !ok {
			profile = domain.NewProfile(userID, domain.UserTypeCustomer)
		}
		if err := fn(&profile); err != nil {
			return err
		}
		if err := tx.SaveProfile(ctx, &profile); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		out = profile
		return nil
	})
	return out, err
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
