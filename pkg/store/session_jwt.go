package store

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultJWTIssuer = "booktrak"

var defaultJWTLeeway = 30 * time.Second

// ErrTokenNotBound is returned for a well-formed token that is no longer the
// user's current one (logged out or superseded).
var ErrTokenNotBound = errors.New("token not bound")

// JWTSessionStore issues HS256 tokens and keeps one live token per user in a
// TokenRegistry.
type JWTSessionStore struct {
	secret   []byte
	ttl      time.Duration
	registry TokenRegistry
	issuer   string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTSessionStore builds a session store. ttl <= 0 issues tokens that do
// not expire; they stay valid until logout.
func NewJWTSessionStore(secret string, ttl time.Duration, registry TokenRegistry) (*JWTSessionStore, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret required")
	}
	if registry == nil {
		registry = NewMemoryTokenRegistry()
	}
	return &JWTSessionStore{
		secret:   []byte(secret),
		ttl:      ttl,
		registry: registry,
		issuer:   defaultJWTIssuer,
		leeway:   defaultJWTLeeway,
		now:      time.Now,
	}, nil
}

// TokenForUser returns the user's live token, minting one when none exists.
func (s *JWTSessionStore) TokenForUser(userID int64) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		minted, err := s.mint(userID)
		if err != nil {
			return "", err
		}
		bound, err := s.registry.Bind(userID, minted, s.ttl)
		if err != nil {
			return "", err
		}
		if bound == minted {
			return bound, nil
		}
		if _, err := s.parseAndVerify(bound); err == nil {
			return bound, nil
		}
		// The bound token outlived its JWT expiry by clock skew; replace it.
		if err := s.registry.Unbind(userID, bound); err != nil {
			return "", err
		}
	}
	return "", errors.New("unable to bind token")
}

// GetUserIDByToken verifies the token and checks it is still bound.
func (s *JWTSessionStore) GetUserIDByToken(token string) (int64, bool, error) {
	userID, err := s.subject(token)
	if err != nil {
		return 0, false, err
	}
	cur, ok, err := s.registry.Current(userID)
	if err != nil {
		return 0, false, err
	}
	if !ok || cur != strings.TrimSpace(token) {
		return 0, false, ErrTokenNotBound
	}
	return userID, true, nil
}

// DeleteSession unbinds the token so it stops authenticating.
func (s *JWTSessionStore) DeleteSession(token string) error {
	userID, err := s.subject(token)
	if err != nil {
		return err
	}
	return s.registry.Unbind(userID, strings.TrimSpace(token))
}

func (s *JWTSessionStore) mint(userID int64) (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(userID, 10),
		Issuer:   s.issuer,
		IssuedAt: jwt.NewNumericDate(now),
		ID:       uuid.NewString(),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *JWTSessionStore) subject(token string) (int64, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errors.New("token subject invalid")
	}
	return userID, nil
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("invalid token format")
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, errors.New("token jti missing")
	}
	return claims, nil
}
