package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRegistry remembers the single live token of each user.
type TokenRegistry interface {
	// Bind records token for userID unless a token is already bound, and
	// returns whichever token ends up bound. ttl <= 0 means no expiry.
	Bind(userID int64, token string, ttl time.Duration) (string, error)
	Current(userID int64) (string, bool, error)
	// Unbind drops the binding only if it still points at token.
	Unbind(userID int64, token string) error
}

type boundToken struct {
	token  string
	expiry time.Time // zero: never
}

func (b boundToken) expired(now time.Time) bool {
	return !b.expiry.IsZero() && now.After(b.expiry)
}

// MemoryTokenRegistry keeps bindings in-memory (single instance only).
type MemoryTokenRegistry struct {
	mu     sync.Mutex
	tokens map[int64]boundToken
}

// NewMemoryTokenRegistry builds an in-memory registry.
func NewMemoryTokenRegistry() *MemoryTokenRegistry {
	return &MemoryTokenRegistry{tokens: make(map[int64]boundToken)}
}

func (r *MemoryTokenRegistry) Bind(userID int64, token string, ttl time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if cur, ok := r.tokens[userID]; ok && !cur.expired(now) {
		return cur.token, nil
	}
	entry := boundToken{token: token}
	if ttl > 0 {
		entry.expiry = now.Add(ttl)
	}
	r.tokens[userID] = entry
	return token, nil
}

func (r *MemoryTokenRegistry) Current(userID int64) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tokens[userID]
	if !ok {
		return "", false, nil
	}
	if cur.expired(time.Now()) {
		delete(r.tokens, userID)
		return "", false, nil
	}
	return cur.token, true, nil
}

func (r *MemoryTokenRegistry) Unbind(userID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tokens[userID]; ok && cur.token == token {
		delete(r.tokens, userID)
	}
	return nil
}

// RedisTokenRegistry stores bindings in Redis so every replica sees the same
// token per user.
type RedisTokenRegistry struct {
	client *redis.Client
}

var unbindScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisTokenRegistry builds a registry on a shared Redis client.
func NewRedisTokenRegistry(client *redis.Client) *RedisTokenRegistry {
	return &RedisTokenRegistry{client: client}
}

func (r *RedisTokenRegistry) Bind(userID int64, token string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	key := tokenKey(userID)
	// The bound key can expire between SETNX and GET; retry in that case.
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		cur, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", err
		}
		return cur, nil
	}
	return "", errors.New("token binding contended")
}

func (r *RedisTokenRegistry) Current(userID int64) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cur, err := r.client.Get(ctx, tokenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cur, true, nil
}

func (r *RedisTokenRegistry) Unbind(userID int64, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return unbindScript.Run(ctx, r.client, []string{tokenKey(userID)}, token).Err()
}

func tokenKey(userID int64) string {
	return "booktrak:token:" + strconv.FormatInt(userID, 10)
}
