package attempts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "creditd:attempt:"

	// releaseScript deletes the lock only if it still carries this holder's value, so a holder
	// whose ttl expired cannot free a lock that another request now owns.
	releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`
)

// RedisGuard holds attempt tokens in Redis with SET NX so every instance sees the same lock.
type RedisGuard struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisGuard wraps client. An empty prefix uses the default.
func NewRedisGuard(client redis.UniversalClient, keyPrefix string) *RedisGuard {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisGuard{client: client, keyPrefix: keyPrefix}
}

// Connect dials addr and verifies it answers PING.
func Connect(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (guard *RedisGuard) Acquire(ctx context.Context, token string, ttl time.Duration) (Release, error) {
	key := guard.keyPrefix + token
	holder := uuid.NewString()
	acquired, err := guard.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire attempt %s: %w", token, err)
	}
	if !acquired {
		return nil, ErrAttemptInFlight
	}
	return func(ctx context.Context) error {
		if err := guard.client.Eval(ctx, releaseScript, []string{key}, holder).Err(); err != nil {
			return fmt.Errorf("release attempt %s: %w", token, err)
		}
		return nil
	}, nil
}
