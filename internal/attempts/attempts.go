// Package attempts guards a client attempt token against concurrent resubmission.
package attempts

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAttemptInFlight reports that another request holding the same token has not finished.
var ErrAttemptInFlight = errors.New("attempt already in flight")

// Release frees a held token.
type Release func(ctx context.Context) error

// Guard acquires exclusive ownership of a token for at most ttl.
type Guard interface {
	Acquire(ctx context.Context, token string, ttl time.Duration) (Release, error)
}

// LocalGuard is a process-local Guard for single-instance deployments and tests.
type LocalGuard struct {
	mutex sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewLocalGuard returns an empty LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]time.Time), nowFn: time.Now}
}

func (guard *LocalGuard) Acquire(_ context.Context, token string, ttl time.Duration) (Release, error) {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	now := guard.nowFn()
	if expiresAt, ok := guard.held[token]; ok && now.Before(expiresAt) {
		return nil, ErrAttemptInFlight
	}
	expiresAt := now.Add(ttl)
	guard.held[token] = expiresAt
	return func(context.Context) error {
		guard.mutex.Lock()
		defer guard.mutex.Unlock()
		if current, ok := guard.held[token]; ok && current.Equal(expiresAt) {
			delete(guard.held, token)
		}
		return nil
	}, nil
}
