package namespace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned by AcquireLock when another holder already owns
// the session lock.
var ErrLockHeld = errors.New("namespace: lock held by another holder")

// SessionLock is a held distributed lock on a session, renewed in the
// background for as long as Release has not been called. Modeled on the
// teacher's HealthPoller: a context-cancel-and-done background loop
// started by the constructor and torn down by Release.
type SessionLock struct {
	client   *redis.Client
	key      string
	token    string
	ttl      time.Duration
	logger   zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// AcquireLock attempts to take the session lock for sessionID with the
// given TTL, renewing it every ttl/3 until Release is called. Returns
// ErrLockHeld if another holder currently owns it.
func AcquireLock(ctx context.Context, client *redis.Client, sessionID string, ttl time.Duration, logger zerolog.Logger) (*SessionLock, error) {
	key := LockKey(sessionID)
	token := uuid.NewString()

	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &SessionLock{
		client: client,
		key:    key,
		token:  token,
		ttl:    ttl,
		logger: logger.With().Str("component", "session_lock").Str("session_id", sessionID).Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go lock.renewLoop(lockCtx)

	return lock, nil
}

func (l *SessionLock) renewLoop(ctx context.Context) {
	defer close(l.done)

	interval := l.ttl / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			res, err := l.client.Eval(renewCtx, renewScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Result()
			cancel()
			if err != nil {
				l.logger.Warn().Err(err).Msg("lock renewal failed")
				continue
			}
			if n, _ := res.(int64); n == 0 {
				l.logger.Warn().Msg("lock renewal found we no longer hold it")
				return
			}
		}
	}
}

// Release stops the renewal loop and deletes the lock if we still hold
// it. Safe to call more than once.
func (l *SessionLock) Release(ctx context.Context) error {
	l.cancel()
	<-l.done

	_, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	return err
}
