// Package redislock serializes auto-integration of a branch across processes
// with a Redis key held for a bounded time.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tessera-labs/tessera/internal/platform/env"
)

// ErrLockTimeout is returned when the lock could not be taken within Config.Wait.
var ErrLockTimeout = errors.New("branch lock wait exceeded")

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type Config struct {
	Addr         string
	Password     string
	DB           int
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
	Prefix       string
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("REDIS_LOCK_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	wait, err := env.Duration("REDIS_LOCK_WAIT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	poll, err := env.Duration("REDIS_LOCK_POLL_INTERVAL", 50*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:         env.String("REDIS_ADDR", "localhost:6379"),
		Password:     env.String("REDIS_PASSWORD", ""),
		DB:           db,
		TTL:          ttl,
		Wait:         wait,
		PollInterval: poll,
		Prefix:       env.String("REDIS_LOCK_PREFIX", "tessera:autointegrate:"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.DB < 0 {
		return errors.New("REDIS_DB must be >= 0")
	}
	if c.TTL <= 0 {
		return errors.New("REDIS_LOCK_TTL must be positive")
	}
	if c.Wait < 0 {
		return errors.New("REDIS_LOCK_WAIT must be >= 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("REDIS_LOCK_POLL_INTERVAL must be positive")
	}
	return nil
}

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

type Locker struct {
	rdb    client
	cfg    Config
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Locker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newLocker(rdb, cfg, logger), nil
}

func newLocker(rdb client, cfg Config, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{rdb: rdb, cfg: cfg, logger: logger.With("component", "redislock")}
}

// Ping reports whether Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	if l == nil || l.rdb == nil {
		return errors.New("redis locker not initialized")
	}
	return l.rdb.Ping(ctx).Err()
}

func (l *Locker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}

// WithBranchLock runs fn while holding the branch key. The key expires after
// Config.TTL even if the holder dies; fn's context is cancelled at that point.
func (l *Locker) WithBranchLock(ctx context.Context, branchID string, fn func(ctx context.Context) error) error {
	if l == nil || l.rdb == nil {
		return errors.New("redis locker not initialized")
	}
	key := l.cfg.Prefix + strings.TrimSpace(branchID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer l.release(ctx, key, token)

	fnCtx, cancel := context.WithTimeout(ctx, l.cfg.TTL)
	defer cancel()
	return fn(fnCtx)
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.cfg.Wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: %w", key, ErrLockTimeout)
		}
		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) release(ctx context.Context, key, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	deleted, err := l.rdb.Eval(releaseCtx, releaseScript, []string{key}, token).Int64()
	if err != nil {
		l.logger.Warn("release branch lock failed", "key", key, "error", err)
		return
	}
	if deleted == 0 {
		l.logger.Warn("branch lock expired before release", "key", key)
	}
}
