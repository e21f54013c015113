package redislock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu     sync.Mutex
	keys   map[string]string
	setErr error
	evals  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return goredis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.keys[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error { return nil }

func testConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		TTL:          time.Second,
		Wait:         20 * time.Millisecond,
		PollInterval: time.Millisecond,
		Prefix:       "test:",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigValidate(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Prefix == "" {
		t.Fatalf("expected default prefix")
	}

	bad := cfg
	bad.TTL = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	bad = cfg
	bad.Addr = " "
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestWithBranchLock_RunsAndReleases(t *testing.T) {
	rdb := newFakeRedis()
	l := newLocker(rdb, testConfig(), quietLogger())

	ran := false
	err := l.WithBranchLock(context.Background(), "br-1", func(ctx context.Context) error {
		ran = true
		if _, ok := rdb.keys["test:br-1"]; !ok {
			t.Fatalf("expected key held during fn")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBranchLock() err=%v", err)
	}
	if !ran {
		t.Fatalf("fn not called")
	}
	if _, ok := rdb.keys["test:br-1"]; ok {
		t.Fatalf("expected key released")
	}
}

func TestWithBranchLock_ReturnsFnError(t *testing.T) {
	rdb := newFakeRedis()
	l := newLocker(rdb, testConfig(), quietLogger())
	want := errors.New("fn failed")

	err := l.WithBranchLock(context.Background(), "br-1", func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err=%v, want %v", err, want)
	}
	if rdb.evals != 1 {
		t.Fatalf("evals=%d, want 1", rdb.evals)
	}
}

func TestWithBranchLock_TimesOutWhenHeld(t *testing.T) {
	rdb := newFakeRedis()
	rdb.keys["test:br-1"] = "someone-else"
	l := newLocker(rdb, testConfig(), quietLogger())

	err := l.WithBranchLock(context.Background(), "br-1", func(ctx context.Context) error {
		t.Fatalf("fn must not run")
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err=%v, want ErrLockTimeout", err)
	}
	if rdb.keys["test:br-1"] != "someone-else" {
		t.Fatalf("foreign lock must survive")
	}
}

func TestWithBranchLock_SerializesCallers(t *testing.T) {
	rdb := newFakeRedis()
	cfg := testConfig()
	cfg.Wait = 5 * time.Second
	l := newLocker(rdb, cfg, quietLogger())

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithBranchLock(context.Background(), "br-1", func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithBranchLock() err=%v", err)
			}
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("max concurrent holders=%d, want 1", maxSeen)
	}
}

func TestWithBranchLock_SetError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.setErr = errors.New("connection refused")
	l := newLocker(rdb, testConfig(), quietLogger())

	if err := l.WithBranchLock(context.Background(), "br-1", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWithBranchLock_BoundsFnByTTL(t *testing.T) {
	rdb := newFakeRedis()
	cfg := testConfig()
	cfg.TTL = 20 * time.Millisecond
	l := newLocker(rdb, cfg, quietLogger())

	err := l.WithBranchLock(context.Background(), "br-1", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > cfg.TTL {
			t.Errorf("fn context deadline=%v ok=%v, want within %s", deadline, ok, cfg.TTL)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want DeadlineExceeded", err)
	}
	if len(rdb.keys) != 0 {
		t.Fatalf("expected key released, got %v", rdb.keys)
	}
}
