package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	branchLockNamespace = "autointegrate"

	tryAdvisoryXactLockQuery = `SELECT pg_try_advisory_xact_lock($1)`
)

// ErrLockTimeout is returned when the branch lock could not be taken within
// LockConfig.Wait.
var ErrLockTimeout = errors.New("branch lock wait exceeded")

type LockConfig struct {
	Wait         time.Duration
	PollInterval time.Duration
	// Slots bounds the lock transactions open at once. Each holder also needs
	// a free connection for its own queries, so Slots should not exceed half
	// the pool.
	Slots        int
}

// AdvisoryLocker serializes work on a branch with a transaction-scoped
// advisory lock. Waiters poll with pg_try_advisory_xact_lock and give their
// connection back between attempts.
type AdvisoryLocker struct {
	db    TxDB
	cfg   LockConfig
	slots chan struct{}
}

func NewAdvisoryLocker(db TxDB, cfg LockConfig) *AdvisoryLocker {
	if db == nil {
		return nil
	}
	if cfg.Slots < 1 {
		cfg.Slots = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &AdvisoryLocker{db: db, cfg: cfg, slots: make(chan struct{}, cfg.Slots)}
}

func (l *AdvisoryLocker) WithBranchLock(ctx context.Context, branchID string, fn func(ctx context.Context) error) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("advisory locker not initialized")
	}
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return fmt.Errorf("branch id is required")
	}
	key := advisoryKey(branchLockNamespace, branchID)
	deadline := time.Now().Add(l.cfg.Wait)
	for {
		held, err := l.attempt(ctx, key, deadline, fn)
		if held || err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("branch %s: %w", branchID, ErrLockTimeout)
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

// attempt tries the lock once. When it is granted, fn runs inside the lock
// transaction and attempt reports true with fn's outcome.
func (l *AdvisoryLocker) attempt(ctx context.Context, key int64, deadline time.Time, fn func(ctx context.Context) error) (bool, error) {
	if err := l.acquireSlot(ctx, deadline); err != nil {
		return false, err
	}
	defer func() { <-l.slots }()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var granted bool
	if err := tx.QueryRowContext(ctx, tryAdvisoryXactLockQuery, key).Scan(&granted); err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !granted {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		return true, err
	}
	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (l *AdvisoryLocker) acquireSlot(ctx context.Context, deadline time.Time) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}
