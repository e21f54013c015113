package memory

import (
	"context"
	"sync"
)

func (s *Store) LoadCheckpoint(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[name], nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, name, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[name] = cursor
	return nil
}

func (s *Store) ClearCheckpoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, name)
	return nil
}

// Locker serializes work per branch inside one process.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]*sync.Mutex{}}
}

func (l *Locker) WithBranchLock(ctx context.Context, branchID string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lock, ok := l.locks[branchID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[branchID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
