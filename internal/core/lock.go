package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// RetryAfter is the fixed backoff hint carried by LockBusyError.
const RetryAfter = 5 * time.Second

// ErrLockBusy matches every *LockBusyError via errors.Is.
var ErrLockBusy = errors.New("build lock busy")

// LockBusyError is returned when an output root stays locked past the
// caller's timeout. The build never started.
type LockBusyError struct {
	Root       string
	Waited     time.Duration
	RetryAfter time.Duration
}

func (e *LockBusyError) Error() string {
	return fmt.Sprintf("build lock busy for %s after %s; retry after %s", e.Root, e.Waited, e.RetryAfter)
}

// Is reports ErrLockBusy equivalence.
func (e *LockBusyError) Is(target error) bool { return target == ErrLockBusy }

// LockManager serializes builds per output root. Distinct roots never block
// each other.
type LockManager struct {
	mu    sync.Mutex
	roots map[string]*semaphore.Weighted
}

// NewLockManager constructs an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{roots: make(map[string]*semaphore.Weighted)}
}

func (m *LockManager) semaphoreFor(root string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.roots[root]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.roots[root] = sem
	}
	return sem
}

// Acquire blocks until root is free or timeout elapses. A non-positive
// timeout tries once without waiting. The returned lease must be released;
// Release is safe to call more than once.
func (m *LockManager) Acquire(ctx context.Context, root string, timeout time.Duration) (*Lease, error) {
	key := lockKey(root)
	sem := m.semaphoreFor(key)
	if timeout <= 0 {
		if !sem.TryAcquire(1) {
			return nil, &LockBusyError{Root: key, RetryAfter: RetryAfter}
		}
		return &Lease{root: key, sem: sem, acquired: time.Now()}, nil
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &LockBusyError{Root: key, Waited: time.Since(start), RetryAfter: RetryAfter}
	}
	return &Lease{root: key, sem: sem, acquired: time.Now()}, nil
}

func lockKey(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

// Lease is exclusive access to one output root.
type Lease struct {
	root     string
	sem      *semaphore.Weighted
	acquired time.Time
	once     sync.Once
}

// Root returns the normalized output root the lease guards.
func (l *Lease) Root() string { return l.root }

// Held returns how long the lease has been held.
func (l *Lease) Held() time.Duration { return time.Since(l.acquired) }

// Release frees the root. Subsequent calls are no-ops.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.sem.Release(1) })
}
