package sessions

import (
	"context"
	"errors"
	"time"
)

// Locker provides a process-safe, per-sessionKey lock interface used to
// serialize turns: at most one turn per sessionKey progresses at a time.
type Locker interface {
	Lock(ctx context.Context, sessionKey string) error
	Unlock(sessionKey string)
}

// LocalLocker wraps the in-memory SessionLocker with a context-aware
// interface. It is the only Locker implementation the core ships: session
// state is file-based and single-process, so a distributed lock has no
// collaborator to coordinate with.
type LocalLocker struct {
	inner *SessionLocker
}

// NewLocalLocker creates a LocalLocker using the given default timeout.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{inner: NewSessionLocker(timeout)}
}

// Lock acquires a local lock, respecting ctx cancellation.
func (l *LocalLocker) Lock(ctx context.Context, sessionKey string) error {
	if l == nil || l.inner == nil {
		return errors.New("session locker unavailable")
	}
	return l.inner.LockWithContext(ctx, sessionKey)
}

// Unlock releases the local lock.
func (l *LocalLocker) Unlock(sessionKey string) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Unlock(sessionKey)
}
