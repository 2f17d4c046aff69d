// Package lock serializes mutations of one learning session across
// concurrent requests. Local is for a single process; Redis coordinates
// several replicas.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// configured wait.
var ErrLockTimeout = fmt.Errorf("session busy, lock wait timed out: %w", domain.ErrConflict)

// Locker acquires an exclusive lock on key. The returned func releases it
// and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SessionKey is the lock key for a session id.
func SessionKey(sessionID string) string { return "session:" + sessionID }

// Local is an in-process keyed mutex. The zero value is ready to use and
// waits until ctx is done.
type Local struct {
	Wait time.Duration

	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Local that gives up after wait (0 = wait for ctx).
func NewLocal(wait time.Duration) *Local {
	return &Local{Wait: wait}
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.keys == nil {
		l.keys = make(map[string]*localEntry)
	}
	e := l.keys[key]
	if e == nil {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	wctx := ctx
	if l.Wait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, l.Wait)
		defer cancel()
	}

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(key, e)
			})
		}, nil
	case <-wctx.Done():
		l.release(key, e)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrLockTimeout
	}
}

func (l *Local) release(key string, e *localEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}
