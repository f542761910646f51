package dialogue

import (
	"context"
	"sync"

	"github.com/haasonsaas/rapport/internal/errs"
)

// sessionLocks serializes turn processing per session id. Each entry is
// a single-slot channel with a reference count; the entry is dropped as
// soon as the last holder or waiter releases, so idle sessions cost
// nothing.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the session lock is held or ctx ends. On success
// it returns a release function that is safe to call more than once.
func (l *sessionLocks) Acquire(ctx context.Context, sessionID string) (func(), error) {
	const op = "dialogue.sessionLocks.Acquire"
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, op, err)
	}

	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.release(sessionID, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(sessionID, entry)
		return nil, errs.Wrap(errs.KindCancelled, op, ctx.Err())
	}
}

// release drops one reference and reaps the entry when nobody holds or
// waits on it.
func (l *sessionLocks) release(sessionID string, entry *lockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, sessionID)
	}
	l.mu.Unlock()
}

// Len reports how many sessions currently hold or wait on a lock.
func (l *sessionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
