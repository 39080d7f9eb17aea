package relay

import (
	"context"
	"sync"
)

// sessionLocks hands out one lock per session. Entries are dropped once no
// turn holds or waits for them.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// acquire blocks until the session is free or ctx is done.
func (l *sessionLocks) acquire(ctx context.Context, session string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.m[session]
	if !ok {
		sl = &sessionLock{ch: make(chan struct{}, 1)}
		l.m[session] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
		return func() {
			<-sl.ch
			l.unref(session, sl)
		}, nil
	case <-ctx.Done():
		l.unref(session, sl)
		return nil, ctx.Err()
	}
}

func (l *sessionLocks) unref(session string, sl *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl.refs--
	if sl.refs == 0 {
		delete(l.m, session)
	}
}

// len returns the number of tracked sessions.
func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
