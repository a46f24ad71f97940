package repository

import (
	"context"
	"sync"
)

// Guard serializes read-modify-write cycles per resource key. Two callers holding
// different keys never block each other.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewGuard creates an empty Guard
func NewGuard() *Guard {
	return &Guard{
		locks: make(map[string]*keyLock),
	}
}

// Lock blocks until key is free or ctx is done. The returned function releases
// the key and must be called exactly once.
func (g *Guard) Lock(ctx context.Context, key string) (func(), error) {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		g.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			g.release(key, l)
		})
	}, nil
}

// Do runs fn while holding key
func (g *Guard) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := g.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (g *Guard) release(key string, l *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

// size is the number of keys currently tracked
func (g *Guard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
