package session

import (
	"context"
	"sync"
)

// keyLocker hands out one mutex per key. Entries are refcounted and dropped
// once nobody holds or waits on them, so the map stays proportional to the
// number of in-flight turns.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*keyLock)}
}

func (k *keyLocker) acquireEntry(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocker) releaseEntry(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// lock blocks until key is free or ctx is done.
func (k *keyLocker) lock(ctx context.Context, key string) (func(), error) {
	l := k.acquireEntry(key)
	select {
	case l.ch <- struct{}{}:
		return k.unlocker(key, l), nil
	case <-ctx.Done():
		k.releaseEntry(key, l)
		return nil, ctx.Err()
	}
}

// tryLock acquires key only if it is free right now.
func (k *keyLocker) tryLock(key string) (func(), bool) {
	l := k.acquireEntry(key)
	select {
	case l.ch <- struct{}{}:
		return k.unlocker(key, l), true
	default:
		k.releaseEntry(key, l)
		return nil, false
	}
}

func (k *keyLocker) unlocker(key string, l *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.releaseEntry(key, l)
		})
	}
}

// size returns the number of live entries.
func (k *keyLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
