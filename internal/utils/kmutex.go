// Package utils holds small helpers shared across the service.
package utils

import "sync"

// KeyedMutex serializes work per string key without one global lock.
// Webhook application uses it keyed by PMS reservation id so two
// deliveries for the same reservation never interleave, and payment
// confirmation uses it keyed by session id so the charge call runs at
// most once concurrently per session. Unrelated keys proceed in
// parallel.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key, blocking while another goroutine
// holds it. Entries are reference counted and removed again on the
// final unlock, so the map does not grow with the key space.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

// Unlock releases the mutex for key. Unlocking a key that is not held
// panics, same as sync.Mutex.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("utils: unlock of unheld key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}
