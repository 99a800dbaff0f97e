// Package lock provides string-keyed mutual exclusion for race-prone game
// actions such as chest opening and per-room XP awards.
package lock

import "sync"

// KeyedLock serializes critical sections by arbitrary string key. Handles
// are created on first use and reference-counted, so an idle key holds no
// entry; the registry does not grow with the set of keys ever seen.
//
// Invariant: at most one goroutine runs inside WithLock for a given key.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock creates an empty lock registry.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*lockEntry)}
}

// WithLock runs fn while holding the lock for key. The lock is always
// released, including when fn panics. Acquisition blocks indefinitely;
// sections are expected to be short. Nested WithLock calls with distinct
// keys from the same goroutine must maintain a consistent order to avoid
// deadlock.
func (k *KeyedLock) WithLock(key string, fn func()) {
	e := k.acquire(key)
	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		k.release(key)
	}()
	fn()
}

func (k *KeyedLock) acquire(key string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedLock) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}

// Len reports the number of live (in-use or contended) entries.
func (k *KeyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
