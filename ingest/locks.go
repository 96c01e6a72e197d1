// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package ingest

import "sync"

// keyedMutex serializes work per key. Entries are dropped once the last
// holder unlocks.
type keyedMutex struct {
	sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sync.Mutex
	refs int
}

func makeKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns the function releasing it.
func (k *keyedMutex) Lock(key string) func() {
	k.Mutex.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.Mutex.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		k.Mutex.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.Mutex.Unlock()
	}
}
