package store

import (
	"errors"
	"sync"
)

// ErrPersistence wraps every failed session sync. The transaction was rolled back.
var ErrPersistence = errors.New("persistence error")

// Origin tells where an analysis result came from.
type Origin struct {
	MachineType string
	Directory   string
	File        string
}

// Label is the "<directory>/<file>" value stored as the session source file.
func (o Origin) Label() string {
	if o.Directory == "" {
		return o.File
	}
	return o.Directory + "/" + o.File
}

// Description is the text stored on the machine row.
func (o Origin) Description() string {
	return "machining centre " + o.MachineType + " - " + o.Directory
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
