package store

import (
	"fmt"
	"sync"
)

// KeyIndex maps logical keys to slot indices. An index, once assigned,
// is stable for the process lifetime and never reused for another key.
type KeyIndex struct {
	mu   sync.RWMutex
	idx  map[string]int
	keys []string
	cap  int
}

// NewKeyIndex creates an index with a fixed capacity.
func NewKeyIndex(capacity int) (*KeyIndex, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("store: key index capacity must be positive, got %d", capacity)
	}
	return &KeyIndex{
		idx:  make(map[string]int, capacity),
		keys: make([]string, 0, capacity),
		cap:  capacity,
	}, nil
}

// IndexOf returns the slot index assigned to key, if any.
func (x *KeyIndex) IndexOf(key string) (int, bool) {
	x.mu.RLock()
	i, ok := x.idx[key]
	x.mu.RUnlock()
	return i, ok
}

// Assign returns the slot index for key, allocating the next free slot on
// first sight. Allocation beyond capacity fails with ErrCapacityExceeded.
func (x *KeyIndex) Assign(key string) (int, error) {
	x.mu.RLock()
	i, ok := x.idx[key]
	x.mu.RUnlock()
	if ok {
		return i, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if i, ok := x.idx[key]; ok {
		return i, nil
	}
	if len(x.keys) >= x.cap {
		return 0, fmt.Errorf("%w: %d keys", ErrCapacityExceeded, x.cap)
	}
	i = len(x.keys)
	x.idx[key] = i
	x.keys = append(x.keys, key)
	return i, nil
}

// Key returns the key assigned to slot index i.
func (x *KeyIndex) Key(i int) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if i < 0 || i >= len(x.keys) {
		return "", false
	}
	return x.keys[i], true
}

// Len returns the number of assigned keys.
func (x *KeyIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys)
}

// Capacity returns the fixed capacity.
func (x *KeyIndex) Capacity() int {
	return x.cap
}
