package store

import (
	"fmt"
	"math"
	"sync/atomic"
)

// defaultReadRetries bounds the seqlock read loop. Retries only occur while
// a write to the same slot is in flight, so hitting the bound means the
// single-writer discipline was violated.
const defaultReadRetries = 64

// slot is one fixed cache cell. The version counter doubles as the seqlock
// guard: odd while a write is in progress, even when stable, zero before
// the first write completes. The price is held as its IEEE-754 bit pattern.
type slot struct {
	version atomic.Uint64
	price   atomic.Uint64
	ts      atomic.Int64
}

// SeqlockStore is a fixed-capacity price cache with lock-free reads.
//
// Readers never block and never observe a torn (price, timestamp) pair.
// Writers never block each other only because callers must serialize
// writes to the same key; the store does not enforce that itself.
type SeqlockStore struct {
	slots   []slot
	index   *KeyIndex
	retries int
}

// StoreOption configures SeqlockStore.
type StoreOption func(*SeqlockStore)

// WithReadRetries overrides the bounded retry budget for reads.
func WithReadRetries(n int) StoreOption {
	return func(s *SeqlockStore) {
		if n > 0 {
			s.retries = n
		}
	}
}

// New creates a store with a fixed slot capacity.
func New(capacity int, opts ...StoreOption) (*SeqlockStore, error) {
	index, err := NewKeyIndex(capacity)
	if err != nil {
		return nil, err
	}
	s := &SeqlockStore{
		slots:   make([]slot, capacity),
		index:   index,
		retries: defaultReadRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Set stores (price, timestamp) for key. It rejects non-finite prices and
// timestamps strictly older than the stored one, and allocates a slot on
// first sight of the key. The caller must serialize Set calls per key.
func (s *SeqlockStore) Set(key string, price float64, timestamp int64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: key %q", ErrNonFinite, key)
	}

	i, err := s.index.Assign(key)
	if err != nil {
		return err
	}
	sl := &s.slots[i]

	v := sl.version.Load()
	if v != 0 && timestamp < sl.ts.Load() {
		return fmt.Errorf("%w: key %q ts %d < stored %d", ErrStaleWrite, key, timestamp, sl.ts.Load())
	}

	// Seqlock write fence: odd while writing, even when done.
	sl.version.Store(v + 1)
	sl.price.Store(math.Float64bits(price))
	sl.ts.Store(timestamp)
	sl.version.Store(v + 2)
	return nil
}

// Get returns the entry stored for key. The read is lock-free: it retries
// whenever it observes an odd version or a version change across the read.
func (s *SeqlockStore) Get(key string) (PriceEntry, error) {
	i, ok := s.index.IndexOf(key)
	if !ok {
		return PriceEntry{}, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	sl := &s.slots[i]

	for attempt := 0; attempt < s.retries; attempt++ {
		v1 := sl.version.Load()
		if v1 == 0 {
			// Slot allocated but first write not yet published.
			return PriceEntry{}, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		if v1&1 == 1 {
			continue
		}
		p := sl.price.Load()
		t := sl.ts.Load()
		if sl.version.Load() == v1 {
			return PriceEntry{
				Key:       key,
				Price:     math.Float64frombits(p),
				Timestamp: t,
				Version:   v1,
			}, nil
		}
	}
	return PriceEntry{}, fmt.Errorf("%w: key %q", ErrReadContention, key)
}

// GetPrice returns only the price for key, skipping the timestamp decode.
// It follows the exact same retry discipline as Get.
func (s *SeqlockStore) GetPrice(key string) (float64, error) {
	i, ok := s.index.IndexOf(key)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	sl := &s.slots[i]

	for attempt := 0; attempt < s.retries; attempt++ {
		v1 := sl.version.Load()
		if v1 == 0 {
			return 0, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		if v1&1 == 1 {
			continue
		}
		p := sl.price.Load()
		if sl.version.Load() == v1 {
			return math.Float64frombits(p), nil
		}
	}
	return 0, fmt.Errorf("%w: key %q", ErrReadContention, key)
}

// SetBatch applies entries one by one with the identical per-entry rules as
// Set. The returned slice is aligned with the input; a nil element means
// the entry was accepted. There is no size-based fast path.
func (s *SeqlockStore) SetBatch(entries []PriceEntry) []error {
	errs := make([]error, len(entries))
	for i, e := range entries {
		errs[i] = s.Set(e.Key, e.Price, e.Timestamp)
	}
	return errs
}

// GetResult is one element of a batch read.
type GetResult struct {
	Entry PriceEntry
	Err   error
}

// GetBatch reads keys one by one with the identical per-key rules as Get.
func (s *SeqlockStore) GetBatch(keys []string) []GetResult {
	out := make([]GetResult, len(keys))
	for i, k := range keys {
		out[i].Entry, out[i].Err = s.Get(k)
	}
	return out
}

// Len returns the number of keys currently held.
func (s *SeqlockStore) Len() int {
	return s.index.Len()
}

// Capacity returns the fixed slot capacity.
func (s *SeqlockStore) Capacity() int {
	return s.index.Capacity()
}

// Keys returns a snapshot of all assigned keys in slot order.
func (s *SeqlockStore) Keys() []string {
	n := s.index.Len()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if k, ok := s.index.Key(i); ok {
			keys = append(keys, k)
		}
	}
	return keys
}
