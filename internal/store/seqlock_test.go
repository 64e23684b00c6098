package store

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	s, err := New(16)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Set("BSC:PCS:WBNB-USDT", 30150000, 100); err != nil {
		t.Fatalf("set: %v", err)
	}
	e, err := s.Get("BSC:PCS:WBNB-USDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Price != 30150000 || e.Timestamp != 100 {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Version != 2 {
		t.Fatalf("expected version 2 after first write, got %d", e.Version)
	}
}

func TestGetUnknownKey(t *testing.T) {
	s, _ := New(4)
	if _, err := s.Get("nope"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := s.GetPrice("nope"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestNonFiniteRejected(t *testing.T) {
	s, _ := New(4)
	for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := s.Set("k", p, 1); !errors.Is(err, ErrNonFinite) {
			t.Fatalf("price %v: expected ErrNonFinite, got %v", p, err)
		}
	}
	// Rejected writes must not allocate a readable entry.
	if _, err := s.Get("k"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after rejected writes, got %v", err)
	}
}

func TestStaleWriteRejected(t *testing.T) {
	s, _ := New(4)
	if err := s.Set("k", 100, 50); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("k", 200, 49); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	e, err := s.Get("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Price != 100 || e.Timestamp != 50 {
		t.Fatalf("stale write mutated the slot: %+v", e)
	}
	// Equal timestamps are accepted.
	if err := s.Set("k", 300, 50); err != nil {
		t.Fatalf("equal-timestamp set: %v", err)
	}
}

// Regression: the batch path must apply the same staleness check per entry
// regardless of batch size.
func TestSetBatchStaleWriteRejected(t *testing.T) {
	s, _ := New(32)
	if err := s.Set("k0", 100, 50); err != nil {
		t.Fatalf("set: %v", err)
	}

	batch := make([]PriceEntry, 0, 12)
	batch = append(batch, PriceEntry{Key: "k0", Price: 200, Timestamp: 49})
	for i := 1; i < 12; i++ {
		batch = append(batch, PriceEntry{Key: fmt.Sprintf("k%d", i), Price: float64(i), Timestamp: 10})
	}

	errs := s.SetBatch(batch)
	if !errors.Is(errs[0], ErrStaleWrite) {
		t.Fatalf("batch entry 0: expected ErrStaleWrite, got %v", errs[0])
	}
	for i := 1; i < len(errs); i++ {
		if errs[i] != nil {
			t.Fatalf("batch entry %d: unexpected error %v", i, errs[i])
		}
	}
	e, _ := s.Get("k0")
	if e.Price != 100 || e.Timestamp != 50 {
		t.Fatalf("batch stale write mutated the slot: %+v", e)
	}
}

func TestCapacityBoundary(t *testing.T) {
	s, _ := New(3)
	for i := 0; i < 3; i++ {
		if err := s.Set(fmt.Sprintf("k%d", i), float64(i+1), 10); err != nil {
			t.Fatalf("set k%d: %v", i, err)
		}
	}
	if err := s.Set("overflow", 9, 10); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	// Existing keys stay readable and unaffected.
	for i := 0; i < 3; i++ {
		e, err := s.Get(fmt.Sprintf("k%d", i))
		if err != nil {
			t.Fatalf("get k%d: %v", i, err)
		}
		if e.Price != float64(i+1) {
			t.Fatalf("k%d changed: %+v", i, e)
		}
	}
}

func TestGetBatch(t *testing.T) {
	s, _ := New(8)
	_ = s.Set("a", 1, 1)
	_ = s.Set("b", 2, 2)

	out := s.GetBatch([]string{"a", "missing", "b"})
	if out[0].Err != nil || out[0].Entry.Price != 1 {
		t.Fatalf("entry a: %+v %v", out[0].Entry, out[0].Err)
	}
	if !errors.Is(out[1].Err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", out[1].Err)
	}
	if out[2].Err != nil || out[2].Entry.Price != 2 {
		t.Fatalf("entry b: %+v %v", out[2].Entry, out[2].Err)
	}
}

// A reader must never observe a (price, timestamp) pair that was not
// written together: one writer bumps both in lockstep while many readers
// hammer the slot.
func TestNoTornReads(t *testing.T) {
	const (
		iterations = 20000
		readers    = 8
	)
	s, _ := New(4)
	if err := s.Set("hot", 0, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	torn := make(chan string, readers)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				e, err := s.Get("hot")
				if err != nil {
					if errors.Is(err, ErrReadContention) {
						continue
					}
					torn <- fmt.Sprintf("read error: %v", err)
					return
				}
				// Writes always keep price == timestamp * 2.
				if e.Price != float64(e.Timestamp*2) {
					torn <- fmt.Sprintf("torn read: price=%v ts=%d", e.Price, e.Timestamp)
					return
				}
			}
		}()
	}

	for i := int64(1); i <= iterations; i++ {
		if err := s.Set("hot", float64(i*2), i); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
	close(torn)
	for msg := range torn {
		t.Fatal(msg)
	}
}

func TestGetPriceMatchesGet(t *testing.T) {
	s, _ := New(4)
	_ = s.Set("k", 42.5, 7)
	p, err := s.GetPrice("k")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	e, _ := s.Get("k")
	if p != e.Price {
		t.Fatalf("GetPrice %v != Get %v", p, e.Price)
	}
}

func TestReadContentionAfterRetryBudget(t *testing.T) {
	s, err := New(4, WithReadRetries(8))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Set("k", 1.5, 10); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Park the slot mid-write: an odd version makes every read attempt
	// retry until the budget runs out.
	i, ok := s.index.IndexOf("k")
	if !ok {
		t.Fatal("key not indexed")
	}
	stable := s.slots[i].version.Load()
	s.slots[i].version.Store(stable + 1)

	if _, err := s.Get("k"); !errors.Is(err, ErrReadContention) {
		t.Fatalf("expected ErrReadContention from Get, got %v", err)
	}
	if _, err := s.GetPrice("k"); !errors.Is(err, ErrReadContention) {
		t.Fatalf("expected ErrReadContention from GetPrice, got %v", err)
	}

	// Completing the write restores readability.
	s.slots[i].version.Store(stable + 2)
	e, err := s.Get("k")
	if err != nil {
		t.Fatalf("get after write completion: %v", err)
	}
	if e.Price != 1.5 || e.Timestamp != 10 {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestVersionMonotonic(t *testing.T) {
	s, _ := New(4)
	var last uint64
	for i := int64(1); i <= 5; i++ {
		if err := s.Set("k", float64(i), i); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
		e, _ := s.Get("k")
		if e.Version <= last || e.Version&1 == 1 {
			t.Fatalf("version not even-monotonic: %d after %d", e.Version, last)
		}
		last = e.Version
	}
}
