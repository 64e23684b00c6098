package clock

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

func TestIncrementAndGet(t *testing.T) {
	vc := New()
	vc.Increment("a")
	vc.Increment("a")
	vc.Increment("b")
	if vc.Get("a") != 2 || vc.Get("b") != 1 || vc.Get("missing") != 0 {
		t.Fatalf("unexpected counters: %v", vc)
	}
}

func TestMergeIsPure(t *testing.T) {
	a := VectorClock{"a": 3, "b": 1}
	b := VectorClock{"b": 5, "c": 2}

	m := a.Merge(b)
	want := VectorClock{"a": 3, "b": 5, "c": 2}
	if !reflect.DeepEqual(m, want) {
		t.Fatalf("merge = %v, want %v", m, want)
	}
	// Inputs untouched.
	if !reflect.DeepEqual(a, VectorClock{"a": 3, "b": 1}) {
		t.Fatalf("merge mutated a: %v", a)
	}
	if !reflect.DeepEqual(b, VectorClock{"b": 5, "c": 2}) {
		t.Fatalf("merge mutated b: %v", b)
	}
}

func TestMergeIdempotentCommutative(t *testing.T) {
	a := VectorClock{"a": 3, "b": 1, "c": 7}
	b := VectorClock{"a": 1, "b": 9, "d": 2}

	if !reflect.DeepEqual(a.Merge(a), a) {
		t.Fatalf("merge(a,a) != a: %v", a.Merge(a))
	}
	if !reflect.DeepEqual(a.Merge(b), b.Merge(a)) {
		t.Fatalf("merge not commutative: %v vs %v", a.Merge(b), b.Merge(a))
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b VectorClock
		want Ordering
	}{
		{VectorClock{}, VectorClock{}, Equal},
		{VectorClock{"a": 1}, VectorClock{"a": 1}, Equal},
		{VectorClock{"a": 1}, VectorClock{"a": 2}, Before},
		{VectorClock{"a": 2}, VectorClock{"a": 1}, After},
		{VectorClock{"a": 1}, VectorClock{"a": 1, "b": 1}, Before},
		{VectorClock{"a": 1}, VectorClock{"b": 1}, Concurrent},
		{VectorClock{"a": 2, "b": 1}, VectorClock{"a": 1, "b": 2}, Concurrent},
	}
	for i, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Fatalf("case %d: %v vs %v = %v, want %v", i, c.a, c.b, got, c.want)
		}
	}
	if !(VectorClock{"a": 1}).HappensBefore(VectorClock{"a": 2}) {
		t.Fatal("happens-before failed")
	}
	if !(VectorClock{"a": 1}).IsConcurrentWith(VectorClock{"b": 1}) {
		t.Fatal("concurrency detection failed")
	}
}

// Round-trip fidelity is release blocking: the wire format must preserve
// every pair exactly, for small clocks and for clocks with many nodes.
func TestWireRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, nodes := range []int{1, 2, 17, 100, 1000} {
		vc := New()
		for i := 0; i < nodes; i++ {
			vc[fmt.Sprintf("node-%04d", i)] = rng.Uint64()
		}
		got, err := FromWire(vc.ToWire())
		if err != nil {
			t.Fatalf("%d nodes: decode: %v", nodes, err)
		}
		if !reflect.DeepEqual(got, vc) {
			t.Fatalf("%d nodes: round trip lost entries (got %d, want %d)", nodes, len(got), len(vc))
		}
	}
}

func TestWireDeterministic(t *testing.T) {
	a := VectorClock{"x": 1, "y": 2, "z": 3}
	b := VectorClock{"z": 3, "x": 1, "y": 2}
	if string(a.ToWire()) != string(b.ToWire()) {
		t.Fatal("equal clocks produced different wire bytes")
	}
}

func TestWireEmptyClock(t *testing.T) {
	got, err := FromWire(New().ToWire())
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty clock, got %v", got)
	}
}

func TestWireRejectsTruncation(t *testing.T) {
	vc := VectorClock{"node-a": 7, "node-b": 9}
	wire := vc.ToWire()
	for cut := 1; cut < len(wire); cut++ {
		if _, err := FromWire(wire[:len(wire)-cut]); err == nil {
			t.Fatalf("truncation by %d bytes accepted", cut)
		}
	}
	if _, err := FromWire(nil); err == nil {
		t.Fatal("nil input accepted")
	}
}

func TestWireRejectsTrailingBytes(t *testing.T) {
	wire := append(VectorClock{"a": 1}.ToWire(), 0xFF)
	if _, err := FromWire(wire); err == nil {
		t.Fatal("trailing bytes accepted")
	}
}

func TestWireRejectsOversizedCount(t *testing.T) {
	// Header claims more nodes than the buffer can hold.
	wire := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := FromWire(wire); err == nil {
		t.Fatal("oversized node count accepted")
	}
}
