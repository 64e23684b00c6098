package gossip

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pricemesh/internal/store"
)

// memTransport fans published messages out to every other subscribed
// transport in the same group, synchronously.
type memTransport struct {
	mu       sync.Mutex
	group    *memGroup
	handler  func([]byte)
	loopback bool
}

type memGroup struct {
	mu    sync.Mutex
	peers []*memTransport
}

func newMemGroup() *memGroup {
	return &memGroup{}
}

func (g *memGroup) join() *memTransport {
	t := &memTransport{group: g}
	g.mu.Lock()
	g.peers = append(g.peers, t)
	g.mu.Unlock()
	return t
}

func (t *memTransport) Publish(_ context.Context, data []byte) error {
	t.group.mu.Lock()
	peers := append([]*memTransport(nil), t.group.peers...)
	t.group.mu.Unlock()
	for _, p := range peers {
		if p == t && !t.loopback {
			continue
		}
		p.mu.Lock()
		h := p.handler
		p.mu.Unlock()
		if h != nil {
			h(append([]byte(nil), data...))
		}
	}
	return nil
}

func (t *memTransport) Subscribe(handler func([]byte)) error {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
	return nil
}

func (t *memTransport) Close() error { return nil }

func newTestManager(t *testing.T, node string, tr *memTransport, key []byte) *Manager {
	t.Helper()
	s, err := store.New(64)
	require.NoError(t, err)
	auth, err := NewSigned(key)
	require.NoError(t, err)
	m, err := NewManager(ManagerConfig{
		NodeID:    node,
		Store:     s,
		Auth:      auth,
		Transport: tr,
		Interval:  0, // default; rounds are driven manually in tests
	})
	require.NoError(t, err)
	require.NoError(t, tr.Subscribe(m.OnMessageReceived))
	return m
}

func TestNewManagerValidation(t *testing.T) {
	s, _ := store.New(4)
	tr := newMemGroup().join()
	auth := NewExplicitlyUnsigned()

	_, err := NewManager(ManagerConfig{Store: s, Auth: auth, Transport: tr})
	require.Error(t, err)
	_, err = NewManager(ManagerConfig{NodeID: "n", Auth: auth, Transport: tr})
	require.Error(t, err)
	_, err = NewManager(ManagerConfig{NodeID: "n", Store: s, Transport: tr})
	require.Error(t, err, "nil authenticator must not default to unsigned")
	_, err = NewManager(ManagerConfig{NodeID: "n", Store: s, Auth: auth})
	require.Error(t, err)
}

func TestSetMarksDirtyAndRoundDrains(t *testing.T) {
	group := newMemGroup()
	a := newTestManager(t, "node-a", group.join(), []byte("k"))

	require.NoError(t, a.Set("p1", 1.5, 10))
	require.NoError(t, a.Set("p2", 2.5, 10))
	require.Equal(t, 2, a.Status().DirtyKeys)

	a.runRound(context.Background())
	st := a.Status()
	require.Equal(t, 0, st.DirtyKeys)
	require.Equal(t, uint64(1), st.Published)
	// One clock increment per round, not per write.
	require.Equal(t, uint64(1), st.Clock["node-a"])

	// Nothing dirty: the next round publishes nothing and does not touch
	// the clock.
	a.runRound(context.Background())
	st = a.Status()
	require.Equal(t, uint64(1), st.Published)
	require.Equal(t, uint64(1), st.Clock["node-a"])
}

// The end-to-end scenario: node A writes, gossips, and node B both updates
// its stale value and advances its clock component for A.
func TestTwoNodeConvergence(t *testing.T) {
	group := newMemGroup()
	a := newTestManager(t, "node-a", group.join(), []byte("shared"))
	b := newTestManager(t, "node-b", group.join(), []byte("shared"))

	const key = "BSC:PCS:WBNB-USDT"
	require.NoError(t, b.Set(key, 30100000, 90))
	require.NoError(t, a.Set(key, 30150000, 100))

	a.runRound(context.Background())

	got, err := b.store.Get(key)
	require.NoError(t, err)
	require.Equal(t, float64(30150000), got.Price)
	require.Equal(t, int64(100), got.Timestamp)

	sendClock := a.Status().Clock["node-a"]
	require.GreaterOrEqual(t, b.Status().Clock["node-a"], sendClock)
}

func TestRemoteStaleEntryIgnored(t *testing.T) {
	group := newMemGroup()
	a := newTestManager(t, "node-a", group.join(), []byte("shared"))
	b := newTestManager(t, "node-b", group.join(), []byte("shared"))

	require.NoError(t, b.Set("k", 200, 100))
	require.NoError(t, a.Set("k", 100, 50))

	a.runRound(context.Background())

	got, err := b.store.Get("k")
	require.NoError(t, err)
	require.Equal(t, float64(200), got.Price)
	require.Equal(t, int64(100), got.Timestamp)
}

// Concurrent updates with equal timestamps must converge identically on
// every node regardless of arrival order: the larger node id wins.
func TestConcurrentUpdateDeterminism(t *testing.T) {
	run := func(firstFromB bool) (float64, float64) {
		group := newMemGroup()
		a := newTestManager(t, "node-a", group.join(), []byte("shared"))
		b := newTestManager(t, "node-b", group.join(), []byte("shared"))

		_ = a.Set("k", 111, 50)
		_ = b.Set("k", 222, 50)

		if firstFromB {
			b.runRound(context.Background())
			a.runRound(context.Background())
		} else {
			a.runRound(context.Background())
			b.runRound(context.Background())
		}

		pa, _ := a.store.GetPrice("k")
		pb, _ := b.store.GetPrice("k")
		return pa, pb
	}

	pa1, pb1 := run(false)
	pa2, pb2 := run(true)

	// node-b is lexicographically larger, so its write wins everywhere.
	require.Equal(t, float64(222), pa1)
	require.Equal(t, float64(222), pb1)
	require.Equal(t, pa1, pa2)
	require.Equal(t, pb1, pb2)
}

func TestUnsignedMessageRejectedWhenKeyed(t *testing.T) {
	group := newMemGroup()
	trA := group.join()
	b := newTestManager(t, "node-b", group.join(), []byte("shared"))

	// node-a gossips without signing while node-b requires signatures.
	s, _ := store.New(4)
	a, err := NewManager(ManagerConfig{
		NodeID:    "node-a",
		Store:     s,
		Auth:      NewExplicitlyUnsigned(),
		Transport: trA,
	})
	require.NoError(t, err)
	require.NoError(t, trA.Subscribe(a.OnMessageReceived))

	require.NoError(t, a.Set("k", 1, 1))
	a.runRound(context.Background())

	require.Equal(t, uint64(1), b.Status().Rejected)
	_, err = b.store.Get("k")
	require.True(t, errors.Is(err, store.ErrKeyNotFound))
}

func TestTamperedMessageRejected(t *testing.T) {
	group := newMemGroup()
	b := newTestManager(t, "node-b", group.join(), []byte("shared"))

	auth, _ := NewSigned([]byte("shared"))
	msg := &Message{
		Sender:  "node-a",
		Clock:   map[string]uint64{"node-a": 1},
		Entries: []store.PriceEntry{{Key: "k", Price: 5, Timestamp: 1, Version: 2}},
	}
	payload, err := EncodePayload(msg)
	require.NoError(t, err)
	msg.Signature = auth.Sign(payload)
	raw, err := Encode(msg)
	require.NoError(t, err)

	// Flip one byte inside the signed payload region.
	for i := 0; i < len(raw)-34; i++ {
		mutated := append([]byte(nil), raw...)
		mutated[i] ^= 0x01
		b.OnMessageReceived(mutated)
	}
	require.Equal(t, uint64(len(raw)-34), b.Status().Rejected)
	_, err = b.store.Get("k")
	require.Error(t, err)

	// The untampered message is accepted.
	b.OnMessageReceived(raw)
	got, err := b.store.Get("k")
	require.NoError(t, err)
	require.Equal(t, float64(5), got.Price)
}

func TestGarbageMessageDropped(t *testing.T) {
	b := newTestManager(t, "node-b", newMemGroup().join(), []byte("shared"))
	b.OnMessageReceived(nil)
	b.OnMessageReceived([]byte{0x01})
	b.OnMessageReceived([]byte("definitely not a gossip frame"))
	require.Equal(t, uint64(3), b.Status().Rejected)
}

func TestOwnMessageIgnored(t *testing.T) {
	// A transport that echoes messages back to the sender.
	group := newMemGroup()
	tr := group.join()
	tr.loopback = true
	a := newTestManager(t, "node-a", tr, []byte("k"))

	require.NoError(t, a.Set("k", 1, 1))
	a.runRound(context.Background())

	// The echoed message was neither rejected nor self-applied.
	require.Equal(t, uint64(0), a.Status().Applied)
	require.Equal(t, uint64(0), a.Status().Rejected)
}

func TestLocalAndRemoteWritesSerializedPerKey(t *testing.T) {
	group := newMemGroup()
	a := newTestManager(t, "node-a", group.join(), []byte("secret"))
	b := newTestManager(t, "node-b", group.join(), []byte("secret"))

	// Every writer maintains price == 2*timestamp, so a torn pair is
	// detectable from a single read.
	const key = "BSC:PCS:WBNB-USDT"
	const writes = 400

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			_ = a.Set(key, float64(2*i), int64(i))
		}
	}()
	go func() {
		// Remote applies land on node-a inside runRound's synchronous
		// fan-out, concurrently with node-a's local writes above.
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			_ = b.Set(key, float64(2*i), int64(i))
			b.runRound(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < writes*10; i++ {
			e, err := a.store.Get(key)
			if err != nil {
				continue
			}
			if e.Price != float64(2*e.Timestamp) {
				t.Errorf("torn read: price %v with timestamp %d", e.Price, e.Timestamp)
				return
			}
		}
	}()
	wg.Wait()

	// The slot must settle readable: a permanently odd version would mean
	// two writers interleaved inside the write fence.
	e, err := a.store.Get(key)
	require.NoError(t, err)
	require.Equal(t, float64(2*e.Timestamp), e.Price)
	require.Equal(t, int64(writes), e.Timestamp)
}

func TestEmptyRoundDoesNotAdvanceClock(t *testing.T) {
	group := newMemGroup()
	a := newTestManager(t, "node-a", group.join(), []byte("k"))

	a.runRound(context.Background())
	require.Empty(t, a.ClockSnapshot())

	require.NoError(t, a.Set("k", 1, 1))
	a.runRound(context.Background())
	require.Equal(t, uint64(1), a.ClockSnapshot()["node-a"])

	// Nothing dirty: the round publishes nothing and the clock holds.
	a.runRound(context.Background())
	require.Equal(t, uint64(1), a.ClockSnapshot()["node-a"])
}
