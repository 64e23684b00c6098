package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pricemesh/internal/clock"
	"pricemesh/internal/domain/repository"
	"pricemesh/internal/store"
	"pricemesh/pkg/logger"
)

const defaultInterval = 500 * time.Millisecond

// writeStripes sizes the striped lock table that serializes writers per
// key. The store requires one writer per key at a time; the manager has
// two write paths (local Set, remote apply) that otherwise run on
// independent goroutines.
const writeStripes = 64

// ManagerConfig holds coherency manager configuration.
type ManagerConfig struct {
	NodeID    string
	Store     *store.SeqlockStore
	Auth      *Authenticator
	Transport repository.Transport
	Metrics   repository.Metrics
	Logger    *logger.Logger
	Interval  time.Duration
}

// Manager keeps one local cache causally consistent with its peers. It
// owns exactly one vector clock and references exactly one store.
//
// Local writes go through Set, which marks keys dirty; a fixed-interval
// round drains the dirty set into a signed message; inbound messages are
// verified, merged and applied entry by entry.
type Manager struct {
	nodeID    string
	store     *store.SeqlockStore
	auth      *Authenticator
	transport repository.Transport
	metrics   repository.Metrics
	log       *logger.Logger
	interval  time.Duration

	mu      sync.Mutex
	clock   clock.VectorClock
	dirty   map[string]struct{}
	origins map[string]string // key -> node id of the last accepted writer

	writeLocks [writeStripes]sync.Mutex

	inFlight atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	published uint64
	rejected  uint64
	applied   uint64
}

// NewManager validates the configuration and creates a manager. The
// authenticator is a required explicit choice; a nil one fails fast rather
// than defaulting to unsigned operation.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("gossip: node id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("gossip: store is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("gossip: authenticator is required (use NewSigned or NewExplicitlyUnsigned)")
	}
	if cfg.Transport == nil {
		return nil, errors.New("gossip: transport is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = repository.NopMetrics{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	return &Manager{
		nodeID:    cfg.NodeID,
		store:     cfg.Store,
		auth:      cfg.Auth,
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		interval:  cfg.Interval,
		clock:     clock.New(),
		dirty:     make(map[string]struct{}),
		origins:   make(map[string]string),
		stopCh:    make(chan struct{}),
	}, nil
}

// keyLock returns the stripe serializing writes to key (FNV-1a).
func (m *Manager) keyLock(key string) *sync.Mutex {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return &m.writeLocks[h%writeStripes]
}

// Set is the local write path: it writes through to the store and, on
// acceptance, marks the key dirty for the next gossip round.
func (m *Manager) Set(key string, price float64, timestamp int64) error {
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Set(key, price, timestamp); err != nil {
		m.metrics.RecordWrite(writeResult(err))
		return err
	}
	m.metrics.RecordWrite("ok")
	m.metrics.RecordLastPrice(key, price)

	m.mu.Lock()
	m.dirty[key] = struct{}{}
	m.origins[key] = m.nodeID
	m.mu.Unlock()
	return nil
}

// Start subscribes to the transport and launches the round timer.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.transport.Subscribe(m.OnMessageReceived); err != nil {
		return fmt.Errorf("gossip: subscribe: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runRound(ctx)
			}
		}
	}()

	if m.log != nil {
		m.log.Info("coherency manager started",
			logger.String("node", m.nodeID),
			logger.Duration("interval", m.interval),
			logger.Bool("signed", m.auth.Signed()))
	}
	return nil
}

// Stop halts the round timer and waits for an in-flight round to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// runRound drains the dirty set and publishes one gossip message. A guard
// keeps a slow publish from overlapping with the next timer tick.
func (m *Manager) runRound(ctx context.Context) {
	if !m.inFlight.CompareAndSwap(false, true) {
		if m.log != nil {
			m.log.Warn("gossip round still in flight, skipping tick", logger.String("node", m.nodeID))
		}
		return
	}
	defer m.inFlight.Store(false)

	start := time.Now()

	m.mu.Lock()
	if len(m.dirty) == 0 {
		m.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	m.dirty = make(map[string]struct{})
	m.mu.Unlock()

	entries := make([]store.PriceEntry, 0, len(keys))
	for _, k := range keys {
		e, err := m.store.Get(k)
		if err != nil {
			// A dirty key that cannot be read is a writer-side bug.
			if m.log != nil {
				m.log.Error("dirty key unreadable", logger.String("key", k), logger.Error(err))
			}
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return
	}

	// One increment per publishing round: the clock tracks rounds of this
	// node's knowledge, not raw write count, and must not advance when
	// there is nothing to say.
	m.mu.Lock()
	m.clock.Increment(m.nodeID)
	snapshot := m.clock.Clone()
	m.mu.Unlock()

	msg := &Message{Sender: m.nodeID, Clock: snapshot, Entries: entries}
	payload, err := EncodePayload(msg)
	if err != nil {
		if m.log != nil {
			m.log.Error("gossip encode failed", logger.Error(err))
		}
		return
	}
	msg.Signature = m.auth.Sign(payload)
	raw, err := Encode(msg)
	if err != nil {
		if m.log != nil {
			m.log.Error("gossip encode failed", logger.Error(err))
		}
		return
	}

	// Fire and forget: a failed publish is logged and counted, never
	// retried here. The keys re-dirty themselves on the next write.
	if err := m.transport.Publish(ctx, raw); err != nil {
		m.metrics.RecordPublish("error", len(raw))
		if m.log != nil {
			m.log.Error("gossip publish failed",
				logger.String("node", m.nodeID),
				logger.Int("entries", len(entries)),
				logger.Error(err))
		}
		return
	}

	atomic.AddUint64(&m.published, 1)
	m.metrics.RecordPublish("ok", len(raw))
	m.metrics.RecordRound(len(entries))
	m.metrics.RecordClockSize(len(snapshot))
	m.metrics.RecordLatency("gossip_round", time.Since(start).Seconds())
}

// OnMessageReceived handles one inbound datagram. The signature is checked
// against the raw bytes before any field is decoded; auth and decode
// failures drop the message, bump a counter and never crash the process.
func (m *Manager) OnMessageReceived(raw []byte) {
	payload, sig, err := SplitSignature(raw)
	if err != nil {
		m.reject("decode", err)
		return
	}
	if err := m.auth.Verify(payload, sig); err != nil {
		m.reject("auth", err)
		return
	}

	msg, err := DecodePayload(payload)
	if err != nil {
		m.reject("decode", err)
		return
	}
	if msg.Sender == m.nodeID {
		// Own message echoed back by the transport fan-out.
		return
	}

	m.mu.Lock()
	m.clock = m.clock.Merge(msg.Clock)
	m.mu.Unlock()

	applied := 0
	for _, e := range msg.Entries {
		if m.applyRemote(e, msg.Sender) {
			applied++
		}
	}
	m.metrics.RecordApplied(applied)

	if m.log != nil {
		m.log.Debug("gossip message applied",
			logger.String("from", msg.Sender),
			logger.Int("entries", len(msg.Entries)),
			logger.Int("applied", applied))
	}
}

// applyRemote applies one remote entry if it is not older than the local
// value. Concurrent updates with equal timestamps resolve by the fixed
// tiebreak: the lexicographically smaller origin node id loses. Arrival
// order never decides.
//
// The stripe lock covers the read-compare-write so a local Set cannot
// interleave between the staleness check and the store write.
func (m *Manager) applyRemote(e store.PriceEntry, sender string) bool {
	lock := m.keyLock(e.Key)
	lock.Lock()
	defer lock.Unlock()

	local, err := m.store.Get(e.Key)
	if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		if m.log != nil {
			m.log.Error("remote apply read failed", logger.String("key", e.Key), logger.Error(err))
		}
		return false
	}

	if err == nil {
		switch {
		case e.Timestamp < local.Timestamp:
			return false
		case e.Timestamp == local.Timestamp:
			m.mu.Lock()
			origin, ok := m.origins[e.Key]
			m.mu.Unlock()
			if !ok {
				origin = m.nodeID
			}
			if sender <= origin {
				return false
			}
		}
	}

	if err := m.store.Set(e.Key, e.Price, e.Timestamp); err != nil {
		if !errors.Is(err, store.ErrStaleWrite) {
			m.reject("apply", err)
		}
		return false
	}

	m.mu.Lock()
	m.origins[e.Key] = sender
	m.mu.Unlock()
	atomic.AddUint64(&m.applied, 1)
	return true
}

func (m *Manager) reject(reason string, err error) {
	atomic.AddUint64(&m.rejected, 1)
	m.metrics.RecordRejected(reason)
	if m.log == nil {
		return
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		m.log.Error("gossip message rejected: authentication failure",
			logger.String("node", m.nodeID),
			logger.Error(err))
		return
	}
	m.log.Warn("gossip message rejected",
		logger.String("node", m.nodeID),
		logger.String("reason", reason),
		logger.Error(err))
}

// Status is a point-in-time snapshot for the admin API.
type Status struct {
	NodeID    string            `json:"node_id"`
	Signed    bool              `json:"signed"`
	Clock     map[string]uint64 `json:"clock"`
	DirtyKeys int               `json:"dirty_keys"`
	StoreKeys int               `json:"store_keys"`
	StoreCap  int               `json:"store_capacity"`
	Published uint64            `json:"rounds_published"`
	Rejected  uint64            `json:"messages_rejected"`
	Applied   uint64            `json:"entries_applied"`
}

// Status reports the manager's current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	snapshot := m.clock.Clone()
	dirty := len(m.dirty)
	m.mu.Unlock()

	return Status{
		NodeID:    m.nodeID,
		Signed:    m.auth.Signed(),
		Clock:     snapshot,
		DirtyKeys: dirty,
		StoreKeys: m.store.Len(),
		StoreCap:  m.store.Capacity(),
		Published: atomic.LoadUint64(&m.published),
		Rejected:  atomic.LoadUint64(&m.rejected),
		Applied:   atomic.LoadUint64(&m.applied),
	}
}

// ClockSnapshot returns a copy of the current vector clock.
func (m *Manager) ClockSnapshot() clock.VectorClock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Clone()
}

// NodeID returns this manager's node identifier.
func (m *Manager) NodeID() string {
	return m.nodeID
}

func writeResult(err error) string {
	switch {
	case errors.Is(err, store.ErrStaleWrite):
		return "stale"
	case errors.Is(err, store.ErrNonFinite):
		return "non_finite"
	case errors.Is(err, store.ErrCapacityExceeded):
		return "capacity"
	default:
		return "error"
	}
}
