// Package heartbeat implements the liveness failure detector, spec.md §4.7
// (C7): AVAILABLE/UNAVAILABLE/DEAD transitions, a post-registration grace
// period, a dead-blacklist, and snapshot-based auto-restore. Modeled on the
// teacher's single-goroutine ticking loops (hub.go's select-driven run
// loop) generalized into a dedicated ticker per spec.md §5 ("C7 runs its
// periodic scan on its own single-threaded ticker").
package heartbeat

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/regstate"
)

// Timing constants, spec.md §4.7.
const (
	UnavailableTimeout = 5 * time.Second
	DeadTimeout        = 30 * time.Second
	CheckInterval      = 1 * time.Second
	GracePeriod        = 10 * time.Second
	DeadBlacklist      = 60 * time.Second

	warnRateLimit = 5 * time.Second
)

// ActiveNode is the liveness-relevant slice of a registry entry.
type ActiveNode struct {
	ID            string
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Target is the narrow callback/lookup surface a registry (C4 or C5)
// exposes to the heartbeat monitor, breaking the cyclic reference the
// monitor would otherwise need (spec.md Design Notes §9).
type Target interface {
	// ListActive returns every currently-active node for the periodic scan.
	ListActive() []ActiveNode
	// Heartbeat records a heartbeat and sets AVAILABLE; false if id unknown.
	Heartbeat(id string) bool
	// AdvanceRegistration advances id's state machine toward REGISTERED per
	// spec.md §4.7's per-state table; returns the prior state and whether
	// id is known at all.
	AdvanceRegistration(id, reason string) (advanced bool, prior regstate.State, known bool)
	// MarkUnavailable transitions id to UNAVAILABLE without deregistering.
	MarkUnavailable(id string)
	// SnapshotAndRemove captures id's state for later auto-restore and
	// removes it from the active pool (the DEAD path).
	SnapshotAndRemove(id string) (snapshot interface{}, ok bool)
	// Restore reinstates a previously-captured snapshot into the active
	// pool, bypassing the normal registration handshake.
	Restore(snapshot interface{})
}

type deadEntry struct {
	snapshot   interface{}
	blacklistUntil time.Time
}

// Monitor runs the heartbeat failure detector for one node kind (proxies or
// servers). One Monitor per kind; both share identical thresholds.
type Monitor struct {
	kind   string
	target Target
	bus    *bus.Bus
	mirror *kvstore.Mirror
	log    *zap.SugaredLogger

	mu   sync.Mutex
	dead map[string]*deadEntry

	lastWarnMu sync.Mutex
	lastWarn   map[string]time.Time

	deadCount *atomic.Int64

	stop chan struct{}
}

// New constructs a Monitor for kind ("proxy" or "server") and starts its
// ticker.
func New(kind string, target Target, b *bus.Bus, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Monitor {
	m := &Monitor{
		kind:      kind,
		target:    target,
		bus:       b,
		mirror:    mirror,
		log:       log.Named("heartbeat").With("kind", kind),
		dead:      make(map[string]*deadEntry),
		lastWarn:  make(map[string]time.Time),
		deadCount: atomic.NewInt64(0),
		stop:      make(chan struct{}),
	}
	go m.run()
	return m
}

// OnHeartbeat processes a heartbeat for nodeID, spec.md §4.7.
//
// onUnknownNoSnapshot is invoked when nodeID is neither known to the
// registry nor found in the dead-snapshot table — the caller should emit a
// registry.rereg.request targeted at nodeID.
func (m *Monitor) OnHeartbeat(nodeID string, onUnknownNoSnapshot func(nodeID string)) {
	m.mu.Lock()
	if d, blacklisted := m.dead[nodeID]; blacklisted {
		if time.Now().Before(d.blacklistUntil) {
			m.mu.Unlock()
			m.log.Debugw("heartbeat from blacklisted dead id dropped", "nodeId", nodeID)
			return
		}
		// Blacklist expired: auto-restore.
		delete(m.dead, nodeID)
		m.deadCount.Dec()
		m.mirror.Delete(fmt.Sprintf("heartbeat:dead:%s:%s", m.kind, nodeID))
		m.mu.Unlock()
		m.target.Restore(d.snapshot)
		m.log.Infow("auto-restored node after blacklist expiry", "nodeId", nodeID)
		return
	}
	m.mu.Unlock()

	advanced, prior, known := m.target.AdvanceRegistration(nodeID, "heartbeat")
	if !known {
		if onUnknownNoSnapshot != nil {
			onUnknownNoSnapshot(nodeID)
		}
		return
	}
	if advanced {
		m.target.Heartbeat(nodeID)
		return
	}

	// Known, but in a state heartbeats cannot advance (e.g. DEREGISTERING).
	m.rateLimitedWarn(nodeID, prior)
}

func (m *Monitor) rateLimitedWarn(nodeID string, state regstate.State) {
	m.lastWarnMu.Lock()
	defer m.lastWarnMu.Unlock()
	last, ok := m.lastWarn[nodeID]
	if ok && time.Since(last) < warnRateLimit {
		return
	}
	m.lastWarn[nodeID] = time.Now()
	m.log.Warnw("heartbeat from node in unexpected state, dropped", "nodeId", nodeID, "state", state)
}

// run is the monitor's dedicated single-threaded ticker (spec.md §5).
func (m *Monitor) run() {
	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.scan()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) scan() {
	now := time.Now()
	for _, node := range m.target.ListActive() {
		if now.Sub(node.RegisteredAt) < GracePeriod {
			continue
		}
		delta := now.Sub(node.LastHeartbeat)
		switch {
		case delta < UnavailableTimeout:
			// AVAILABLE: nothing to do, Heartbeat() already set this.
		case delta < DeadTimeout:
			m.target.MarkUnavailable(node.ID)
		default:
			m.declareDead(node.ID)
		}
	}
}

func (m *Monitor) declareDead(nodeID string) {
	snapshot, ok := m.target.SnapshotAndRemove(nodeID)
	if !ok {
		return
	}
	m.mu.Lock()
	m.dead[nodeID] = &deadEntry{snapshot: snapshot, blacklistUntil: time.Now().Add(DeadBlacklist)}
	m.mu.Unlock()
	m.deadCount.Inc()
	m.mirror.PutJSON(fmt.Sprintf("heartbeat:dead:%s:%s", m.kind, nodeID), snapshot)
	m.log.Infow("node declared dead", "nodeId", nodeID)
}

// DeadCount returns the number of currently-blacklisted dead ids.
func (m *Monitor) DeadCount() int64 {
	return m.deadCount.Load()
}

// Shutdown stops the monitor's ticker.
func (m *Monitor) Shutdown() {
	close(m.stop)
}
