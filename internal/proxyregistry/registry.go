// Package proxyregistry implements the proxy registry, spec.md §4.4 (C4):
// dedup on (address,port), an unavailable pool with a recycle window, and
// registration-state-machine-backed lifecycle transitions. Modeled on the
// teacher's Hub (hub.go) topic table — a concurrent-safe index plus a
// single owning goroutine's worth of serialized mutation per key, here
// realized as one coarse mutex guarding the two pools (spec.md §5).
package proxyregistry

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/idalloc"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/regstate"
)

// RecycleWindow is the delay between deregistration and id release,
// spec.md §3.
const RecycleWindow = 5 * time.Minute

// debounceWindow suppresses double-announce registration of the same
// (address,port) pair within this interval, spec.md §4.4 step 2.
const debounceWindow = 30 * time.Second

const cleanupInterval = time.Minute

type entry struct {
	proxy *model.RegisteredProxy
	sm    *regstate.Machine
}

type unavailableEntry struct {
	proxy *model.RegisteredProxy
	since time.Time
}

// Registry tracks proxies across an active pool and an unavailable pool.
type Registry struct {
	log      *zap.SugaredLogger
	alloc    *idalloc.Allocator
	mirror   *kvstore.Mirror
	shutdown chan struct{}

	mu          sync.RWMutex
	active      map[string]*entry // by id
	byAddr      map[string]string // "addr:port" -> id, for active pool only
	unavailable map[string]*unavailableEntry

	liveGauge prometheus.Gauge
}

// New constructs a proxy Registry. alloc and mirror are owned elsewhere
// (C2, C6) and injected so the registry never reaches for ambient globals
// (spec.md Design Notes §9).
func New(alloc *idalloc.Allocator, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Registry {
	r := &Registry{
		log:         log.Named("proxyregistry"),
		alloc:       alloc,
		mirror:      mirror,
		shutdown:    make(chan struct{}),
		active:      make(map[string]*entry),
		byAddr:      make(map[string]string),
		unavailable: make(map[string]*unavailableEntry),
		liveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fulcrum_proxies_active",
			Help: "Number of proxies currently in the active pool.",
		}),
	}
	_ = prometheus.Register(r.liveGauge)
	go r.cleanupLoop()
	return r
}

func addrKey(addr string, port int) string { return fmt.Sprintf("%s:%d", addr, port) }

// Register implements spec.md §4.4 register(proxyId, addr, port). If
// proxyID is empty a fresh id is allocated; an explicit proxyID lets a
// proxy resume using its previously-assigned id (e.g. after restoring from
// the KV mirror).
func (r *Registry) Register(proxyID, addr string, port int) (id string, alreadyActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Step 1: idempotent re-announce of an already-active id.
	if proxyID != "" {
		if e, ok := r.active[proxyID]; ok {
			return e.proxy.ID, true
		}
	}

	// Step 2: debounce double-announce at the same (addr,port).
	if existingID, ok := r.byAddr[addrKey(addr, port)]; ok {
		if e, ok := r.active[existingID]; ok && time.Since(e.proxy.RegisteredAt) < debounceWindow {
			return e.proxy.ID, true
		}
	}

	// Step 3: reactivate from the unavailable pool.
	if proxyID != "" {
		if ua, ok := r.unavailable[proxyID]; ok {
			delete(r.unavailable, proxyID)
			ua.proxy.Status = model.StatusAvailable
			ua.proxy.LastHeartbeat = time.Now()
			ua.proxy.Address = addr
			ua.proxy.Port = port
			sm := regstate.New(proxyID, regstate.Disconnected, r.log)
			sm.Transition(regstate.ReRegistering, "heartbeat-reactivate")
			sm.Transition(regstate.Registered, "reactivated")
			r.active[proxyID] = &entry{proxy: ua.proxy, sm: sm}
			r.byAddr[addrKey(addr, port)] = proxyID
			r.mirrorActive(ua.proxy)
			r.mirror.Delete(fmt.Sprintf("proxy:unavailable:%s", proxyID))
			r.liveGauge.Set(float64(len(r.active)))
			return proxyID, false
		}
	}

	// Step 4: create a new entry.
	id := proxyID
	if id == "" {
		id = r.alloc.Allocate()
	}
	p := &model.RegisteredProxy{
		ID:            id,
		Address:       addr,
		Port:          port,
		Status:        model.StatusAvailable,
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}
	sm := regstate.New(id, regstate.Unregistered, r.log)
	sm.Transition(regstate.Registering, "register")
	sm.Transition(regstate.Registered, "registered")
	r.active[id] = &entry{proxy: p, sm: sm}
	r.byAddr[addrKey(addr, port)] = id
	r.mirrorActive(p)
	r.liveGauge.Set(float64(len(r.active)))
	return id, false
}

// Deregister implements spec.md §4.4 deregister: SM -> DEREGISTERING ->
// DISCONNECTED, move to the unavailable pool with a timestamp; the id stays
// reserved for RecycleWindow.
func (r *Registry) Deregister(proxyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[proxyID]
	if !ok {
		return false
	}
	e.sm.Transition(regstate.Deregistering, "deregister")
	e.sm.Transition(regstate.Disconnected, "deregistered")

	delete(r.active, proxyID)
	delete(r.byAddr, addrKey(e.proxy.Address, e.proxy.Port))
	e.proxy.Status = model.StatusUnavailable
	r.unavailable[proxyID] = &unavailableEntry{proxy: e.proxy, since: time.Now()}
	r.mirror.Delete(fmt.Sprintf("proxy:active:%s", proxyID))
	r.mirror.PutJSON(fmt.Sprintf("proxy:unavailable:%s", proxyID), e.proxy)
	r.mirror.PutJSON(fmt.Sprintf("proxy:unavailable:%s:ts", proxyID), e.proxy.LastHeartbeat)
	r.liveGauge.Set(float64(len(r.active)))

	if instance, err := parseInstance(proxyID); err == nil {
		r.alloc.Release(instance, false, RecycleWindow)
	}
	return true
}

// RemoveImmediately implements spec.md §4.4 removeImmediately: used for
// graceful shutdown, bypassing the recycle window entirely.
func (r *Registry) RemoveImmediately(proxyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.active[proxyID]; ok {
		delete(r.active, proxyID)
		delete(r.byAddr, addrKey(e.proxy.Address, e.proxy.Port))
		r.mirror.Delete(fmt.Sprintf("proxy:active:%s", proxyID))
	}
	delete(r.unavailable, proxyID)
	r.mirror.Delete(fmt.Sprintf("proxy:unavailable:%s", proxyID))
	r.mirror.Delete(fmt.Sprintf("proxy:unavailable:%s:ts", proxyID))

	if instance, err := parseInstance(proxyID); err == nil {
		r.alloc.ReleaseNow(instance)
	}
	r.liveGauge.Set(float64(len(r.active)))
}

// MarkUnavailable flips an active proxy's status to UNAVAILABLE without
// removing it from the active pool (spec.md §4.7 UNAVAILABLE_TIMEOUT
// branch). It stays routable-adjacent until it either recovers or crosses
// DEAD_TIMEOUT.
func (r *Registry) MarkUnavailable(proxyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[proxyID]; ok && e.proxy.Status != model.StatusUnavailable {
		e.proxy.Status = model.StatusUnavailable
		r.mirrorActive(e.proxy)
	}
}

// SnapshotAndRemove captures proxyID's current state and removes it from
// the active pool, then also places it in the unavailable pool (spec.md
// §4.7: "proxies additionally moved into the unavailable pool"). Used by
// the heartbeat monitor's DEAD path.
func (r *Registry) SnapshotAndRemove(proxyID string) (interface{}, bool) {
	r.mu.Lock()
	e, ok := r.active[proxyID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	snapshot := *e.proxy
	delete(r.active, proxyID)
	delete(r.byAddr, addrKey(e.proxy.Address, e.proxy.Port))
	e.proxy.Status = model.StatusDead
	r.unavailable[proxyID] = &unavailableEntry{proxy: e.proxy, since: time.Now()}
	r.liveGauge.Set(float64(len(r.active)))
	r.mu.Unlock()

	r.mirror.Delete(fmt.Sprintf("proxy:active:%s", proxyID))
	return &snapshot, true
}

// MoveToUnavailable moves an active proxy into the unavailable pool with
// status UNAVAILABLE: the same pool semantics as a voluntary Deregister, but
// the state machine and the id allocator are left untouched. The heartbeat
// monitor's DEAD path uses SnapshotAndRemove instead.
func (r *Registry) MoveToUnavailable(proxyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[proxyID]
	if !ok {
		return
	}
	delete(r.active, proxyID)
	delete(r.byAddr, addrKey(e.proxy.Address, e.proxy.Port))
	e.proxy.Status = model.StatusUnavailable
	r.unavailable[proxyID] = &unavailableEntry{proxy: e.proxy, since: time.Now()}
	r.mirror.Delete(fmt.Sprintf("proxy:active:%s", proxyID))
	r.mirror.PutJSON(fmt.Sprintf("proxy:unavailable:%s", proxyID), e.proxy)
	r.liveGauge.Set(float64(len(r.active)))
}

// Restore re-inserts a previously DEAD proxy snapshot directly into the
// active pool, bypassing the normal registration handshake (heartbeat
// auto-restore, spec.md §4.7, §9 operator note).
func (r *Registry) Restore(snapshot *model.RegisteredProxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot.Status = model.StatusAvailable
	snapshot.LastHeartbeat = time.Now()
	sm := regstate.New(snapshot.ID, regstate.Unregistered, r.log)
	sm.Transition(regstate.Registering, "auto-restore")
	sm.Transition(regstate.Registered, "auto-restored")
	r.active[snapshot.ID] = &entry{proxy: snapshot, sm: sm}
	r.byAddr[addrKey(snapshot.Address, snapshot.Port)] = snapshot.ID
	r.mirrorActive(snapshot)
	r.liveGauge.Set(float64(len(r.active)))
}

// Heartbeat records a heartbeat for an active proxy, restoring AVAILABLE if
// it was previously not. Returns false if proxyID is not active.
func (r *Registry) Heartbeat(proxyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[proxyID]
	if !ok {
		return false
	}
	e.proxy.LastHeartbeat = time.Now()
	e.proxy.Status = model.StatusAvailable
	r.mirrorActive(e.proxy)
	return true
}

// Lookup returns the active proxy for id, if any.
func (r *Registry) Lookup(proxyID string) (*model.RegisteredProxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.active[proxyID]
	if !ok {
		return nil, false
	}
	return e.proxy, true
}

// LookupByAddr returns the active proxy at (addr,port), if any.
func (r *Registry) LookupByAddr(addr string, port int) (*model.RegisteredProxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAddr[addrKey(addr, port)]
	if !ok {
		return nil, false
	}
	e := r.active[id]
	return e.proxy, true
}

// Unavailable returns the unavailable-pool snapshot for id, if any.
func (r *Registry) Unavailable(proxyID string) (*model.RegisteredProxy, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ua, ok := r.unavailable[proxyID]
	if !ok {
		return nil, time.Time{}, false
	}
	return ua.proxy, ua.since, true
}

// ListActive returns a snapshot of every active proxy.
func (r *Registry) ListActive() []*model.RegisteredProxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.RegisteredProxy, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, e.proxy)
	}
	return out
}

// AdvanceRegistration advances proxyID's state machine to REGISTERED if it
// is currently in REGISTERING, RE_REGISTERING or DISCONNECTED (auto
// re-registration on heartbeat, spec.md §4.7). Returns the state observed
// before the attempt and whether proxyID is known at all.
func (r *Registry) AdvanceRegistration(proxyID, reason string) (advanced bool, prior regstate.State, known bool) {
	r.mu.RLock()
	e, ok := r.active[proxyID]
	r.mu.RUnlock()
	if !ok {
		return false, 0, false
	}
	prior = e.sm.State()
	switch prior {
	case regstate.Registered:
		return true, prior, true
	case regstate.Registering, regstate.ReRegistering, regstate.Disconnected:
		if prior == regstate.Disconnected {
			e.sm.Transition(regstate.ReRegistering, reason)
		}
		return e.sm.Transition(regstate.Registered, reason), prior, true
	default:
		return false, prior, true
	}
}

// StateMachine returns the registration state machine for an active proxy.
func (r *Registry) StateMachine(proxyID string) (*regstate.Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.active[proxyID]
	if !ok {
		return nil, false
	}
	return e.sm, true
}

func (r *Registry) mirrorActive(p *model.RegisteredProxy) {
	r.mirror.PutJSON(fmt.Sprintf("proxy:active:%s", p.ID), p)
}

// cleanupLoop permanently removes proxies from the unavailable pool whose
// timestamp is older than RecycleWindow, releasing their ids (spec.md
// §4.4).
func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepUnavailable()
		case <-r.shutdown:
			return
		}
	}
}

func (r *Registry) sweepUnavailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, ua := range r.unavailable {
		if now.Sub(ua.since) >= RecycleWindow {
			delete(r.unavailable, id)
			r.mirror.Delete(fmt.Sprintf("proxy:unavailable:%s", id))
			r.mirror.Delete(fmt.Sprintf("proxy:unavailable:%s:ts", id))
			if _, live := r.active[id]; !live {
				if instance, err := parseInstance(id); err == nil {
					r.alloc.Release(instance, true, 0)
				}
			}
			r.log.Infow("proxy id recycled", "proxyId", id)
		}
	}
}

// Shutdown stops the cleanup loop.
func (r *Registry) Shutdown() {
	close(r.shutdown)
}

func parseInstance(id string) (int, error) {
	var instance int
	var kind string
	_, err := fmt.Sscanf(id, "fulcrum-%s", &kind)
	if err != nil {
		return 0, err
	}
	// kind now holds "proxy-<N>" or "server-<N>"; extract trailing int.
	for i := len(kind) - 1; i >= 0; i-- {
		if kind[i] == '-' {
			_, err := fmt.Sscanf(kind[i+1:], "%d", &instance)
			return instance, err
		}
	}
	return 0, fmt.Errorf("malformed id %q", id)
}
