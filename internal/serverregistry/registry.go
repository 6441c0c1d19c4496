// Package serverregistry implements the backend server registry, spec.md
// §4.5 (C5): analogous to proxyregistry (C4) plus per-server logical slots,
// metrics updates and slot-status mutation.
package serverregistry

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

const RecycleWindow = 5 * time.Minute
const cleanupInterval = time.Minute

type entry struct {
	server *model.RegisteredServer
	sm     *regstate.Machine
}

type unavailableEntry struct {
	server *model.RegisteredServer
	since  time.Time
}

// SlotStatusUpdate is the mutation applied by UpdateSlot, mirroring the
// slot.status bus payload (spec.md §6.1).
type SlotStatusUpdate struct {
	SlotID        string
	SlotSuffix    string
	Status        model.SlotStatus
	OnlinePlayers int
	MaxPlayers    int
	Metadata      map[string]string
}

// Registry tracks backend servers and their logical slots.
type Registry struct {
	log    *zap.SugaredLogger
	alloc  *idalloc.Allocator
	mirror *kvstore.Mirror

	shutdown chan struct{}

	mu          sync.RWMutex
	active      map[string]*entry
	tempIndex   map[string]string // tempId -> assigned id
	unavailable map[string]*unavailableEntry

	liveGauge prometheus.Gauge
}

func New(alloc *idalloc.Allocator, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Registry {
	r := &Registry{
		log:         log.Named("serverregistry"),
		alloc:       alloc,
		mirror:      mirror,
		shutdown:    make(chan struct{}),
		active:      make(map[string]*entry),
		tempIndex:   make(map[string]string),
		unavailable: make(map[string]*unavailableEntry),
		liveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fulcrum_servers_active",
			Help: "Number of backend servers currently in the active pool.",
		}),
	}
	_ = prometheus.Register(r.liveGauge)
	go r.cleanupLoop()
	return r
}

// Register assigns (or resumes) a server id for a server.registration.request,
// following the same idempotent/reactivate/create shape as proxyregistry.
func (r *Registry) Register(tempID, serverType, role, addr string, port, maxCapacity int) (id string, reactivated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tempIndex[tempID]; ok {
		// Idempotent re-announce of an already-active id.
		if _, ok := r.active[existing]; ok {
			return existing, false
		}
		// Reactivate from the unavailable pool if it's still within the
		// recycle window, instead of orphaning it under a fresh id.
		if ua, ok := r.unavailable[existing]; ok {
			delete(r.unavailable, existing)
			ua.server.ServerType = serverType
			ua.server.Role = role
			ua.server.Address = addr
			ua.server.Port = port
			ua.server.MaxCapacity = maxCapacity
			ua.server.Status = model.StatusAvailable
			ua.server.LastHeartbeat = time.Now()
			sm := regstate.New(existing, regstate.Disconnected, r.log)
			sm.Transition(regstate.ReRegistering, "reactivate")
			sm.Transition(regstate.Registered, "reactivated")
			r.active[existing] = &entry{server: ua.server, sm: sm}
			r.tempIndex[tempID] = existing
			r.mirrorActive(ua.server)
			r.mirror.Delete(fmt.Sprintf("server:unavailable:%s", existing))
			r.liveGauge.Set(float64(len(r.active)))
			return existing, true
		}
	}

	id = r.alloc.Allocate()
	s := &model.RegisteredServer{
		ID:               id,
		TempID:           tempID,
		ServerType:       serverType,
		Role:             role,
		Address:          addr,
		Port:             port,
		MaxCapacity:      maxCapacity,
		Status:           model.StatusAvailable,
		LastHeartbeat:    time.Now(),
		RegisteredAt:     time.Now(),
		Slots:            make(map[string]*model.LogicalSlot),
		FamilyCapacities: make(map[string]int),
		FamilyVariants:   make(map[string][]string),
	}
	sm := regstate.New(id, regstate.Unregistered, r.log)
	sm.Transition(regstate.Registering, "register")
	sm.Transition(regstate.Registered, "registered")
	r.active[id] = &entry{server: s, sm: sm}
	r.tempIndex[tempID] = id
	r.mirrorActive(s)
	r.mirror.PutJSON(fmt.Sprintf("server:temp:%s", tempID), id)
	r.liveGauge.Set(float64(len(r.active)))
	return id, false
}

// Deregister mirrors proxyregistry.Deregister for servers.
func (r *Registry) Deregister(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[serverID]
	if !ok {
		return false
	}
	e.sm.Transition(regstate.Deregistering, "deregister")
	e.sm.Transition(regstate.Disconnected, "deregistered")
	delete(r.active, serverID)
	e.server.Status = model.StatusUnavailable
	r.unavailable[serverID] = &unavailableEntry{server: e.server, since: time.Now()}
	r.mirror.Delete(fmt.Sprintf("server:active:%s", serverID))
	r.mirror.PutJSON(fmt.Sprintf("server:unavailable:%s", serverID), e.server)
	r.liveGauge.Set(float64(len(r.active)))

	if instance, err := parseInstance(serverID); err == nil {
		r.alloc.Release(instance, false, RecycleWindow)
	}
	return true
}

// RemoveImmediately bypasses the recycle window (graceful shutdown path).
func (r *Registry) RemoveImmediately(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[serverID]; ok {
		delete(r.active, serverID)
		r.mirror.Delete(fmt.Sprintf("server:active:%s", serverID))
		delete(r.tempIndex, e.server.TempID)
	}
	delete(r.unavailable, serverID)
	r.mirror.Delete(fmt.Sprintf("server:unavailable:%s", serverID))
	if instance, err := parseInstance(serverID); err == nil {
		r.alloc.ReleaseNow(instance)
	}
	r.liveGauge.Set(float64(len(r.active)))
}

// MarkUnavailable flips an active server's status to UNAVAILABLE without
// removing it from the active pool (spec.md §4.7).
func (r *Registry) MarkUnavailable(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[serverID]; ok && e.server.Status != model.StatusUnavailable {
		e.server.Status = model.StatusUnavailable
		r.mirrorActive(e.server)
	}
}

// SnapshotAndRemove captures serverID's state, removes it from the active
// pool and places it in the unavailable pool. Used by the heartbeat
// monitor's DEAD path (spec.md §4.7).
func (r *Registry) SnapshotAndRemove(serverID string) (interface{}, bool) {
	r.mu.Lock()
	e, ok := r.active[serverID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	snapshot := *e.server
	delete(r.active, serverID)
	e.server.Status = model.StatusDead
	r.unavailable[serverID] = &unavailableEntry{server: e.server, since: time.Now()}
	r.liveGauge.Set(float64(len(r.active)))
	r.mu.Unlock()

	r.mirror.Delete(fmt.Sprintf("server:active:%s", serverID))
	return &snapshot, true
}

// MoveToUnavailable moves an active server into the unavailable pool with
// status UNAVAILABLE, without touching the id allocator. The heartbeat
// monitor's DEAD path uses SnapshotAndRemove instead.
func (r *Registry) MoveToUnavailable(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[serverID]
	if !ok {
		return
	}
	delete(r.active, serverID)
	e.server.Status = model.StatusUnavailable
	r.unavailable[serverID] = &unavailableEntry{server: e.server, since: time.Now()}
	r.mirror.Delete(fmt.Sprintf("server:active:%s", serverID))
	r.mirror.PutJSON(fmt.Sprintf("server:unavailable:%s", serverID), e.server)
	r.liveGauge.Set(float64(len(r.active)))
}

// RestoreServer re-inserts a DEAD server snapshot directly into the active
// pool (heartbeat auto-restore, spec.md §4.7, §4.5).
func (r *Registry) RestoreServer(snapshot *model.RegisteredServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot.Status = model.StatusAvailable
	snapshot.LastHeartbeat = time.Now()
	sm := regstate.New(snapshot.ID, regstate.Unregistered, r.log)
	sm.Transition(regstate.Registering, "auto-restore")
	sm.Transition(regstate.Registered, "auto-restored")
	r.active[snapshot.ID] = &entry{server: snapshot, sm: sm}
	r.tempIndex[snapshot.TempID] = snapshot.ID
	r.mirrorActive(snapshot)
	r.liveGauge.Set(float64(len(r.active)))
}

// Heartbeat records a heartbeat and restores AVAILABLE if needed.
func (r *Registry) Heartbeat(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[serverID]
	if !ok {
		return false
	}
	e.server.LastHeartbeat = time.Now()
	e.server.Status = model.StatusAvailable
	r.mirrorActive(e.server)
	return true
}

// UpdateMetrics applies a heartbeat's playerCount/tps payload.
func (r *Registry) UpdateMetrics(serverID string, players int, tps float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[serverID]
	if !ok {
		return false
	}
	e.server.PlayerCount = players
	e.server.TPS = tps
	r.mirrorActive(e.server)
	return true
}

// UpdateSlotFamilyAdvertisement records the slot.family.advertisement
// payload used by the slot provisioner (C8).
func (r *Registry) UpdateSlotFamilyAdvertisement(serverID string, capacities map[string]int, variants map[string][]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[serverID]
	if !ok {
		return false
	}
	e.server.FamilyCapacities = capacities
	e.server.FamilyVariants = variants
	r.mirrorActive(e.server)
	return true
}

// UpdateSlot applies a slot.status mutation, creating the slot entry if it
// is new, and returns the resulting slot.
func (r *Registry) UpdateSlot(serverID string, upd SlotStatusUpdate) (*model.LogicalSlot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[serverID]
	if !ok {
		return nil, false
	}
	slot, exists := e.server.Slots[upd.SlotID]
	if !exists {
		slot = &model.LogicalSlot{SlotID: upd.SlotID, ServerID: serverID, FirstSeen: time.Now()}
		e.server.Slots[upd.SlotID] = slot
	}
	slot.SlotSuffix = upd.SlotSuffix
	slot.Status = upd.Status
	slot.OnlinePlayers = upd.OnlinePlayers
	slot.MaxPlayers = upd.MaxPlayers
	if upd.Metadata != nil {
		slot.Metadata = upd.Metadata
	}
	r.mirrorSlots(e.server)
	return slot, true
}

// AdjustPendingOccupancy nudges a slot's reservation-in-flight counter, used
// by the routing coordinator to reserve/release capacity across the
// reservation handshake (spec.md §4.9.6, §4.9.9) without a race against
// concurrent slot.status updates.
func (r *Registry) AdjustPendingOccupancy(slotID string, delta int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.active {
		if s, ok := e.server.Slots[slotID]; ok {
			s.PendingOccupancy += delta
			if s.PendingOccupancy < 0 {
				s.PendingOccupancy = 0
			}
			return true
		}
	}
	return false
}

// AdjustOccupancy nudges a slot's confirmed online-player count, applied
// when a route ack reports SUCCESS or a player departs a slot.
func (r *Registry) AdjustOccupancy(slotID string, delta int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.active {
		if s, ok := e.server.Slots[slotID]; ok {
			s.OnlinePlayers += delta
			if s.OnlinePlayers < 0 {
				s.OnlinePlayers = 0
			}
			r.mirrorSlots(e.server)
			return true
		}
	}
	return false
}

// AdvanceRegistration mirrors proxyregistry.Registry.AdvanceRegistration.
func (r *Registry) AdvanceRegistration(serverID, reason string) (advanced bool, prior regstate.State, known bool) {
	r.mu.RLock()
	e, ok := r.active[serverID]
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

// Lookup returns the active server for id, if any.
func (r *Registry) Lookup(serverID string) (*model.RegisteredServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.active[serverID]
	if !ok {
		return nil, false
	}
	return e.server, true
}

// LookupSlot returns the slot and owning server for slotID across all
// active servers.
func (r *Registry) LookupSlot(slotID string) (*model.LogicalSlot, *model.RegisteredServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.active {
		if s, ok := e.server.Slots[slotID]; ok {
			return s, e.server, true
		}
	}
	return nil, nil, false
}

// ListActive returns a snapshot of every active server.
func (r *Registry) ListActive() []*model.RegisteredServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.RegisteredServer, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, e.server)
	}
	return out
}

// SetEvacuating marks a server as draining (shutdown coordinator, C10).
func (r *Registry) SetEvacuating(serverID string, evacuating bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[serverID]; ok {
		e.server.Evacuating = evacuating
	}
}

func (r *Registry) mirrorActive(s *model.RegisteredServer) {
	r.mirror.PutJSON(fmt.Sprintf("server:active:%s", s.ID), s)
}

func (r *Registry) mirrorSlots(s *model.RegisteredServer) {
	r.mirror.PutJSON(fmt.Sprintf("server:slots:%s", s.ID), s.Slots)
}

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
			delete(r.tempIndex, ua.server.TempID)
			r.mirror.Delete(fmt.Sprintf("server:unavailable:%s", id))
			if _, live := r.active[id]; !live {
				if instance, err := parseInstance(id); err == nil {
					r.alloc.Release(instance, true, 0)
				}
			}
			r.log.Infow("server id recycled", "serverId", id)
		}
	}
}

func (r *Registry) Shutdown() {
	close(r.shutdown)
}

func parseInstance(id string) (int, error) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '-' {
			var n int
			_, err := fmt.Sscanf(id[i+1:], "%d", &n)
			return n, err
		}
	}
	return 0, fmt.Errorf("malformed id %q", id)
}
