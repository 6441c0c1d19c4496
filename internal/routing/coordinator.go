// Package routing implements the player routing coordinator, spec.md §4.9
// (C9): slot selection, per-family queueing, the reservation handshake,
// retries, party/roster gating and environment routing. This is the
// largest component (~20% share, spec.md §2); it is split across this file
// (state + entry point) and select.go, queue.go, dispatch.go, party.go,
// roster.go, environment.go.
//
// Modeled on tinode/chat's Hub.run()/Topic.run() actor-loop shape (hub.go):
// one serialized decision path per keyed resource (here, per family queue
// and per in-flight request) backed by a scheduler that owns every timer so
// callbacks never race each other (spec.md §5).
package routing

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/proxyregistry"
	"github.com/fulcrum-mc/fulcrum-core/internal/provision"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

// Timing constants, spec.md §4.9.
const (
	RouteTimeout        = 15 * time.Second
	ReservationTimeout  = 5 * time.Second
	MaxQueueWait        = 45 * time.Second
	RecentSlotTTL       = 45 * time.Second
	MaxRouteRetries     = 3
	maxRecentSlots      = 3
	PartyReservationTTL = 2 * time.Minute
)

// RetryableReasons is the set of route-failure reasons that trigger a retry
// rather than an immediate disconnect, spec.md §4.9.
var RetryableReasons = map[string]bool{
	"backend-not-found":   true,
	"backend-offline":     true,
	"connection-failed":   true,
	"slot-not-ready":      true,
	"route-transient":     true,
	"reservation-failed":  true,
	"reservation-missing-token": true,
	"slot-unavailable":    true,
}

// TicketConsumer is the narrow interface into the shutdown coordinator
// (C10) the routing coordinator needs, per spec.md §4.9.1 / Design Notes §9
// (no direct back-pointers between components).
type TicketConsumer interface {
	ConsumeTicket(playerID, intentID string) (backendTransferHint string, ok bool)
}

type recentSlotEntry struct {
	slotID string
	expiry time.Time
}

// Coordinator is the player routing coordinator.
type Coordinator struct {
	proxies  *proxyregistry.Registry
	servers  *serverregistry.Registry
	provisioner *provision.Provisioner
	tickets  TicketConsumer
	bus      *bus.Bus
	mirror   *kvstore.Mirror
	log      *zap.SugaredLogger

	mu sync.Mutex

	queues   map[string][]*model.PlayerRequestContext // family -> FIFO queue
	inflight map[string]*model.InFlightRoute           // requestId -> route
	timers   map[string]*time.Timer                    // requestId -> active timeout (route or reservation)
	gen      map[string]uint64                         // requestId -> generation, invalidates stale timer fires

	activeSlotByPlayer map[string]string
	recentSlots        map[string][]recentSlotEntry

	parties    map[string]*model.PartyReservation // reservationId -> reservation
	partyQueue map[string][]queuedPartyMember     // reservationId -> members waiting on the target slot
	rosters    map[string]*model.MatchRoster      // slotId -> roster

	pendingReservations map[string]chan PlayerReservationResponse // reservation requestId -> waiter
}

// New constructs a Coordinator. Dependencies are injected narrow interfaces
// or concrete registries the coordinator reads through lookup APIs only
// (spec.md §3 "Ownership").
func New(proxies *proxyregistry.Registry, servers *serverregistry.Registry, provisioner *provision.Provisioner,
	tickets TicketConsumer, b *bus.Bus, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		proxies:              proxies,
		servers:              servers,
		provisioner:          provisioner,
		tickets:              tickets,
		bus:                  b,
		mirror:               mirror,
		log:                  log.Named("routing"),
		queues:                make(map[string][]*model.PlayerRequestContext),
		inflight:              make(map[string]*model.InFlightRoute),
		timers:                make(map[string]*time.Timer),
		gen:                   make(map[string]uint64),
		activeSlotByPlayer:    make(map[string]string),
		recentSlots:           make(map[string][]recentSlotEntry),
		parties:               make(map[string]*model.PartyReservation),
		partyQueue:            make(map[string][]queuedPartyMember),
		rosters:               make(map[string]*model.MatchRoster),
		pendingReservations:   make(map[string]chan PlayerReservationResponse),
	}
}

// HandlePlayerSlotRequest implements the happy path of spec.md §4.9.1.
func (c *Coordinator) HandlePlayerSlotRequest(req PlayerSlotRequest) {
	if err := req.Validate(); err != nil {
		c.log.Warnw("dropping invalid player.request", "error", err)
		return
	}

	familyID := req.FamilyID
	if intentID := req.Metadata["shutdownIntentId"]; intentID != "" {
		hint, ok := c.tickets.ConsumeTicket(req.PlayerID, intentID)
		if !ok {
			c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, "shutdown-ticket-missing")
			return
		}
		familyID = hint
	}

	if resID := req.Metadata["partyReservationId"]; resID != "" {
		c.handlePartyRoute(req, resID)
		return
	}

	if _, ok := c.proxies.Lookup(req.ProxyID); !ok {
		c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, "unknown-proxy")
		return
	}

	blocked := c.buildBlockedSlots(req)

	if rejoinSlotID := req.Metadata["rejoinSlotId"]; rejoinSlotID != "" {
		c.handleRejoin(req, familyID, rejoinSlotID)
		return
	}

	ctx := &model.PlayerRequestContext{
		Request:        req.toModel(familyID),
		CreatedAt:      time.Now(),
		LastEnqueuedAt: time.Now(),
		BlockedSlots:   blocked,
		VariantID:      req.Metadata["variant"],
	}

	c.routeOrEnqueue(ctx)
}

func (req PlayerSlotRequest) toModel(familyID string) model.PlayerRequest {
	return model.PlayerRequest{
		RequestID:  req.RequestID,
		PlayerID:   req.PlayerID,
		PlayerName: req.PlayerName,
		ProxyID:    req.ProxyID,
		FamilyID:   familyID,
		Metadata:   req.Metadata,
	}
}

// buildBlockedSlots assembles the BlockedSlotContext of spec.md §4.9.1 step 4:
// current slot, previous slot, and the player's recently-assigned slots.
func (c *Coordinator) buildBlockedSlots(req PlayerSlotRequest) map[string]bool {
	blocked := make(map[string]bool)
	if cur := req.Metadata["currentSlotId"]; cur != "" {
		blocked[cur] = true
	} else if cur, ok := c.currentSlot(req.PlayerID); ok {
		blocked[cur] = true
	}
	if prev := req.Metadata["previousSlotId"]; prev != "" {
		blocked[prev] = true
	}
	for _, s := range c.recentSlotsFor(req.PlayerID) {
		blocked[s] = true
	}
	return blocked
}

func (c *Coordinator) currentSlot(playerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.activeSlotByPlayer[playerID]
	return s, ok
}

func (c *Coordinator) recentSlotsFor(playerID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var live []recentSlotEntry
	var out []string
	for _, e := range c.recentSlots[playerID] {
		if now.Before(e.expiry) {
			live = append(live, e)
			out = append(out, e.slotID)
		}
	}
	c.recentSlots[playerID] = live
	return out
}

func (c *Coordinator) rememberRecentSlot(playerID, slotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.recentSlots[playerID], recentSlotEntry{slotID: slotID, expiry: time.Now().Add(RecentSlotTTL)})
	if len(entries) > maxRecentSlots {
		entries = entries[len(entries)-maxRecentSlots:]
	}
	c.recentSlots[playerID] = entries
}

func (c *Coordinator) setActiveSlot(playerID, slotID string) {
	c.mu.Lock()
	prev, had := c.activeSlotByPlayer[playerID]
	c.activeSlotByPlayer[playerID] = slotID
	c.mu.Unlock()
	if had && prev != slotID {
		c.rememberRecentSlot(playerID, prev)
	}
	c.mirror.PutJSON("route:active:player:"+playerID, slotID)
}

func newRequestID() string { return uuid.NewString() }

func (c *Coordinator) disconnect(requestID, playerID, proxyID, reason string) {
	cmd := PlayerRouteCommand{
		Action:    ActionDisconnect,
		RequestID: requestID,
		PlayerID:  playerID,
		ProxyID:   proxyID,
		Reason:    reason,
	}
	c.bus.Broadcast(bus.PlayerRouteChannel(proxyID), cmd)
	c.log.Infow("player disconnected", "requestId", requestID, "playerId", playerID, "reason", reason)
}
