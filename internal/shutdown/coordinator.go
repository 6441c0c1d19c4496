// Package shutdown implements the shutdown / evacuation coordinator,
// spec.md §4.10 (C10): broadcasts multi-phase shutdown intents, tracks each
// affected service's EVACUATE/EVICT/SHUTDOWN progress, and mints one-shot
// tickets that let an evacuating player's next join request route straight
// to the intent's backend-transfer family instead of its old one.
package shutdown

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

type ticketKey struct {
	playerID string
	intentID string
}

// Coordinator owns the set of in-flight shutdown intents and their tickets.
type Coordinator struct {
	servers *serverregistry.Registry
	bus     *bus.Bus
	mirror  *kvstore.Mirror
	log     *zap.SugaredLogger

	mu      sync.Mutex
	intents map[string]*model.ShutdownIntent
	phases  map[string]map[string]Phase // intentId -> serviceId -> latest phase
	tickets map[ticketKey]*model.ShutdownTicket
}

func New(servers *serverregistry.Registry, b *bus.Bus, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		servers: servers,
		bus:     b,
		mirror:  mirror,
		log:     log.Named("shutdown"),
		intents: make(map[string]*model.ShutdownIntent),
		phases:  make(map[string]map[string]Phase),
		tickets: make(map[ticketKey]*model.ShutdownTicket),
	}
	b.Subscribe(bus.ChanShutdownUpdate, func(env bus.Envelope) {
		if upd, ok := env.Body.(ShutdownIntentUpdateMessage); ok {
			c.HandleIntentUpdate(upd)
		}
	})
	return c
}

// BroadcastIntent registers a new shutdown intent, marks every affected
// service as evacuating, and broadcasts the plan (spec.md §4.10).
func (c *Coordinator) BroadcastIntent(msg ShutdownIntentMessage) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid shutdown intent", "error", err)
		return
	}

	hint := msg.BackendTransferHint
	if hint == "" {
		hint = "lobby"
	}

	intent := &model.ShutdownIntent{
		ID:                  msg.ID,
		Services:            msg.Services,
		CountdownSeconds:    msg.CountdownSeconds,
		BackendTransferHint: hint,
		CreatedAt:           time.Now(),
	}

	c.mu.Lock()
	c.intents[msg.ID] = intent
	c.phases[msg.ID] = make(map[string]Phase)
	c.mu.Unlock()

	for _, serviceID := range msg.Services {
		c.servers.SetEvacuating(serviceID, true)
	}

	c.mirror.PutJSON(fmt.Sprintf("shutdown:intent:%s", msg.ID), intent)
	c.bus.Broadcast(bus.ChanShutdownIntent, msg)
	c.log.Infow("shutdown intent broadcast", "intentId", msg.ID, "services", msg.Services)
}

// CancelIntent implements spec.md §4.10: cancelling an intent releases its
// tickets and clears isServerEvacuating on every affected service.
func (c *Coordinator) CancelIntent(intentID string) {
	c.mu.Lock()
	intent, ok := c.intents[intentID]
	if !ok {
		c.mu.Unlock()
		return
	}
	intent.Cancelled = true
	for key := range c.tickets {
		if key.intentID == intentID {
			delete(c.tickets, key)
		}
	}
	services := intent.Services
	c.mu.Unlock()

	for _, serviceID := range services {
		c.servers.SetEvacuating(serviceID, false)
	}
	c.mirror.PutJSON(fmt.Sprintf("shutdown:intent:%s", intentID), intent)
	c.bus.Broadcast(bus.ChanShutdownIntent, ShutdownIntentMessage{ID: intentID, Cancelled: true})
	c.log.Infow("shutdown intent cancelled", "intentId", intentID)
}

// HandleIntentUpdate records a service's progress and, on entering
// EVACUATE, mints one ShutdownTicket per reported online player, TTL
// bounded by the intent's countdown (spec.md §4.10).
func (c *Coordinator) HandleIntentUpdate(msg ShutdownIntentUpdateMessage) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid shutdown update", "error", err)
		return
	}

	c.mu.Lock()
	intent, ok := c.intents[msg.IntentID]
	if !ok || intent.Cancelled {
		c.mu.Unlock()
		return
	}
	if c.phases[msg.IntentID] == nil {
		c.phases[msg.IntentID] = make(map[string]Phase)
	}
	c.phases[msg.IntentID][msg.ServiceID] = msg.Phase
	countdown := intent.CountdownSeconds
	c.mu.Unlock()

	if msg.Phase != PhaseEvacuate {
		return
	}

	expiry := time.Now().Add(time.Duration(countdown) * time.Second)
	c.mu.Lock()
	for _, playerID := range msg.PlayerIDs {
		key := ticketKey{playerID: playerID, intentID: msg.IntentID}
		c.tickets[key] = &model.ShutdownTicket{
			PlayerID: playerID,
			IntentID: msg.IntentID,
			ExpireAt: expiry,
		}
	}
	c.mu.Unlock()
	c.log.Infow("shutdown tickets minted", "intentId", msg.IntentID, "serviceId", msg.ServiceID, "count", len(msg.PlayerIDs))
}

// ConsumeTicket implements routing.TicketConsumer (spec.md §4.9.1 step 1):
// a ticket is consumed exactly once (spec.md Testable Property 10); a
// missing, expired or already-consumed ticket fails the lookup.
func (c *Coordinator) ConsumeTicket(playerID, intentID string) (backendTransferHint string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ticketKey{playerID: playerID, intentID: intentID}
	ticket, found := c.tickets[key]
	if !found || ticket.Consumed || time.Now().After(ticket.ExpireAt) {
		return "", false
	}
	intent, found := c.intents[intentID]
	if !found || intent.Cancelled {
		return "", false
	}
	ticket.Consumed = true
	return intent.BackendTransferHint, true
}
