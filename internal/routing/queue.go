package routing

import (
	"time"

	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

// routeOrEnqueue implements spec.md §4.9.1 step 6: call findAvailableSlot;
// on a hit, begin the reservation handshake; on a miss, enqueue by family
// and trigger a provision attempt.
func (c *Coordinator) routeOrEnqueue(ctx *model.PlayerRequestContext) {
	slot, ok := c.findAvailableSlot(ctx.Request.FamilyID, ctx.VariantID, ctx.BlockedSlots)
	if ok {
		c.beginReservation(ctx, slot.ServerID, slot.SlotID)
		return
	}
	c.enqueue(ctx)
	c.provisioner.RequestProvision(ctx.Request.FamilyID, ctx.Request.Metadata)
}

// enqueue appends ctx to its family's queue, persisting the queue to the
// mirror (spec.md §4.9.3, §6.2 route:queue:<family>).
func (c *Coordinator) enqueue(ctx *model.PlayerRequestContext) {
	ctx.LastEnqueuedAt = time.Now()
	c.mu.Lock()
	family := ctx.Request.FamilyID
	c.queues[family] = append(c.queues[family], ctx)
	snapshot := append([]*model.PlayerRequestContext(nil), c.queues[family]...)
	c.mu.Unlock()
	c.mirror.PutJSON("route:queue:"+family, snapshot)
}

// DrainFamilyQueue is called whenever a slot transitions to AVAILABLE on a
// non-evacuating server (spec.md §4.9.3): drain the slot's family queue up
// to remaining capacity, skipping entries that block this slot or mismatch
// variant (re-enqueued at the tail), and disconnecting entries older than
// MAX_QUEUE_WAIT. If nothing was routable but some were deferred, trigger a
// provision.
func (c *Coordinator) DrainFamilyQueue(slot *model.LogicalSlot) {
	family := slot.Family()
	if family == "" {
		return
	}

	c.mu.Lock()
	queue := c.queues[family]
	c.queues[family] = nil
	c.mu.Unlock()

	var deferred []*model.PlayerRequestContext
	routedAny := false
	now := time.Now()

	for _, ctx := range queue {
		if now.Sub(ctx.CreatedAt) > MaxQueueWait {
			c.disconnect(ctx.Request.RequestID, ctx.Request.PlayerID, ctx.Request.ProxyID, "queue-timeout")
			continue
		}
		if slot.RemainingCapacity() <= 0 {
			deferred = append(deferred, ctx)
			continue
		}
		if ctx.BlockedSlots[slot.SlotID] || !variantMatches(ctx.VariantID, slot) {
			deferred = append(deferred, ctx)
			continue
		}
		c.beginReservation(ctx, slot.ServerID, slot.SlotID)
		routedAny = true
	}

	// Re-enqueue whatever is left (including anything a later loop pass
	// skipped because this slot had already filled up).
	if len(deferred) > 0 {
		c.mu.Lock()
		c.queues[family] = append(deferred, c.queues[family]...)
		c.mu.Unlock()
	}

	if !routedAny && len(deferred) > 0 {
		c.provisioner.RequestProvision(family, nil)
	}
}

func variantMatches(variantID string, slot *model.LogicalSlot) bool {
	if variantID == "" {
		return true
	}
	for _, v := range slot.Variants() {
		if v == variantID {
			return true
		}
	}
	return false
}

// ExpireStaleQueueEntries disconnects any queued request older than
// MAX_QUEUE_WAIT, independent of slot activity (spec.md Testable Property
// 7: a request either routes or disconnects within MAX_QUEUE_WAIT +
// ROUTE_TIMEOUT of creation). The coordinator does not call it on a timer;
// without a call, a stale entry is disconnected only when its family queue
// is next drained (DrainFamilyQueue).
func (c *Coordinator) ExpireStaleQueueEntries() {
	now := time.Now()
	c.mu.Lock()
	families := make([]string, 0, len(c.queues))
	for f := range c.queues {
		families = append(families, f)
	}
	c.mu.Unlock()

	for _, family := range families {
		c.mu.Lock()
		queue := c.queues[family]
		var kept []*model.PlayerRequestContext
		var expired []*model.PlayerRequestContext
		for _, ctx := range queue {
			if now.Sub(ctx.CreatedAt) > MaxQueueWait {
				expired = append(expired, ctx)
			} else {
				kept = append(kept, ctx)
			}
		}
		c.queues[family] = kept
		c.mu.Unlock()

		for _, ctx := range expired {
			c.disconnect(ctx.Request.RequestID, ctx.Request.PlayerID, ctx.Request.ProxyID, "queue-timeout")
		}
	}
}

// HandleSlotStatus applies a slot.status update: drains the queue on a
// transition to AVAILABLE, and requeues/clears in-flight work on a
// transition to FAULTED/PROVISIONING/COOLDOWN (spec.md §4.9.9).
func (c *Coordinator) HandleSlotStatus(serverID string, update serverregistry.SlotStatusUpdate) {
	slot, ok := c.servers.UpdateSlot(serverID, update)
	if !ok {
		return
	}
	switch slot.Status {
	case model.SlotAvailable:
		c.DrainFamilyQueue(slot)
		c.drainPartyQueueForSlot(slot.SlotID)
	case model.SlotFaulted, model.SlotProvisioning, model.SlotCooldown:
		c.requeueSlotFailures(slot)
	}
}

// requeueSlotFailures implements spec.md §4.9.9: cancel in-flight routes to
// a slot that just became unavailable, requeue their contexts, clear any
// match roster, re-queue party allocations pointed at it, and reset
// pending-occupancy.
func (c *Coordinator) requeueSlotFailures(slot *model.LogicalSlot) {
	c.mu.Lock()
	var toRequeue []*model.PlayerRequestContext
	for reqID, route := range c.inflight {
		if route.SlotID != slot.SlotID {
			continue
		}
		delete(c.inflight, reqID)
		c.cancelTimerLocked(reqID)
		toRequeue = append(toRequeue, route.Context)
	}
	slot.PendingOccupancy = 0
	c.mu.Unlock()

	c.clearRoster(slot.SlotID)
	c.requeuePartiesForSlot(slot.SlotID)

	for _, ctx := range toRequeue {
		c.retryOrDisconnect(ctx, "slot-unavailable")
	}
}
