package routing

import (
	"time"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

// beginReservation implements spec.md §4.9.6: reserve the slot's capacity
// optimistically, ask the owning backend to confirm via
// player.reservation.request, and arm a RESERVATION_TIMEOUT in case the
// backend never answers.
func (c *Coordinator) beginReservation(ctx *model.PlayerRequestContext, serverID, slotID string) {
	requestID := ctx.Request.RequestID
	if requestID == "" {
		requestID = newRequestID()
		ctx.Request.RequestID = requestID
	}

	c.servers.AdjustPendingOccupancy(slotID, 1)

	c.mu.Lock()
	c.inflight[requestID] = &model.InFlightRoute{
		RequestID:    requestID,
		SlotID:       slotID,
		ServerID:     serverID,
		Context:      ctx,
		DispatchedAt: time.Now(),
	}
	c.mu.Unlock()

	c.bus.Send(serverID, bus.ChanPlayerReservationRequest, PlayerReservationRequest{
		RequestID:  requestID,
		PlayerID:   ctx.Request.PlayerID,
		PlayerName: ctx.Request.PlayerName,
		ProxyID:    ctx.Request.ProxyID,
		ServerID:   serverID,
		SlotID:     slotID,
		Metadata:   ctx.Request.Metadata,
	})

	c.startTimer(requestID, ReservationTimeout, func() {
		c.failRoute(requestID, "reservation-failed")
	})
}

// HandlePlayerReservationResponse implements the second half of spec.md
// §4.9.6: on acceptance, dispatch a ROUTE command and arm ROUTE_TIMEOUT; on
// rejection, fall back to retryOrDisconnect.
func (c *Coordinator) HandlePlayerReservationResponse(resp PlayerReservationResponse) {
	if err := resp.Validate(); err != nil {
		c.log.Warnw("dropping invalid reservation response", "error", err)
		return
	}

	c.mu.Lock()
	route, ok := c.inflight[resp.RequestID]
	if ok {
		c.cancelTimerLocked(resp.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if !resp.Accepted {
		reason := resp.Reason
		if reason == "" {
			reason = "reservation-failed"
		}
		c.failRoute(resp.RequestID, reason)
		return
	}

	c.dispatch(route, resp.ReservationToken)
}

// dispatch sends the ROUTE command to the proxy and backend and arms
// ROUTE_TIMEOUT (spec.md §4.9.6, §4.9.7).
func (c *Coordinator) dispatch(route *model.InFlightRoute, reservationToken string) {
	ctx := route.Context
	slot, server, ok := c.servers.LookupSlot(route.SlotID)
	if !ok {
		c.failRoute(route.RequestID, "slot-not-ready")
		return
	}
	if roster, locked := c.rosterFor(route.SlotID); locked && !roster.AllowedPlayers[ctx.Request.PlayerID] {
		c.failRoute(route.RequestID, "match-roster-locked")
		return
	}

	metadata := mergeMetadata(slot.Metadata, ctx.Request.Metadata)
	metadata["reservationToken"] = reservationToken

	cmd := PlayerRouteCommand{
		Action:      ActionRoute,
		RequestID:   route.RequestID,
		PlayerID:    ctx.Request.PlayerID,
		PlayerName:  ctx.Request.PlayerName,
		ProxyID:     ctx.Request.ProxyID,
		ServerID:    server.ID,
		SlotID:      slot.SlotID,
		SlotSuffix:  slot.SlotSuffix,
		Metadata:    metadata,
	}
	c.bus.Broadcast(bus.PlayerRouteChannel(ctx.Request.ProxyID), cmd)
	c.bus.Broadcast(bus.ServerPlayerRouteChannel(server.ID), cmd)

	c.startTimer(route.RequestID, RouteTimeout, func() {
		c.failRoute(route.RequestID, "route-transient")
	})
}

// HandlePlayerRouteAck implements spec.md §4.9.7/§4.9.8: on SUCCESS, confirm
// occupancy and remember the player's active slot; on FAILED, retry or
// disconnect.
func (c *Coordinator) HandlePlayerRouteAck(ack PlayerRouteAck) {
	if err := ack.Validate(); err != nil {
		c.log.Warnw("dropping invalid route ack", "error", err)
		return
	}

	c.mu.Lock()
	route, ok := c.inflight[ack.RequestID]
	if ok {
		delete(c.inflight, ack.RequestID)
		c.cancelTimerLocked(ack.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.servers.AdjustPendingOccupancy(route.SlotID, -1)

	if ack.Status == AckSuccess {
		c.servers.AdjustOccupancy(route.SlotID, 1)
		c.setActiveSlot(route.Context.Request.PlayerID, route.SlotID)
		return
	}

	reason := ack.Reason
	if reason == "" {
		reason = "route-transient"
	}
	c.retryOrDisconnect(route.Context, reason)
}

// failRoute is the timer-fired / explicit-rejection path: release the
// pending reservation and hand the context to retryOrDisconnect.
func (c *Coordinator) failRoute(requestID, reason string) {
	c.mu.Lock()
	route, ok := c.inflight[requestID]
	if ok {
		delete(c.inflight, requestID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.servers.AdjustPendingOccupancy(route.SlotID, -1)
	c.retryOrDisconnect(route.Context, reason)
}

// retryOrDisconnect implements spec.md §4.9.8: retryable failures re-enter
// slot selection with the request's BlockedSlots, up to MAX_ROUTE_RETRIES;
// everything else disconnects. The callers in this file remove the route
// from inflight before calling, so lastAttemptedSlot finds nothing and the
// failed slot itself is not added to BlockedSlots.
func (c *Coordinator) retryOrDisconnect(ctx *model.PlayerRequestContext, reason string) {
	if !RetryableReasons[reason] || ctx.Retries >= MaxRouteRetries {
		c.disconnect(ctx.Request.RequestID, ctx.Request.PlayerID, ctx.Request.ProxyID, reason)
		return
	}
	ctx.Retries++
	if ctx.BlockedSlots == nil {
		ctx.BlockedSlots = make(map[string]bool)
	}
	if slotID, ok := c.lastAttemptedSlot(ctx.Request.RequestID); ok {
		ctx.BlockedSlots[slotID] = true
	}
	c.routeOrEnqueue(ctx)
}

// lastAttemptedSlot is a best-effort lookup used only to block the slot
// that just failed from being re-selected on retry; a miss simply means
// nothing extra gets blocked.
func (c *Coordinator) lastAttemptedSlot(requestID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	route, ok := c.inflight[requestID]
	if !ok {
		return "", false
	}
	return route.SlotID, true
}

func mergeMetadata(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// startTimer arms a generation-guarded timer for requestID: if the request
// is already resolved (or re-armed) by the time the timer fires, the stale
// fire is a no-op (spec.md §5: the coordinator owns every timer so
// callbacks never race the state they were scheduled against).
func (c *Coordinator) startTimer(requestID string, d time.Duration, fn func()) {
	c.mu.Lock()
	c.gen[requestID]++
	gen := c.gen[requestID]
	if existing, ok := c.timers[requestID]; ok {
		existing.Stop()
	}
	c.timers[requestID] = time.AfterFunc(d, func() {
		c.mu.Lock()
		current := c.gen[requestID]
		c.mu.Unlock()
		if current != gen {
			return
		}
		fn()
	})
	c.mu.Unlock()
}

// cancelTimerLocked stops and clears requestID's timer. Caller must hold c.mu.
func (c *Coordinator) cancelTimerLocked(requestID string) {
	c.gen[requestID]++
	if t, ok := c.timers[requestID]; ok {
		t.Stop()
		delete(c.timers, requestID)
	}
}
