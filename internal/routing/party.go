package routing

import (
	"time"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

// queuedPartyMember is a player.request that arrived for a party reservation
// whose target slot isn't routable yet (spec.md §4.9.5 case (b)); it is
// replayed through handlePartyRoute once the slot comes up.
type queuedPartyMember struct {
	req PlayerSlotRequest
}

// HandlePartyReservationCreated records a backend's pre-allocation of a
// slot for a party (spec.md §4.9.5) and reserves capacity for every member
// up front, so a burst of party joins can't outrun the slot's real
// headroom.
func (c *Coordinator) HandlePartyReservationCreated(msg PartyReservationCreated) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid party reservation", "error", err)
		return
	}
	reservation := &model.PartyReservation{
		ReservationID:    msg.ReservationID,
		PartyID:          msg.PartyID,
		FamilyID:         msg.FamilyID,
		VariantID:        msg.VariantID,
		TargetServerID:   msg.TargetServerID,
		TargetSlotID:     msg.TargetSlotID,
		ReservationToken: msg.ReservationToken,
		State:            model.PartyAllocated,
		Members:          msg.Members,
		Claimed:          make(map[string]bool),
		CreatedAt:        time.Now(),
	}
	c.mu.Lock()
	c.parties[msg.ReservationID] = reservation
	c.mu.Unlock()
	c.servers.AdjustPendingOccupancy(msg.TargetSlotID, len(msg.Members))
}

// handlePartyRoute implements spec.md §4.9.5: a player.request carrying a
// partyReservationId skips ordinary slot selection and is resolved one of
// three ways: (a) the target slot is ready, so it dispatches immediately
// bypassing the per-player reservation handshake using the token carried on
// the party reservation; (b) the target slot isn't routable yet, so the
// request waits and is replayed once it is; or (c) the reservation has
// expired, so the request fails outright.
func (c *Coordinator) handlePartyRoute(req PlayerSlotRequest, reservationID string) {
	c.mu.Lock()
	reservation, ok := c.parties[reservationID]
	c.mu.Unlock()
	if !ok {
		c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, "party-reservation-missing")
		return
	}

	if c.expirePartyIfStale(reservation) {
		c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, "party-reservation-expired")
		return
	}

	member := false
	for _, m := range reservation.Members {
		if m == req.PlayerID {
			member = true
			break
		}
	}
	if !member {
		c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, "party-reservation-invalid")
		return
	}

	c.mu.Lock()
	if reservation.Claimed[req.PlayerID] {
		c.mu.Unlock()
		c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, "party-reservation-already-claimed")
		return
	}
	c.mu.Unlock()

	slot, _, ok := c.servers.LookupSlot(reservation.TargetSlotID)
	if !ok || (slot.Status != model.SlotAvailable && slot.Status != model.SlotAllocated) {
		c.mu.Lock()
		c.partyQueue[reservationID] = append(c.partyQueue[reservationID], queuedPartyMember{req: req})
		c.mu.Unlock()
		return
	}

	c.claimAndDispatchPartyMember(reservation, req)
}

// claimAndDispatchPartyMember marks req's player as claimed and dispatches
// straight to the reservation's target slot, skipping beginReservation's
// handshake: the backend already confirmed this slot via
// PartyReservationCreated, and ReservationToken carries that confirmation.
func (c *Coordinator) claimAndDispatchPartyMember(reservation *model.PartyReservation, req PlayerSlotRequest) {
	c.mu.Lock()
	if reservation.Claimed[req.PlayerID] {
		c.mu.Unlock()
		c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, "party-reservation-already-claimed")
		return
	}
	reservation.Claimed[req.PlayerID] = true
	allClaimed := len(reservation.Claimed) >= len(reservation.Members)
	if allClaimed {
		reservation.State = model.PartyClaimed
	}
	c.mu.Unlock()

	requestID := req.RequestID
	if requestID == "" {
		requestID = newRequestID()
	}
	ctx := &model.PlayerRequestContext{
		Request:         req.toModel(reservation.FamilyID),
		CreatedAt:       time.Now(),
		VariantID:       reservation.VariantID,
		PreferredSlotID: reservation.TargetSlotID,
	}
	ctx.Request.RequestID = requestID

	route := &model.InFlightRoute{
		RequestID:    requestID,
		SlotID:       reservation.TargetSlotID,
		ServerID:     reservation.TargetServerID,
		Context:      ctx,
		DispatchedAt: time.Now(),
	}
	c.mu.Lock()
	c.inflight[requestID] = route
	c.mu.Unlock()

	// Pending occupancy for this member was already reserved in bulk at
	// PartyReservationCreated time; dispatch releases it through the usual
	// ack-time decrement, so no adjustment happens here.
	c.dispatch(route, reservation.ReservationToken)

	c.bus.Broadcast(bus.ChanPartyReservationClaimed, PartyReservationClaimed{
		ReservationID: reservation.ReservationID,
		PlayerID:      req.PlayerID,
	})

	if allClaimed {
		c.mu.Lock()
		delete(c.parties, reservation.ReservationID)
		delete(c.partyQueue, reservation.ReservationID)
		c.mu.Unlock()
	}
}

// expirePartyIfStale marks reservation EXPIRED once PartyReservationTTL has
// elapsed since it was created, spec.md §4.9.5 case (c).
func (c *Coordinator) expirePartyIfStale(reservation *model.PartyReservation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reservation.State == model.PartyExpired {
		return true
	}
	if time.Since(reservation.CreatedAt) > PartyReservationTTL {
		reservation.State = model.PartyExpired
		return true
	}
	return false
}

// drainPartyQueueForSlot replays any party member requests that were
// waiting on slotID once it becomes routable (spec.md §4.9.5 case (b)).
func (c *Coordinator) drainPartyQueueForSlot(slotID string) {
	c.mu.Lock()
	var reservationIDs []string
	for id, r := range c.parties {
		if r.TargetSlotID == slotID {
			reservationIDs = append(reservationIDs, id)
		}
	}
	c.mu.Unlock()

	for _, id := range reservationIDs {
		c.mu.Lock()
		waiting := c.partyQueue[id]
		c.partyQueue[id] = nil
		c.mu.Unlock()
		for _, queued := range waiting {
			c.handlePartyRoute(queued.req, id)
		}
	}
}

// requeuePartiesForSlot implements spec.md §4.9.9: when a slot a party
// reservation targets fails, drop the reservation (its pre-reserved
// capacity is gone with the slot) and re-queue any member requests that
// were waiting on it through ordinary slot selection instead of abandoning
// them.
func (c *Coordinator) requeuePartiesForSlot(slotID string) {
	c.mu.Lock()
	var stale []string
	var toRequeue []queuedPartyMember
	for id, r := range c.parties {
		if r.TargetSlotID == slotID {
			stale = append(stale, id)
			toRequeue = append(toRequeue, c.partyQueue[id]...)
			delete(c.partyQueue, id)
		}
	}
	for _, id := range stale {
		delete(c.parties, id)
	}
	c.mu.Unlock()

	for _, queued := range toRequeue {
		ctx := &model.PlayerRequestContext{
			Request:   queued.req.toModel(queued.req.FamilyID),
			CreatedAt: time.Now(),
		}
		c.routeOrEnqueue(ctx)
	}
}
