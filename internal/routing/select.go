package routing

import (
	"sort"
	"time"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

// findAvailableSlot implements spec.md §4.9.2: for each non-evacuating
// backend's eligible slots, pick the one that packs players into the
// fullest acceptable slot to minimize fragmentation.
func (c *Coordinator) findAvailableSlot(familyID, variantID string, blocked map[string]bool) (*model.LogicalSlot, bool) {
	var candidates []*model.LogicalSlot

	for _, server := range c.servers.ListActive() {
		if server.Evacuating {
			continue
		}
		for _, slot := range server.Slots {
			if !c.eligible(slot, familyID, variantID, blocked) {
				continue
			}
			candidates = append(candidates, slot)
		}
	}

	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FillRatio() != b.FillRatio() {
			return a.FillRatio() > b.FillRatio() // descending fill-ratio
		}
		aOcc := a.OnlinePlayers + a.PendingOccupancy
		bOcc := b.OnlinePlayers + b.PendingOccupancy
		if aOcc != bOcc {
			return aOcc > bOcc // descending occupancy
		}
		aRem, bRem := a.RemainingCapacity(), b.RemainingCapacity()
		if aRem != bRem {
			return aRem < bRem // ascending remaining capacity
		}
		return a.FirstSeen.Before(b.FirstSeen) // ascending first-seen tiebreaker
	})

	return candidates[0], true
}

func (c *Coordinator) eligible(slot *model.LogicalSlot, familyID, variantID string, blocked map[string]bool) bool {
	if slot.Status != model.SlotAvailable && slot.Status != model.SlotAllocated {
		return false
	}
	if slot.RemainingCapacity() <= 0 {
		return false
	}
	if slot.Family() != familyID {
		return false
	}
	if variantID != "" {
		matched := false
		for _, v := range slot.Variants() {
			if v == variantID {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if blocked[slot.SlotID] {
		return false
	}
	return true
}

// handleRejoin implements spec.md §4.9.1 step 5: route directly to a
// rejoin slot if it is ALLOCATED, belongs to familyID and has capacity,
// else emit a rejoin-slot-unavailable ack with no fallback to the queue.
func (c *Coordinator) handleRejoin(req PlayerSlotRequest, familyID, rejoinSlotID string) {
	slot, server, ok := c.servers.LookupSlot(rejoinSlotID)
	if ok && slot.Status == model.SlotAllocated && slot.Family() == familyID && slot.RemainingCapacity() > 0 {
		ctx := &model.PlayerRequestContext{
			Request:   req.toModel(familyID),
			CreatedAt: time.Now(),
			IsRejoin:  true,
		}
		c.beginReservation(ctx, server.ID, slot.SlotID)
		return
	}
	c.bus.Broadcast(bus.PlayerRouteChannel(req.ProxyID), PlayerRouteCommand{
		Action:    ActionRejoinUnavailable,
		RequestID: req.RequestID,
		PlayerID:  req.PlayerID,
		ProxyID:   req.ProxyID,
		Reason:    "rejoin-slot-unavailable",
	})
}
