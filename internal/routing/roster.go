package routing

import (
	"time"

	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

// HandleMatchRosterCreated locks a slot to an explicit player allow-list
// (spec.md §4.9.5). The lock is enforced at dispatch time, not at slot
// selection, so a roster announced mid-queue can't starve a slot that was
// already picked for an allowed player.
func (c *Coordinator) HandleMatchRosterCreated(msg MatchRosterCreated) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid match roster", "error", err)
		return
	}
	allowed := make(map[string]bool, len(msg.Players))
	for _, p := range msg.Players {
		allowed[p] = true
	}
	roster := &model.MatchRoster{
		MatchID:        msg.MatchID,
		SlotID:         msg.SlotID,
		ServerID:       msg.ServerID,
		AllowedPlayers: allowed,
		CreatedAt:      time.Now(),
	}
	c.mu.Lock()
	c.rosters[msg.SlotID] = roster
	c.mu.Unlock()
}

// HandleMatchRosterEnded releases a previously-created roster lock.
func (c *Coordinator) HandleMatchRosterEnded(msg MatchRosterEnded) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid match roster end", "error", err)
		return
	}
	c.clearRoster(msg.SlotID)
}

// rosterFor returns the active roster lock for slotID, if any. A roster
// with a non-nil EndedAt has already been released and no longer gates
// dispatch.
func (c *Coordinator) rosterFor(slotID string) (*model.MatchRoster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rosters[slotID]
	if !ok || r.EndedAt != nil {
		return nil, false
	}
	return r, true
}

func (c *Coordinator) clearRoster(slotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rosters, slotID)
}
