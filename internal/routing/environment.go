package routing

import (
	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

// HandleEnvironmentRouteRequest implements spec.md §4.9.10: cross-game
// environment routing bypasses the reservation handshake entirely (the
// target server isn't tracked through the logical-slot model), dispatching
// a ROUTE command directly. The target server is resolved by role rather
// than an explicit id: among non-evacuating servers whose Role matches
// TargetEnvironmentID, the one with the lowest playerCount/maxCapacity is
// picked. FailureMode governs what happens when no target can be resolved:
// KICK_ON_FAIL disconnects the player, REPORT_ONLY just logs and leaves the
// player on their origin server.
func (c *Coordinator) HandleEnvironmentRouteRequest(req EnvironmentRouteRequest) {
	if err := req.Validate(); err != nil {
		c.log.Warnw("dropping invalid environment route request", "error", err)
		return
	}

	server, ok := c.selectEnvironmentTarget(req.TargetEnvironmentID)
	if !ok {
		c.failEnvironmentRoute(req, "environment-target-unavailable")
		return
	}

	cmd := PlayerRouteCommand{
		Action:      ActionRoute,
		RequestID:   req.RequestID,
		PlayerID:    req.PlayerID,
		PlayerName:  req.PlayerName,
		ProxyID:     req.ProxyID,
		ServerID:    server.ID,
		TargetWorld: req.WorldName,
		SpawnX:      req.SpawnX,
		SpawnY:      req.SpawnY,
		SpawnZ:      req.SpawnZ,
		RouteType:   "environment",
		Metadata:    req.Metadata,
	}
	c.bus.Broadcast(bus.PlayerRouteChannel(req.ProxyID), cmd)
	c.bus.Broadcast(bus.ServerPlayerRouteChannel(server.ID), cmd)
}

// selectEnvironmentTarget implements spec.md §4.9.10's target resolution:
// among non-evacuating servers whose Role matches targetEnvironmentID,
// return the one minimizing playerCount/maxCapacity.
func (c *Coordinator) selectEnvironmentTarget(targetEnvironmentID string) (*model.RegisteredServer, bool) {
	var best *model.RegisteredServer
	var bestLoad float64
	for _, server := range c.servers.ListActive() {
		if server.Evacuating || server.Role != targetEnvironmentID {
			continue
		}
		load := 0.0
		if server.MaxCapacity > 0 {
			load = float64(server.PlayerCount) / float64(server.MaxCapacity)
		}
		if best == nil || load < bestLoad {
			best = server
			bestLoad = load
		}
	}
	return best, best != nil
}

func (c *Coordinator) failEnvironmentRoute(req EnvironmentRouteRequest, reason string) {
	if req.FailureMode == "KICK_ON_FAIL" {
		c.disconnect(req.RequestID, req.PlayerID, req.ProxyID, reason)
		return
	}
	c.log.Infow("environment route failed, leaving player on origin", "requestId", req.RequestID, "reason", reason)
}
