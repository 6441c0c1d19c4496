// Package network implements the network profile & rank broadcaster,
// spec.md §4.11 (C11): exactly one active network-wide configuration
// profile at a time, served on request and re-broadcast on change, plus
// ad hoc rank-sync broadcasts.
package network

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

const mirrorKey = "network:active-profile"

// Manager holds the single active NetworkProfile.
type Manager struct {
	bus    *bus.Bus
	mirror *kvstore.Mirror
	log    *zap.SugaredLogger

	mu      sync.RWMutex
	profile *model.NetworkProfile
}

func New(b *bus.Bus, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Manager {
	m := &Manager{bus: b, mirror: mirror, log: log.Named("network")}
	b.Subscribe(bus.ChanNetworkConfigRequest, func(env bus.Envelope) {
		if req, ok := env.Body.(NetworkConfigRequestMessage); ok {
			m.HandleConfigRequest(req)
		}
	})
	return m
}

// Restore re-seeds the active profile from a boot-time mirror read.
func (m *Manager) Restore(p *model.NetworkProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
}

// SetProfile replaces the active profile and broadcasts the change
// (spec.md §4.11).
func (m *Manager) SetProfile(p *model.NetworkProfile) {
	p.UpdatedAt = time.Now()
	m.mu.Lock()
	m.profile = p
	m.mu.Unlock()

	m.mirror.PutJSON(mirrorKey, p)
	m.bus.Broadcast(bus.ChanNetworkConfigUpdated, m.toUpdatedMessage("", p))
	m.log.Infow("network profile updated", "profileId", p.ProfileID, "tag", p.Tag)
}

// HandleConfigRequest answers a registry.network.config.request with the
// current snapshot.
func (m *Manager) HandleConfigRequest(req NetworkConfigRequestMessage) {
	if err := req.Validate(); err != nil {
		m.log.Warnw("dropping invalid network config request", "error", err)
		return
	}
	m.mu.RLock()
	p := m.profile
	m.mu.RUnlock()
	if p == nil {
		return
	}
	m.bus.Broadcast(bus.ChanNetworkConfigUpdated, m.toUpdatedMessage(req.RequestID, p))
}

// BroadcastRank emits a RankSyncMessage for a player's rank mutation,
// spec.md §4.11.
func (m *Manager) BroadcastRank(playerID, primaryRankID string, rankIDs []string) {
	m.bus.Broadcast(bus.ChanRankUpdate, RankSyncMessage{
		PlayerID:      playerID,
		PrimaryRankID: primaryRankID,
		RankIDs:       rankIDs,
	})
}

func (m *Manager) toUpdatedMessage(requestID string, p *model.NetworkProfile) NetworkConfigUpdatedMessage {
	return NetworkConfigUpdatedMessage{
		RequestID:   requestID,
		ProfileID:   p.ProfileID,
		Tag:         p.Tag,
		ServerIP:    p.ServerIP,
		MOTD:        p.MOTD,
		ScoreTitle:  p.Scoreboard.Title,
		ScoreFooter: p.Scoreboard.Footer,
		Ranks:       p.Ranks,
	}
}
