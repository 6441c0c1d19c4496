package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

func TestFindAvailableSlotPrefersFullestSlot(t *testing.T) {
	h := newTestHarness(t)
	serverID, _ := h.registerServerWithSlot(t, "survival", 10)
	h.servers.UpdateSlot(serverID, serverregistry.SlotStatusUpdate{
		SlotID: "slot-roomy", Status: model.SlotAvailable, OnlinePlayers: 1, MaxPlayers: 10,
		Metadata: map[string]string{"family": "survival"},
	})
	h.servers.UpdateSlot(serverID, serverregistry.SlotStatusUpdate{
		SlotID: "slot-packed", Status: model.SlotAvailable, OnlinePlayers: 8, MaxPlayers: 10,
		Metadata: map[string]string{"family": "survival"},
	})

	slot, ok := h.coord.findAvailableSlot("survival", "", nil)
	require.True(t, ok)
	require.Equal(t, "slot-packed", slot.SlotID)
}

func TestFindAvailableSlotSkipsEvacuatingServers(t *testing.T) {
	h := newTestHarness(t)
	serverID, _ := h.registerServerWithSlot(t, "survival", 10)
	h.servers.SetEvacuating(serverID, true)

	_, ok := h.coord.findAvailableSlot("survival", "", nil)
	require.False(t, ok)
}

func TestFindAvailableSlotHonorsBlockedSet(t *testing.T) {
	h := newTestHarness(t)
	_, slotID := h.registerServerWithSlot(t, "survival", 10)

	_, ok := h.coord.findAvailableSlot("survival", "", map[string]bool{slotID: true})
	require.False(t, ok)
}

func TestFindAvailableSlotFiltersByVariant(t *testing.T) {
	h := newTestHarness(t)
	serverID, _ := h.registerServerWithSlot(t, "survival", 10)
	h.servers.UpdateSlot(serverID, serverregistry.SlotStatusUpdate{
		SlotID: "slot-hardcore", Status: model.SlotAvailable, MaxPlayers: 10,
		Metadata: map[string]string{"family": "survival", "variant": "hardcore"},
	})

	slot, ok := h.coord.findAvailableSlot("survival", "hardcore", nil)
	require.True(t, ok)
	require.Equal(t, "slot-hardcore", slot.SlotID)

	_, ok = h.coord.findAvailableSlot("survival", "nonexistent-variant", nil)
	require.False(t, ok)
}

func TestHandleRejoinRoutesDirectlyToAllocatedSlot(t *testing.T) {
	h := newTestHarness(t)
	proxyID := h.registerProxy(t, "10.0.0.9", 3000)
	serverID, slotID := h.registerServerWithSlot(t, "survival", 10)
	h.servers.UpdateSlot(serverID, serverregistry.SlotStatusUpdate{
		SlotID: slotID, Status: model.SlotAllocated, MaxPlayers: 10,
		Metadata: map[string]string{"family": "survival"},
	})
	reservations := h.awaitReservationRequest(t, serverID)

	h.coord.HandlePlayerSlotRequest(PlayerSlotRequest{
		RequestID: "req-1", PlayerID: "player-1", ProxyID: proxyID, FamilyID: "survival",
		Metadata: map[string]string{"rejoinSlotId": slotID},
	})

	select {
	case req := <-reservations:
		require.Equal(t, slotID, req.SlotID)
	case <-time.After(time.Second):
		t.Fatal("rejoin never issued a reservation request")
	}
}

func TestHandleRejoinUnavailableSlotEmitsAckWithoutDisconnect(t *testing.T) {
	h := newTestHarness(t)
	proxyID := h.registerProxy(t, "10.0.0.9", 3000)
	routes := h.awaitProxyRoute(t, proxyID)

	h.coord.HandlePlayerSlotRequest(PlayerSlotRequest{
		RequestID: "req-1", PlayerID: "player-1", ProxyID: proxyID, FamilyID: "survival",
		Metadata: map[string]string{"rejoinSlotId": "slot-gone"},
	})

	select {
	case cmd := <-routes:
		require.Equal(t, ActionRejoinUnavailable, cmd.Action)
		require.Equal(t, "rejoin-slot-unavailable", cmd.Reason)
	case <-time.After(time.Second):
		t.Fatal("rejoin-slot-unavailable ack never sent")
	}
}
