package serverregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/idalloc"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log := zap.NewNop().Sugar()
	mirror := kvstore.NewMirror(kvstore.NewMemoryAdapter(), log)
	r := New(idalloc.New(idalloc.KindServer, log), mirror, log)
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegisterIsIdempotentPerTempID(t *testing.T) {
	r := newTestRegistry(t)

	id, reactivated := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)
	require.False(t, reactivated)

	again, reactivated := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)
	require.False(t, reactivated)
	require.Equal(t, id, again)
	require.Len(t, r.ListActive(), 1)
}

func TestUpdateSlotCreatesThenMutatesSlot(t *testing.T) {
	r := newTestRegistry(t)
	id, _ := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)

	slot, ok := r.UpdateSlot(id, SlotStatusUpdate{
		SlotID: "slot-a", Status: model.SlotProvisioning, MaxPlayers: 10,
	})
	require.True(t, ok)
	require.Equal(t, model.SlotProvisioning, slot.Status)

	slot, ok = r.UpdateSlot(id, SlotStatusUpdate{
		SlotID: "slot-a", Status: model.SlotAvailable, OnlinePlayers: 2, MaxPlayers: 10,
	})
	require.True(t, ok)
	require.Equal(t, model.SlotAvailable, slot.Status)
	require.Equal(t, 2, slot.OnlinePlayers)

	found, server, ok := r.LookupSlot("slot-a")
	require.True(t, ok)
	require.Equal(t, id, server.ID)
	require.Same(t, slot, found)
}

func TestAdjustPendingOccupancyClampsAtZero(t *testing.T) {
	r := newTestRegistry(t)
	id, _ := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)
	r.UpdateSlot(id, SlotStatusUpdate{SlotID: "slot-a", Status: model.SlotAvailable, MaxPlayers: 10})

	require.True(t, r.AdjustPendingOccupancy("slot-a", -5))
	slot, _, _ := r.LookupSlot("slot-a")
	require.Equal(t, 0, slot.PendingOccupancy)

	require.True(t, r.AdjustPendingOccupancy("slot-a", 3))
	slot, _, _ = r.LookupSlot("slot-a")
	require.Equal(t, 3, slot.PendingOccupancy)
}

func TestAdjustOccupancyUnknownSlotReturnsFalse(t *testing.T) {
	r := newTestRegistry(t)
	require.False(t, r.AdjustOccupancy("missing-slot", 1))
}

func TestDeregisterRemovesFromActivePool(t *testing.T) {
	r := newTestRegistry(t)
	id, _ := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)
	require.True(t, r.Deregister(id))

	_, ok := r.Lookup(id)
	require.False(t, ok)
}

func TestSetEvacuatingMarksServer(t *testing.T) {
	r := newTestRegistry(t)
	id, _ := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)

	r.SetEvacuating(id, true)
	server, ok := r.Lookup(id)
	require.True(t, ok)
	require.True(t, server.Evacuating)
}

func TestRegisterReactivatesFromUnavailablePoolWithinRecycleWindow(t *testing.T) {
	r := newTestRegistry(t)
	id, _ := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)
	r.UpdateSlot(id, SlotStatusUpdate{SlotID: "slot-a", Status: model.SlotAvailable, MaxPlayers: 10})
	require.True(t, r.Deregister(id))

	again, reactivated := r.Register("temp-1", "survival", "primary", "10.0.0.6", 25566, 200)
	require.True(t, reactivated)
	require.Equal(t, id, again, "re-registering the same tempID within the recycle window must not mint a new id")

	server, ok := r.Lookup(id)
	require.True(t, ok)
	require.Equal(t, "10.0.0.6", server.Address)
	require.Equal(t, 200, server.MaxCapacity)
	require.Equal(t, model.StatusAvailable, server.Status)

	_, _, slotOk := r.LookupSlot("slot-a")
	require.True(t, slotOk, "the server's prior slots must survive reactivation")
	require.Len(t, r.ListActive(), 1)
}

func TestRestoreServerReactivatesDeadSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	id, _ := r.Register("temp-1", "survival", "primary", "10.0.0.5", 25565, 100)

	snapshot, ok := r.SnapshotAndRemove(id)
	require.True(t, ok)
	_, ok = r.Lookup(id)
	require.False(t, ok)

	r.RestoreServer(snapshot.(*model.RegisteredServer))
	server, ok := r.Lookup(id)
	require.True(t, ok)
	require.Equal(t, model.StatusAvailable, server.Status)
}
