package shutdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/idalloc"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *serverregistry.Registry) {
	t.Helper()
	log := zap.NewNop().Sugar()
	b := bus.New(log)
	mirror := kvstore.NewMirror(kvstore.NewMemoryAdapter(), log)
	servers := serverregistry.New(idalloc.New(idalloc.KindServer, log), mirror, log)
	t.Cleanup(servers.Shutdown)
	return New(servers, b, mirror, log), servers
}

func TestBroadcastIntentMarksServicesEvacuating(t *testing.T) {
	c, servers := newTestCoordinator(t)
	id, _ := servers.Register("temp", "survival", "primary", "10.0.0.1", 1, 10)

	c.BroadcastIntent(ShutdownIntentMessage{ID: "intent-1", Services: []string{id}, CountdownSeconds: 30})

	server, ok := servers.Lookup(id)
	require.True(t, ok)
	require.True(t, server.Evacuating)
}

func TestHandleIntentUpdateMintsTicketsOnEvacuatePhase(t *testing.T) {
	c, servers := newTestCoordinator(t)
	id, _ := servers.Register("temp", "survival", "primary", "10.0.0.1", 1, 10)
	c.BroadcastIntent(ShutdownIntentMessage{ID: "intent-1", Services: []string{id}, CountdownSeconds: 30, BackendTransferHint: "lobby"})

	c.HandleIntentUpdate(ShutdownIntentUpdateMessage{
		IntentID: "intent-1", ServiceID: id, Phase: PhaseEvacuate, PlayerIDs: []string{"player-1"},
	})

	hint, ok := c.ConsumeTicket("player-1", "intent-1")
	require.True(t, ok)
	require.Equal(t, "lobby", hint)
}

func TestConsumeTicketIsSingleUse(t *testing.T) {
	c, servers := newTestCoordinator(t)
	id, _ := servers.Register("temp", "survival", "primary", "10.0.0.1", 1, 10)
	c.BroadcastIntent(ShutdownIntentMessage{ID: "intent-1", Services: []string{id}, CountdownSeconds: 30})
	c.HandleIntentUpdate(ShutdownIntentUpdateMessage{IntentID: "intent-1", ServiceID: id, Phase: PhaseEvacuate, PlayerIDs: []string{"player-1"}})

	_, ok := c.ConsumeTicket("player-1", "intent-1")
	require.True(t, ok)

	_, ok = c.ConsumeTicket("player-1", "intent-1")
	require.False(t, ok, "a ticket must not be consumable twice")
}

func TestConsumeTicketRejectsExpiredTicket(t *testing.T) {
	c, servers := newTestCoordinator(t)
	id, _ := servers.Register("temp", "survival", "primary", "10.0.0.1", 1, 10)
	c.BroadcastIntent(ShutdownIntentMessage{ID: "intent-1", Services: []string{id}, CountdownSeconds: 0})
	c.HandleIntentUpdate(ShutdownIntentUpdateMessage{IntentID: "intent-1", ServiceID: id, Phase: PhaseEvacuate, PlayerIDs: []string{"player-1"}})

	time.Sleep(5 * time.Millisecond)
	_, ok := c.ConsumeTicket("player-1", "intent-1")
	require.False(t, ok)
}

func TestCancelIntentClearsEvacuatingAndTickets(t *testing.T) {
	c, servers := newTestCoordinator(t)
	id, _ := servers.Register("temp", "survival", "primary", "10.0.0.1", 1, 10)
	c.BroadcastIntent(ShutdownIntentMessage{ID: "intent-1", Services: []string{id}, CountdownSeconds: 30})
	c.HandleIntentUpdate(ShutdownIntentUpdateMessage{IntentID: "intent-1", ServiceID: id, Phase: PhaseEvacuate, PlayerIDs: []string{"player-1"}})

	c.CancelIntent("intent-1")

	server, _ := servers.Lookup(id)
	require.False(t, server.Evacuating)

	_, ok := c.ConsumeTicket("player-1", "intent-1")
	require.False(t, ok)
}
