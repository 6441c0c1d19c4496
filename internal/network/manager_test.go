package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

func newTestManager(t *testing.T) (*Manager, *bus.Bus) {
	t.Helper()
	log := zap.NewNop().Sugar()
	b := bus.New(log)
	mirror := kvstore.NewMirror(kvstore.NewMemoryAdapter(), log)
	return New(b, mirror, log), b
}

func awaitUpdated(t *testing.T, b *bus.Bus) chan NetworkConfigUpdatedMessage {
	t.Helper()
	out := make(chan NetworkConfigUpdatedMessage, 1)
	require.NoError(t, b.Subscribe(bus.ChanNetworkConfigUpdated, func(env bus.Envelope) {
		if msg, ok := env.Body.(NetworkConfigUpdatedMessage); ok {
			out <- msg
		}
	}))
	return out
}

func TestSetProfileBroadcastsUpdate(t *testing.T) {
	m, b := newTestManager(t)
	out := awaitUpdated(t, b)

	profile := &model.NetworkProfile{ProfileID: "prof-1", Tag: "prod", MOTD: []string{"hi"}}
	profile.Scoreboard.Title = "Top Players"
	profile.Scoreboard.Footer = "play.example.net"
	m.SetProfile(profile)

	select {
	case msg := <-out:
		require.Equal(t, "prof-1", msg.ProfileID)
		require.Equal(t, "Top Players", msg.ScoreTitle)
		require.Equal(t, "play.example.net", msg.ScoreFooter)
	case <-time.After(time.Second):
		t.Fatal("network.config.updated never broadcast")
	}
}

func TestRestoreSeedsProfileWithoutBroadcast(t *testing.T) {
	m, b := newTestManager(t)
	out := awaitUpdated(t, b)

	m.Restore(&model.NetworkProfile{ProfileID: "prof-2", Tag: "restored"})

	select {
	case <-out:
		t.Fatal("Restore must not broadcast")
	case <-time.After(100 * time.Millisecond):
	}

	req := awaitUpdated(t, b)
	m.HandleConfigRequest(NetworkConfigRequestMessage{RequestID: "req-1"})
	select {
	case msg := <-req:
		require.Equal(t, "prof-2", msg.ProfileID)
		require.Equal(t, "req-1", msg.RequestID)
	case <-time.After(time.Second):
		t.Fatal("config request never answered")
	}
}

func TestHandleConfigRequestWithNoActiveProfileIsNoop(t *testing.T) {
	m, b := newTestManager(t)
	out := awaitUpdated(t, b)

	m.HandleConfigRequest(NetworkConfigRequestMessage{RequestID: "req-1"})

	select {
	case <-out:
		t.Fatal("must not broadcast when no profile is active")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastRankEmitsRankSync(t *testing.T) {
	m, b := newTestManager(t)
	out := make(chan RankSyncMessage, 1)
	require.NoError(t, b.Subscribe(bus.ChanRankUpdate, func(env bus.Envelope) {
		if msg, ok := env.Body.(RankSyncMessage); ok {
			out <- msg
		}
	}))

	m.BroadcastRank("player-1", "gold", []string{"gold", "veteran"})

	select {
	case msg := <-out:
		require.Equal(t, "player-1", msg.PlayerID)
		require.Equal(t, "gold", msg.PrimaryRankID)
		require.ElementsMatch(t, []string{"gold", "veteran"}, msg.RankIDs)
	case <-time.After(time.Second):
		t.Fatal("rank.update never broadcast")
	}
}
