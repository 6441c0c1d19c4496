package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectEnvironmentTargetPicksLowestLoadAmongMatchingRole(t *testing.T) {
	h := newTestHarness(t)
	busyID, _ := h.servers.Register("busy", "world", "env-1", "10.0.0.1", 25565, 100)
	h.servers.UpdateMetrics(busyID, 80, 20)
	idleID, _ := h.servers.Register("idle", "world", "env-1", "10.0.0.2", 25566, 100)
	h.servers.UpdateMetrics(idleID, 10, 20)
	_, _ = h.servers.Register("other-role", "world", "env-2", "10.0.0.3", 25567, 100)

	server, ok := h.coord.selectEnvironmentTarget("env-1")
	require.True(t, ok)
	require.Equal(t, idleID, server.ID)
}

func TestSelectEnvironmentTargetExcludesEvacuatingServers(t *testing.T) {
	h := newTestHarness(t)
	id, _ := h.servers.Register("evac", "world", "env-1", "10.0.0.1", 25565, 100)
	h.servers.SetEvacuating(id, true)

	_, ok := h.coord.selectEnvironmentTarget("env-1")
	require.False(t, ok)
}

func TestSelectEnvironmentTargetNoRoleMatchFails(t *testing.T) {
	h := newTestHarness(t)
	_, _ = h.servers.Register("temp", "world", "env-2", "10.0.0.1", 25565, 100)

	_, ok := h.coord.selectEnvironmentTarget("env-1")
	require.False(t, ok)
}
