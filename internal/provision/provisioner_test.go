package provision

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/idalloc"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

func newTestProvisioner(t *testing.T) (*Provisioner, *serverregistry.Registry) {
	t.Helper()
	log := zap.NewNop().Sugar()
	b := bus.New(log)
	mirror := kvstore.NewMirror(kvstore.NewMemoryAdapter(), log)
	servers := serverregistry.New(idalloc.New(idalloc.KindServer, log), mirror, log)
	t.Cleanup(servers.Shutdown)
	return New(servers, b, mirror, log), servers
}

func TestRequestProvisionPicksHighestHeadroomBackend(t *testing.T) {
	p, servers := newTestProvisioner(t)

	low, _ := servers.Register("low", "survival", "primary", "10.0.0.1", 1, 10)
	servers.UpdateSlotFamilyAdvertisement(low, map[string]int{"lobby": 2}, nil)

	high, _ := servers.Register("high", "survival", "primary", "10.0.0.2", 1, 10)
	servers.UpdateSlotFamilyAdvertisement(high, map[string]int{"lobby": 5}, nil)

	result, ok := p.RequestProvision("lobby", nil)
	require.True(t, ok)
	require.Equal(t, high, result.ServerID)
}

func TestRequestProvisionFailsWithNoEligibleBackend(t *testing.T) {
	p, _ := newTestProvisioner(t)
	_, ok := p.RequestProvision("lobby", nil)
	require.False(t, ok)
}

func TestRequestProvisionExcludesEvacuatingServers(t *testing.T) {
	p, servers := newTestProvisioner(t)
	id, _ := servers.Register("temp", "survival", "primary", "10.0.0.1", 1, 10)
	servers.UpdateSlotFamilyAdvertisement(id, map[string]int{"lobby": 5}, nil)
	servers.SetEvacuating(id, true)

	_, ok := p.RequestProvision("lobby", nil)
	require.False(t, ok)
}

func TestAcquireProvisionLockDedupesConcurrentAttempts(t *testing.T) {
	p, _ := newTestProvisioner(t)

	require.True(t, p.AcquireProvisionLock("lobby"))
	require.False(t, p.AcquireProvisionLock("lobby"))

	p.ReleaseProvisionLock("lobby")
	require.True(t, p.AcquireProvisionLock("lobby"))
}
