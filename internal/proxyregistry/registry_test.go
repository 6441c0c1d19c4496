package proxyregistry

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
	r := New(idalloc.New(idalloc.KindProxy, log), mirror, log)
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegisterAssignsFreshID(t *testing.T) {
	r := newTestRegistry(t)

	id, reactivated := r.Register("", "10.0.0.1", 9000)
	require.False(t, reactivated)
	require.Equal(t, "fulcrum-proxy-1", id)

	p, ok := r.Lookup(id)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", p.Address)
}

func TestRegisterDebouncesDoubleAnnounce(t *testing.T) {
	r := newTestRegistry(t)

	first, _ := r.Register("", "10.0.0.1", 9000)
	second, reactivated := r.Register("", "10.0.0.1", 9000)

	require.True(t, reactivated)
	require.Equal(t, first, second)
	require.Len(t, r.ListActive(), 1)
}

func TestDeregisterMovesToUnavailable(t *testing.T) {
	r := newTestRegistry(t)

	id, _ := r.Register("", "10.0.0.1", 9000)
	require.True(t, r.Deregister(id))

	_, ok := r.Lookup(id)
	require.False(t, ok)

	snapshot, _, ok := r.Unavailable(id)
	require.True(t, ok)
	require.Equal(t, id, snapshot.ID)
}

func TestRemoveImmediatelyDropsBothPools(t *testing.T) {
	r := newTestRegistry(t)

	id, _ := r.Register("", "10.0.0.1", 9000)
	r.Deregister(id)
	r.RemoveImmediately(id)

	_, ok := r.Unavailable(id)
	require.False(t, ok)
}

func TestLookupByAddrFindsActiveProxy(t *testing.T) {
	r := newTestRegistry(t)

	id, _ := r.Register("", "10.0.0.1", 9000)
	p, ok := r.LookupByAddr("10.0.0.1", 9000)
	require.True(t, ok)
	require.Equal(t, id, p.ID)

	_, ok = r.LookupByAddr("10.0.0.2", 9001)
	require.False(t, ok)
}

func TestRestoreBypassesHandshakeAndReactivates(t *testing.T) {
	r := newTestRegistry(t)

	id, _ := r.Register("", "10.0.0.1", 9000)
	snapshot, ok := r.SnapshotAndRemove(id)
	require.True(t, ok)

	_, ok = r.Lookup(id)
	require.False(t, ok)

	r.Restore(snapshot.(*model.RegisteredProxy))
	p, ok := r.Lookup(id)
	require.True(t, ok)
	require.Equal(t, model.StatusAvailable, p.Status)
}

func TestHeartbeatRestoresAvailability(t *testing.T) {
	r := newTestRegistry(t)

	id, _ := r.Register("", "10.0.0.1", 9000)
	r.MarkUnavailable(id)

	p, _ := r.Lookup(id)
	require.Equal(t, model.StatusUnavailable, p.Status)

	require.True(t, r.Heartbeat(id))
	p, _ = r.Lookup(id)
	require.Equal(t, model.StatusAvailable, p.Status)
}

func TestHeartbeatUnknownProxyReturnsFalse(t *testing.T) {
	r := newTestRegistry(t)
	require.False(t, r.Heartbeat("fulcrum-proxy-999"))
}
