package idalloc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAllocateHandsOutLowestFreeInstance(t *testing.T) {
	a := New(KindProxy, zap.NewNop().Sugar())

	first := a.Allocate()
	second := a.Allocate()

	require.Equal(t, "fulcrum-proxy-1", first)
	require.Equal(t, "fulcrum-proxy-2", second)
}

func TestReleaseReusesInstanceAfterWindow(t *testing.T) {
	a := New(KindServer, zap.NewNop().Sugar())

	id := a.Allocate()
	instance, err := ParseInstance(id)
	require.NoError(t, err)

	a.Release(instance, false, 20*time.Millisecond)
	require.True(t, a.Held(instance), "still within reservation window")

	next := a.Allocate()
	require.NotEqual(t, id, next, "reserved instance must not be reused before the window elapses")

	time.Sleep(40 * time.Millisecond)
	require.False(t, a.Held(instance))
}

func TestReleaseForcedFreesImmediately(t *testing.T) {
	a := New(KindProxy, zap.NewNop().Sugar())

	id := a.Allocate()
	instance, _ := ParseInstance(id)

	a.Release(instance, true, time.Minute)
	require.False(t, a.Held(instance))

	require.Equal(t, id, a.Allocate())
}

func TestMarkActiveReconcilesRestoredID(t *testing.T) {
	a := New(KindServer, zap.NewNop().Sugar())

	a.MarkActive(3)
	require.True(t, a.Held(3))

	// The next fresh allocation must skip the restored instance.
	require.Equal(t, "fulcrum-server-1", a.Allocate())
	require.Equal(t, "fulcrum-server-2", a.Allocate())
	require.Equal(t, "fulcrum-server-4", a.Allocate())
}

func TestParseInstanceRoundTrip(t *testing.T) {
	formatted := Format(KindProxy, 42)
	instance, err := ParseInstance(formatted)
	require.NoError(t, err)
	require.Equal(t, 42, instance)
}

func TestCorrelateProducesDistinctHandles(t *testing.T) {
	a := New(KindProxy, zap.NewNop().Sugar())
	first := a.Correlate()
	second := a.Correlate()
	require.NotEqual(t, first, second)
}
