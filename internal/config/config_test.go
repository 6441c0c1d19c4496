package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsSeedsBuiltInConstants(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, "memory", cfg.KVAdapter)
	require.Equal(t, 30, cfg.Timing.DeadTimeoutSeconds)
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadMergesOverridesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fulcrum.json")
	contents := `{
		// operator override
		"kv_adapter": "memory",
		"id_allocation_base": 100,
		"timing": {
			"dead_timeout_seconds": 45
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 100, cfg.IDAllocationBase)
	require.Equal(t, 45, cfg.Timing.DeadTimeoutSeconds)
	// Unset fields retain their defaults rather than zeroing out.
	require.Equal(t, 4096, cfg.BusQueueSize)
	require.Equal(t, 10, cfg.Timing.GracePeriodSeconds)
}
