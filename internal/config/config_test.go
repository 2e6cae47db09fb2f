package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir)
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.MaxAgeDays)
	assert.Equal(t, 1000, cfg.MaxConcurrencyScanning)
	assert.Equal(t, 1000, cfg.MaxConcurrencyDeletion)
	assert.Equal(t, 5000, cfg.TaskBatchSize)
	assert.Equal(t, 100, cfg.MaxConcurrentSubdirs)
	assert.Equal(t, 800, cfg.MemoryLimitMB)
	assert.Equal(t, 500, cfg.MaxEmptyDirsToDelete)
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.RemoveEmptyDirs)
}

func TestNewRejectsRelativeRoot(t *testing.T) {
	_, err := New("relative/path")
	assert.Error(t, err)
}

func TestNewAppliesOptions(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir,
		WithMaxAgeDays(7),
		WithDryRun(true),
		WithRemoveEmptyDirs(true),
		WithMaxConcurrentSubdirs(1),
	)
	require.NoError(t, err)

	assert.Equal(t, 7.0, cfg.MaxAgeDays)
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.RemoveEmptyDirs)
	assert.Equal(t, 1, cfg.MaxConcurrentSubdirs)
}

// TestDenyListClosure verifies the deny-list closure law: for every deny
// listed path d and every path p that equals d or starts with d + "/",
// construction fails.
func TestDenyListClosure(t *testing.T) {
	for _, d := range DenyList {
		d := d
		t.Run(d, func(t *testing.T) {
			_, err := New(d)
			assert.Error(t, err)

			_, err = New(d + "/nested/child")
			assert.Error(t, err)
		})
	}
}

func TestDenyListDoesNotRejectSiblingPaths(t *testing.T) {
	// "/etcetera" is not nested within "/etc" despite sharing a prefix.
	assert.False(t, IsWithinDenyList("/etcetera"))
	assert.True(t, IsWithinDenyList("/etc"))
	assert.True(t, IsWithinDenyList("/etc/foo"))
}

func TestInvalidParameterRejected(t *testing.T) {
	dir := t.TempDir()

	_, err := New(dir, WithMaxAgeDays(-1))
	assert.Error(t, err)

	_, err = New(dir, WithMaxConcurrencyScanning(0))
	assert.Error(t, err)

	_, err = New(dir, WithTaskBatchSize(0))
	assert.Error(t, err)

	_, err = New(dir, WithMaxConcurrentSubdirs(0))
	assert.Error(t, err)

	_, err = New(dir, WithMemoryLimitMB(-1))
	assert.Error(t, err)

	_, err = New(dir, WithMaxEmptyDirsToDelete(-1))
	assert.Error(t, err)
}

func TestIsRoot(t *testing.T) {
	dir := t.TempDir()
	cfg, err := New(dir)
	require.NoError(t, err)

	assert.True(t, cfg.IsRoot(cfg.Resolved))
	assert.False(t, cfg.IsRoot(cfg.Resolved+"/child"))
}
