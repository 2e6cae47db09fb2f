package reaper_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efspurge/efspurge/internal/backend"
	"github.com/efspurge/efspurge/internal/backpressure"
	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/ioadapter"
	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/ratetracker"
	"github.com/efspurge/efspurge/internal/reaper"
	"github.com/efspurge/efspurge/internal/stats"
)

func newReaper(t *testing.T, cfg *config.Config) (*reaper.Reaper, *stats.Stats) {
	t.Helper()
	ctx := context.Background()
	io := ioadapter.New(ctx, backend.New(), 16)
	t.Cleanup(io.Close)
	st := stats.New()
	logger.Configure(logger.Warning, os.Stderr)
	gov := backpressure.New(0, st, logger.New("test.backpressure"))
	return reaper.New(cfg, io, st, ratetracker.New(), logger.New("test"), gov), st
}

// TestRaceAbsorption implements scenario 6: 20 empty directories registered,
// 5 removed externally before the reaper runs. Expect 15 deleted, 0 errors.
func TestRaceAbsorption(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.New(root, config.WithRemoveEmptyDirs(true))
	require.NoError(t, err)

	r, st := newReaper(t, cfg)

	var dirs []string
	for i := 0; i < 20; i++ {
		d := filepath.Join(root, fmt.Sprintf("d_%d", i))
		require.NoError(t, os.MkdirAll(d, 0o755))
		dirs = append(dirs, d)
		st.AddEmptyDir(d)
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, os.Remove(dirs[i]))
	}

	r.Run(context.Background())

	snap := st.Snapshot()
	assert.EqualValues(t, 15, snap.EmptyDirsDeleted)
	assert.EqualValues(t, 0, snap.Errors)
}

// TestCascadeDeepestFirst verifies that a parent is never removed before
// all of its discovered children have been processed.
func TestCascadeDeepestFirst(t *testing.T) {
	root := t.TempDir()
	leaf := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(leaf, 0o755))

	cfg, err := config.New(root, config.WithRemoveEmptyDirs(true))
	require.NoError(t, err)

	r, st := newReaper(t, cfg)
	st.AddEmptyDir(leaf)

	r.Run(context.Background())

	snap := st.Snapshot()
	assert.EqualValues(t, 3, snap.EmptyDirsDeleted)

	_, err = os.Stat(root)
	assert.NoError(t, err, "root must never be removed")
}

// TestRateLimitCountsAttempts verifies max_empty_dirs_to_delete = k
// terminates reaping after exactly k attempted deletions.
func TestRateLimitCountsAttempts(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		require.NoError(t, os.MkdirAll(filepath.Join(root, fmt.Sprintf("d_%d", i)), 0o755))
	}

	cfg, err := config.New(root, config.WithRemoveEmptyDirs(true), config.WithMaxEmptyDirsToDelete(4))
	require.NoError(t, err)

	r, st := newReaper(t, cfg)
	for i := 0; i < 10; i++ {
		st.AddEmptyDir(filepath.Join(root, fmt.Sprintf("d_%d", i)))
	}

	r.Run(context.Background())

	snap := st.Snapshot()
	assert.EqualValues(t, 4, snap.EmptyDirsToDelete)
	assert.EqualValues(t, 4, snap.EmptyDirsDeleted)
}

// TestDryRunCountsAttemptsWithoutDeleting verifies dry-run symmetry:
// empty_dirs_to_delete still advances but nothing is removed.
func TestDryRunCountsAttemptsWithoutDeleting(t *testing.T) {
	root := t.TempDir()
	d := filepath.Join(root, "only")
	require.NoError(t, os.MkdirAll(d, 0o755))

	cfg, err := config.New(root, config.WithRemoveEmptyDirs(true), config.WithDryRun(true))
	require.NoError(t, err)

	r, st := newReaper(t, cfg)
	st.AddEmptyDir(d)

	r.Run(context.Background())

	snap := st.Snapshot()
	assert.EqualValues(t, 1, snap.EmptyDirsToDelete)
	assert.EqualValues(t, 0, snap.EmptyDirsDeleted)

	_, err = os.Stat(d)
	assert.NoError(t, err)
}

// TestRootNeverRemoved verifies the root directory is skipped even if it
// was (erroneously) registered as empty.
func TestRootNeverRemoved(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.New(root, config.WithRemoveEmptyDirs(true))
	require.NoError(t, err)

	r, st := newReaper(t, cfg)
	st.AddEmptyDir(cfg.Resolved)

	r.Run(context.Background())

	_, err = os.Stat(root)
	assert.NoError(t, err)

	snap := st.Snapshot()
	assert.EqualValues(t, 0, snap.EmptyDirsToDelete)
}
