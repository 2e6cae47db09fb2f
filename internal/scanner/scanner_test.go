package scanner_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efspurge/efspurge/internal/backend"
	"github.com/efspurge/efspurge/internal/backpressure"
	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/fileproc"
	"github.com/efspurge/efspurge/internal/ioadapter"
	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/ratetracker"
	"github.com/efspurge/efspurge/internal/scanner"
	"github.com/efspurge/efspurge/internal/stats"
	"github.com/efspurge/efspurge/internal/testutil"
)

func newScanner(t *testing.T, cfg *config.Config) (*scanner.Scanner, *stats.Stats) {
	t.Helper()
	ctx := context.Background()
	io := ioadapter.New(ctx, backend.New(), 64)
	t.Cleanup(io.Close)
	st := stats.New()
	logger.Configure(logger.Warning, os.Stderr)
	tracker := ratetracker.New()
	gov := backpressure.New(0, st, logger.New("test.backpressure"))
	proc := fileproc.New(cfg, io, st, tracker, logger.New("test.fileproc"), gov)
	return scanner.New(cfg, io, proc, st, tracker, logger.New("test.scanner")), st
}

// TestTaskBatchSizeOfOneMatchesLargerBatch verifies that task_batch_size=1
// and task_batch_size > N both produce identical correctness.
func TestTaskBatchSizeOfOneMatchesLargerBatch(t *testing.T) {
	for _, batchSize := range []int{1, 10000} {
		batchSize := batchSize
		t.Run(fmt.Sprintf("batch_%d", batchSize), func(t *testing.T) {
			root := t.TempDir()
			for i := 0; i < 20; i++ {
				testutil.WriteFileWithAge(t, root, fmt.Sprintf("f_%d.txt", i), []byte("x"), testutil.OldAge)
			}

			cfg, err := config.New(root, config.WithMaxAgeDays(1), config.WithTaskBatchSize(batchSize))
			require.NoError(t, err)

			sc, st := newScanner(t, cfg)
			sc.Scan(context.Background(), root)

			snap := st.Snapshot()
			assert.EqualValues(t, 20, snap.FilesScanned)
			assert.EqualValues(t, 20, snap.FilesPurged)
		})
	}
}

// TestMaxConcurrentSubdirsOneForcesDepthFirstWithoutDeadlock verifies the
// boundary behavior for max_concurrent_subdirs = 1.
func TestMaxConcurrentSubdirsOneForcesDepthFirstWithoutDeadlock(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		d := filepath.Join(root, fmt.Sprintf("d_%d", i))
		require.NoError(t, os.MkdirAll(d, 0o755))
		testutil.WriteFileWithAge(t, d, "f.txt", []byte("x"), testutil.NewAge)
	}

	cfg, err := config.New(root, config.WithMaxConcurrentSubdirs(1))
	require.NoError(t, err)

	sc, st := newScanner(t, cfg)
	sc.Scan(context.Background(), root)

	snap := st.Snapshot()
	assert.EqualValues(t, 10, snap.FilesScanned)
	assert.EqualValues(t, 11, snap.DirsScanned)
}

// TestSelfDeadlockAvoidanceWithFullSubdirFanout exercises the edge case in
// which a dispatched scanner invocation (already holding a dispatcher slot)
// has its own subdirectories to recurse into; it must not attempt to
// re-acquire the dispatcher semaphore.
func TestSelfDeadlockAvoidanceWithFullSubdirFanout(t *testing.T) {
	root := t.TempDir()
	// Each top-level subdir itself has a nested subdir, so every dispatched
	// scan must recurse sequentially into its own child without deadlocking
	// against the capacity-1 dispatcher semaphore.
	for i := 0; i < 3; i++ {
		nested := filepath.Join(root, fmt.Sprintf("d_%d", i), "nested")
		require.NoError(t, os.MkdirAll(nested, 0o755))
		testutil.WriteFileWithAge(t, nested, "f.txt", []byte("x"), testutil.NewAge)
	}

	cfg, err := config.New(root, config.WithMaxConcurrentSubdirs(1))
	require.NoError(t, err)

	sc, st := newScanner(t, cfg)
	done := make(chan struct{})
	go func() {
		sc.Scan(context.Background(), root)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not complete; suspected dispatcher self-deadlock")
	}

	snap := st.Snapshot()
	assert.EqualValues(t, 3, snap.FilesScanned)
	assert.EqualValues(t, 7, snap.DirsScanned)
}
