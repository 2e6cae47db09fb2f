// Package engine is the run orchestrator: it wires the I/O adapter,
// statistics, rate tracker, file processor, scanner, reaper, and progress
// reporter into one run and drives the scanning -> (optional) reaping phase
// transition. It does not log final statistics itself; callers read them
// from Stats after Run returns. Generalized from the teacher's
// flat-list batch-deletion Engine into the recursive streaming orchestrator
// the data flow in the specification's system overview describes; the
// interrupt-handling shape (SetupInterruptHandler cancelling a root
// context on SIGINT/SIGTERM) is carried over directly.
package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/efspurge/efspurge/internal/backend"
	"github.com/efspurge/efspurge/internal/backpressure"
	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/fileproc"
	"github.com/efspurge/efspurge/internal/ioadapter"
	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/progress"
	"github.com/efspurge/efspurge/internal/ratetracker"
	"github.com/efspurge/efspurge/internal/reaper"
	"github.com/efspurge/efspurge/internal/scanner"
	"github.com/efspurge/efspurge/internal/stats"
)

// ioWorkers is the worker-pool size backing the metadata adapter. It is not
// exposed as a CLI flag because the semaphores in fileproc/scanner already
// bound outstanding work; this just bounds how many syscalls can be
// in-flight against the pool at once.
const ioWorkers = 256

// Engine owns one run's collaborators and lifecycle.
type Engine struct {
	cfg     *config.Config
	log     *logger.Logger
	stats   *stats.Stats
	tracker *ratetracker.Tracker
}

// New constructs an Engine for cfg. log should be a logger named for the
// engine ("efspurge.engine" by convention); component loggers are derived
// from the same sink with their own names.
func New(cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     log,
		stats:   stats.New(),
		tracker: ratetracker.New(),
	}
}

// Stats returns the run's statistics snapshot source, usable by callers
// (e.g. the CLI) to emit a final summary after Run returns.
func (e *Engine) Stats() *stats.Stats {
	return e.stats
}

// Run executes one full purge run: pre-scan existence check, scanning
// phase, optional reap phase, progress reporter lifecycle. It returns an
// error only for fatal, construction-adjacent conditions (root not found);
// all per-entity failures are absorbed into statistics counters, never
// returned here.
func (e *Engine) Run(ctx context.Context) error {
	be := backend.New()
	if !be.Exists(e.cfg.Root) {
		return &RootNotFoundError{Path: e.cfg.Root}
	}

	io := ioadapter.New(ctx, be, ioWorkers)
	defer io.Close()

	gov := backpressure.New(e.cfg.MemoryLimitMB, e.stats, logger.New("efspurge.backpressure"))
	proc := fileproc.New(e.cfg, io, e.stats, e.tracker, logger.New("efspurge.fileproc"), gov)
	scan := scanner.New(e.cfg, io, proc, e.stats, e.tracker, logger.New("efspurge.scanner"))
	reap := reaper.New(e.cfg, io, e.stats, e.tracker, logger.New("efspurge.reaper"), gov)

	debugVerbosity := false
	reporter := progress.New(e.cfg, e.stats, e.tracker, logger.New("efspurge.progress"), debugVerbosity)
	progCtx, progCancel := context.WithCancel(ctx)
	progDone := make(chan struct{})
	go func() {
		defer close(progDone)
		reporter.Run(progCtx)
	}()

	e.stats.SetPhase(stats.PhaseScanning)
	e.tracker.SetPhaseStart(ratetracker.PhaseScanning)
	scan.Scan(ctx, e.cfg.Root)
	e.stats.MarkScanningEnd()

	if e.cfg.RemoveEmptyDirs {
		e.stats.SetPhase(stats.PhaseRemovingEmptyDir)
		reap.Run(ctx)
	}

	e.stats.SetPhase(stats.PhaseCompleted)
	progCancel()
	<-progDone

	return nil
}

// RootNotFoundError is returned by Run when the configured root does not
// exist on disk, a fatal, construction-adjacent condition per §7.
type RootNotFoundError struct {
	Path string
}

func (e *RootNotFoundError) Error() string {
	return "root directory not found: " + e.Path
}

// SetupInterruptHandler returns a context cancelled on SIGINT/SIGTERM, so a
// run can exit gracefully with partial, durable work rather than
// terminating abruptly mid-syscall.
func SetupInterruptHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
