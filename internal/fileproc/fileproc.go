// Package fileproc implements the per-file processor: stat, age test, and
// optional unlink, each gated by independent scanning and deletion
// semaphores so a deletion-heavy workload cannot starve metadata scanning
// and vice versa (§4.5, §5).
package fileproc

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/efspurge/efspurge/internal/backpressure"
	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/ferrors"
	"github.com/efspurge/efspurge/internal/ioadapter"
	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/ratetracker"
	"github.com/efspurge/efspurge/internal/stats"
)

// memoryCheckEvery mirrors the reference implementation's cadence of
// calling the memory-pressure check every 1000 operations in the hot loop
// that actually allocates, rather than from a goroutine decoupled from it.
const memoryCheckEvery = 1000

// Processor owns the scanning and deletion semaphores and processes
// individual file paths against the I/O adapter.
type Processor struct {
	cfg     *config.Config
	io      *ioadapter.Adapter
	stats   *stats.Stats
	tracker *ratetracker.Tracker
	log     *logger.Logger
	gov     *backpressure.Governor

	scanSem *semaphore.Weighted
	delSem  *semaphore.Weighted

	processedCount int64
}

// New returns a Processor with independent scanning/deletion semaphore
// capacities taken from cfg. gov is polled from this package's own hot
// loop (every memoryCheckEvery files) so its cooperative pause actually
// throttles the goroutine generating memory pressure, per §4.4.
func New(cfg *config.Config, io *ioadapter.Adapter, st *stats.Stats, tracker *ratetracker.Tracker, log *logger.Logger, gov *backpressure.Governor) *Processor {
	return &Processor{
		cfg:     cfg,
		io:      io,
		stats:   st,
		tracker: tracker,
		log:     log,
		gov:     gov,
		scanSem: semaphore.NewWeighted(int64(cfg.MaxConcurrencyScanning)),
		delSem:  semaphore.NewWeighted(int64(cfg.MaxConcurrencyDeletion)),
	}
}

// Process runs the per-file pipeline for path, a regular file already
// classified by the scanner (no-follow). It never returns an error to its
// caller: a single bad file must not sink its batch. All outcomes are
// reflected purely through statistics counters and log lines, per the
// error handling design's result-value conversion of exception-for-control
// flow.
func (p *Processor) Process(ctx context.Context, path string) {
	if n := atomic.AddInt64(&p.processedCount, 1); n%memoryCheckEvery == 0 {
		p.gov.Check()
	}

	if err := p.scanSem.Acquire(ctx, 1); err != nil {
		return // context cancelled while waiting for a slot
	}
	defer p.scanSem.Release(1)

	meta, err := p.io.Stat(ctx, path)
	if err != nil {
		p.reportError("stat", path, err)
		return
	}
	p.stats.IncFilesScanned()
	p.tracker.Record(ratetracker.PhaseScanning, ratetracker.MetricFiles, 1)

	if meta.ModTime >= p.cfg.CutoffTime.Unix() {
		return
	}

	p.stats.IncFilesToPurge()
	if p.cfg.DryRun {
		return
	}

	if err := p.delSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.delSem.Release(1)

	if err := p.io.Unlink(ctx, path); err != nil {
		p.reportError("unlink", path, err)
		return
	}
	p.stats.IncFilesPurgedAndBytes(meta.Size)
	p.tracker.Record(ratetracker.PhaseDeletion, ratetracker.MetricFiles, 1)
}

func (p *Processor) reportError(op, path string, err error) {
	switch ferrors.Classify(err) {
	case ferrors.KindFileRace:
		// A concurrent deleter beat us to it; not counted as an error.
		return
	case ferrors.KindPermissionDenied:
		p.stats.IncErrors()
		p.log.Warning("permission denied", logger.F("op", op), logger.F("path", path), logger.WithError(err))
	default:
		p.stats.IncErrors()
		p.log.Error("file operation failed", logger.F("op", op), logger.F("path", path), logger.WithError(err))
	}
}
