// Package progress implements the periodic progress reporter and stuck
// detector (§4.9): a background task that wakes every progress_interval
// and emits one structured log record per tick, plus hang detection via
// no-progress counters compared tick-over-tick. Grounded on the shape of
// the teacher's Reporter (elapsed/rate/ETA bookkeeping), generalized from
// a human \r-overwritten line into one JSON record per tick, per the
// external interface's log sink.
package progress

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/efspurge/efspurge/internal/backpressure"
	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/ratetracker"
	"github.com/efspurge/efspurge/internal/stats"
)

// stallThreshold is the number of consecutive equal-counter ticks that
// trigger a stuck warning (2 ticks, >= 60s by default at a 30s interval).
const stallThreshold = 2

// Reporter periodically snapshots Stats and logs a progress record. It
// also tracks stall state for the stuck detector.
type Reporter struct {
	cfg     *config.Config
	stats   *stats.Stats
	tracker *ratetracker.Tracker
	log     *logger.Logger
	debug   bool

	lastScanProgress int64
	lastReapProgress int64
	stallCount       int
}

// New returns a Reporter. debug controls whether the windowed rates, peak
// rates, memory_mb_per_1k_files, and bytes_freed_human fields are included;
// no per-phase rate, active-task, or concurrency-utilization fields are
// emitted.
func New(cfg *config.Config, st *stats.Stats, tracker *ratetracker.Tracker, log *logger.Logger, debug bool) *Reporter {
	return &Reporter{cfg: cfg, stats: st, tracker: tracker, log: log, debug: debug}
}

// Run blocks, ticking every cfg.ProgressInterval, until ctx is cancelled.
// It is meant to be launched in its own goroutine and cancelled by the
// orchestrator once the run completes.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EmitOnce()
		}
	}
}

// EmitOnce performs a single tick's worth of work: snapshot, log a
// progress record, and run stuck detection. Exported so tests can drive
// ticks deterministically instead of waiting on a real timer.
func (r *Reporter) EmitOnce() {
	snap := r.stats.Snapshot()

	fields := []logger.Field{
		logger.F("elapsed_seconds", time.Since(snap.StartTime).Seconds()),
		logger.F("phase", string(snap.Phase)),
		logger.F("errors", snap.Errors),
		logger.F("memory_backpressure_events", snap.MemoryBackpressure),
		logger.F("files_per_second", snap.FilesPerSecond()),
	}

	rssMB := backpressure.CurrentRSSMB()
	fields = append(fields, logger.F("memory_mb", rssMB))
	if r.cfg.MemoryLimitMB > 0 {
		fields = append(fields, logger.F("memory_usage_percent", 100*rssMB/float64(r.cfg.MemoryLimitMB)))
	} else {
		fields = append(fields, logger.F("memory_usage_percent", 0.0))
	}

	switch snap.Phase {
	case stats.PhaseScanning:
		fields = append(fields,
			logger.F("files_scanned", snap.FilesScanned),
			logger.F("files_purged", snap.FilesPurged),
			logger.F("dirs_scanned", snap.DirsScanned),
		)
		if snap.FilesToPurge != 0 {
			fields = append(fields, logger.F("files_to_purge", snap.FilesToPurge))
		}
	case stats.PhaseRemovingEmptyDir:
		fields = append(fields,
			logger.F("dirs_purged", snap.EmptyDirsDeleted),
			logger.F("dirs_to_purge", snap.EmptyDirsToDelete),
			logger.F("dirs_per_second", snap.DirsPerSecond()),
		)
	}

	if r.debug {
		fields = append(fields, r.debugFields(snap)...)
	}

	r.log.Info("progress", fields...)
	r.checkStuck(snap)
}

func (r *Reporter) debugFields(snap stats.Snapshot) []logger.Field {
	fields := []logger.Field{
		logger.F("files_rate_10s", r.tracker.GetRate(ratetracker.PhaseScanning, ratetracker.MetricFiles, 10*time.Second)),
		logger.F("files_rate_60s", r.tracker.GetRate(ratetracker.PhaseScanning, ratetracker.MetricFiles, 60*time.Second)),
		logger.F("dirs_rate_10s", r.tracker.GetRate(ratetracker.PhaseRemovingEmptyDir, ratetracker.MetricDirs, 10*time.Second)),
		logger.F("dirs_rate_60s", r.tracker.GetRate(ratetracker.PhaseRemovingEmptyDir, ratetracker.MetricDirs, 60*time.Second)),
	}

	for _, name := range []string{"scanning_files", "deletion_files", "reap_dirs"} {
		peak, at := r.tracker.PeakRate(name)
		if !at.IsZero() {
			fields = append(fields, logger.F("peak_"+name, peak))
		}
	}

	if snap.FilesScanned > 0 {
		mbPer1k := backpressure.CurrentRSSMB() / (float64(snap.FilesScanned) / 1000.0)
		fields = append(fields, logger.F("memory_mb_per_1k_files", mbPer1k))
	}

	fields = append(fields, logger.F("bytes_freed_human", humanize.Bytes(uint64(snap.BytesFreed))))

	return fields
}

// checkStuck compares the current phase's progress counter against the
// previous tick; an unchanged value for stallThreshold consecutive ticks
// emits a diagnostic warning but never aborts the run.
func (r *Reporter) checkStuck(snap stats.Snapshot) {
	var current int64
	switch snap.Phase {
	case stats.PhaseScanning:
		current = snap.FilesScanned + snap.DirsScanned
		if current == r.lastScanProgress {
			r.stallCount++
		} else {
			r.stallCount = 0
		}
		r.lastScanProgress = current
	case stats.PhaseRemovingEmptyDir:
		current = snap.EmptyDirsDeleted
		if current == r.lastReapProgress {
			r.stallCount++
		} else {
			r.stallCount = 0
		}
		r.lastReapProgress = current
	default:
		return
	}

	if r.stallCount < stallThreshold {
		return
	}

	active := r.stats.ActiveDirSample(10)
	r.log.Warning("no progress detected; filesystem may be unresponsive",
		logger.F("stalled_ticks", r.stallCount),
		logger.F("active_directories", active),
		logger.F("advisory", "check network filesystem health; the run will continue"),
	)
}
