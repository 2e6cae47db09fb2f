// Package reaper implements the two-phase post-order empty-directory
// reaper with cascading parent collapse (§4.8): an initial deepest-first
// pass over directories discovered empty during scanning, followed by
// cascading passes over parents that became empty as a result.
package reaper

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/efspurge/efspurge/internal/backpressure"
	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/ferrors"
	"github.com/efspurge/efspurge/internal/ioadapter"
	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/ratetracker"
	"github.com/efspurge/efspurge/internal/stats"
)

// cascadeIterationLogEvery logs an observability line every N cascade
// iterations, purely as a progress signal on pathological trees.
const cascadeIterationLogEvery = 100

// memoryCheckEvery mirrors the reference implementation's cadence of
// checking memory pressure every 1000 directories processed by the removal
// loop itself, so the cooperative pause actually throttles the goroutine
// doing the rmdir calls.
const memoryCheckEvery = 1000

// Reaper owns the processed-path bookkeeping that prevents a directory from
// being reconsidered once handled. Its rmdir calls run one at a time and are
// not gated by a semaphore.
type Reaper struct {
	cfg     *config.Config
	io      *ioadapter.Adapter
	stats   *stats.Stats
	tracker *ratetracker.Tracker
	log     *logger.Logger
	gov     *backpressure.Governor

	processed     map[string]struct{}
	processedSeen int
}

// New returns a Reaper wired to the given collaborators. gov is polled from
// this package's own pass loop (every memoryCheckEvery directories).
func New(cfg *config.Config, io *ioadapter.Adapter, st *stats.Stats, tracker *ratetracker.Tracker, log *logger.Logger, gov *backpressure.Governor) *Reaper {
	return &Reaper{
		cfg:       cfg,
		io:        io,
		stats:     st,
		tracker:   tracker,
		log:       log,
		gov:       gov,
		processed: make(map[string]struct{}),
	}
}

// Run executes both reaping passes over the empty-directory set already
// registered in stats. It is only meaningful when RemoveEmptyDirs is set;
// callers gate that at the orchestrator level.
func (r *Reaper) Run(ctx context.Context) {
	r.tracker.SetPhaseStart(ratetracker.PhaseRemovingEmptyDir)

	cohort := r.stats.EmptyDirs()
	newParents := r.pass(ctx, cohort)

	iteration := 0
	for len(newParents) > 0 {
		if ctx.Err() != nil {
			return
		}
		iteration++
		if iteration%cascadeIterationLogEvery == 0 {
			r.log.Info("empty-directory cascade still running",
				logger.F("iteration", iteration),
				logger.F("pending_parents", len(newParents)))
		}
		newParents = r.pass(ctx, newParents)
	}
}

// pass sorts candidates deepest-first and applies the shared per-directory
// steps, returning the set of parents newly discovered empty as a result
// (candidates for the next cascade iteration).
func (r *Reaper) pass(ctx context.Context, candidates []string) []string {
	sortDeepestFirst(candidates)

	var newParents []string
	seenThisPass := make(map[string]struct{})

	for _, dir := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		if _, ok := r.processed[dir]; ok {
			continue
		}

		if r.rateLimitReached() {
			r.log.Info("empty-directory deletion rate limit reached; stopping pass",
				logger.F("limit", r.cfg.MaxEmptyDirsToDelete))
			return nil
		}

		r.processedSeen++
		if r.processedSeen%memoryCheckEvery == 0 {
			r.gov.Check()
		}

		parent := r.processOne(ctx, dir)
		if parent != "" {
			if _, dup := seenThisPass[parent]; !dup {
				seenThisPass[parent] = struct{}{}
				newParents = append(newParents, parent)
			}
		}
	}

	return newParents
}

// processOne applies steps 3-6 of pass 1 (they are shared verbatim by the
// cascade) to a single directory and returns its parent if the parent
// newly became empty as a result, or "" otherwise.
func (r *Reaper) processOne(ctx context.Context, dir string) string {
	resolved := resolvePath(dir)
	if r.cfg.IsRoot(resolved) {
		r.processed[dir] = struct{}{}
		return ""
	}

	entries, err := r.io.ScanDir(ctx, dir)
	if err != nil {
		r.handleError(dir, err)
		return ""
	}
	if len(entries) != 0 {
		// A concurrent writer added something; no longer a candidate.
		r.processed[dir] = struct{}{}
		return ""
	}

	r.stats.IncEmptyDirsToDelete()
	if !r.cfg.DryRun {
		if err := r.io.Rmdir(ctx, dir); err != nil {
			r.handleError(dir, err)
			return ""
		}
		r.stats.IncEmptyDirsDeleted()
		r.tracker.Record(ratetracker.PhaseRemovingEmptyDir, ratetracker.MetricDirs, 1)
	}

	r.processed[dir] = struct{}{}

	parent := filepath.Dir(dir)
	if _, done := r.processed[parent]; done {
		return ""
	}
	if r.cfg.IsRoot(resolvePath(parent)) {
		return ""
	}
	parentEntries, err := r.io.ScanDir(ctx, parent)
	if err != nil || len(parentEntries) != 0 {
		return ""
	}
	return parent
}

func (r *Reaper) rateLimitReached() bool {
	if r.cfg.MaxEmptyDirsToDelete == 0 {
		return false
	}
	return r.stats.EmptyDirsToDelete() >= int64(r.cfg.MaxEmptyDirsToDelete)
}

func (r *Reaper) handleError(dir string, err error) {
	r.processed[dir] = struct{}{}
	if ferrors.IsRace(err) {
		return
	}
	r.stats.IncErrors()
	r.log.Warning("failed to reap directory", logger.F("path", dir), logger.WithError(err))
}

// resolvePath is a best-effort symlink resolution used only to compare
// against the configured root; a failure (e.g. the path was just removed
// by a concurrent writer) falls back to the cleaned path, which still
// compares correctly against a root that was itself resolved at
// construction.
func resolvePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

// sortDeepestFirst sorts paths by path-component count descending, the
// post-order guarantee: every descendant is considered before its parent.
func sortDeepestFirst(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return componentCount(paths[i]) > componentCount(paths[j])
	})
}

func componentCount(p string) int {
	return strings.Count(filepath.Clean(p), string(filepath.Separator))
}
