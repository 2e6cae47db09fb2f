// Package scanner implements the recursive directory scanner (§4.6) and its
// subdirectory dispatcher (§4.7), kept together in one package exactly as
// the teacher keeps its Scanner and parallel-walk logic adjacent — the
// dispatcher is the scanner's recursion strategy, not an independent
// component with its own lifecycle.
package scanner

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/ferrors"
	"github.com/efspurge/efspurge/internal/fileproc"
	"github.com/efspurge/efspurge/internal/ioadapter"
	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/ratetracker"
	"github.com/efspurge/efspurge/internal/stats"
)

// Scanner recursively enumerates a directory tree, streaming file work to
// a Processor and subdirectory work to its own bounded dispatcher.
type Scanner struct {
	cfg     *config.Config
	io      *ioadapter.Adapter
	proc    *fileproc.Processor
	stats   *stats.Stats
	tracker *ratetracker.Tracker
	log     *logger.Logger

	subdirSem *semaphore.Weighted
}

// New returns a Scanner wired to the given collaborators. The subdirectory
// dispatcher semaphore capacity is cfg.MaxConcurrentSubdirs.
func New(cfg *config.Config, io *ioadapter.Adapter, proc *fileproc.Processor, st *stats.Stats, tracker *ratetracker.Tracker, log *logger.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		io:        io,
		proc:      proc,
		stats:     st,
		tracker:   tracker,
		log:       log,
		subdirSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentSubdirs)),
	}
}

// Scan enters directory as the root scan entry point: no dispatcher slot is
// held on entry.
func (s *Scanner) Scan(ctx context.Context, directory string) {
	s.scan(ctx, directory, false)
}

// scan enters directory. heldSlot indicates whether the calling goroutine
// already holds a subdirectory-dispatcher slot (i.e. was itself dispatched)
// — per §4.6 step 5, such a call must process its own children sequentially
// rather than re-entering the dispatcher, to avoid a self-deadlock on the
// dispatcher's concurrency gate.
func (s *Scanner) scan(ctx context.Context, directory string, heldSlot bool) {
	if ctx.Err() != nil {
		return
	}

	s.stats.ActiveDirAdd(directory)
	defer s.stats.ActiveDirRemove(directory)

	s.stats.IncDirsScanned()
	s.tracker.Record(ratetracker.PhaseScanning, ratetracker.MetricDirs, 1)

	entries, err := s.io.ScanDir(ctx, directory)
	if err != nil {
		s.reportDirError(directory, err)
		return
	}

	var fileBuf []string
	var subdirs []string

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.IsSymlink {
			s.stats.IncSymlinksSkipped()
			continue
		}
		if e.IsFileNoFollow {
			fileBuf = append(fileBuf, e.Path)
			if len(fileBuf) >= s.cfg.TaskBatchSize {
				s.drain(ctx, fileBuf)
				fileBuf = fileBuf[:0]
			}
			continue
		}
		if e.IsDirNoFollow {
			subdirs = append(subdirs, e.Path)
			continue
		}
		s.stats.IncSpecialFilesSkipped()
	}

	// The buffer must be cleared even if the drain above failed for a
	// prior batch; draining is a gather that never cancels siblings, so
	// there is nothing further to recover here.
	if len(fileBuf) > 0 {
		s.drain(ctx, fileBuf)
	}

	if len(subdirs) > 0 {
		if heldSlot {
			for _, d := range subdirs {
				s.scan(ctx, d, true)
			}
		} else {
			s.dispatch(ctx, subdirs)
		}
	}

	if s.cfg.RemoveEmptyDirs {
		s.checkEmpty(ctx, directory)
	}
}

// drain fans the buffered file paths out to the processor, gather-style:
// it collects every result and never cancels siblings on an individual
// failure (the processor itself never returns an error).
func (s *Scanner) drain(ctx context.Context, paths []string) {
	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			s.proc.Process(ctx, path)
		}(p)
	}
	wg.Wait()
}

// checkEmpty re-scans directory to decide whether it should be registered
// as empty. Only the registration (AddEmptyDir) runs under the statistics
// mutex; the re-scan itself runs outside it, so an entry created between
// the re-scan and the registration is not seen here. The reaper re-scans
// every candidate again before removing it.
func (s *Scanner) checkEmpty(ctx context.Context, directory string) {
	if s.cfg.IsRoot(directory) {
		return
	}
	entries, err := s.io.ScanDir(ctx, directory)
	if err != nil {
		return
	}
	if len(entries) == 0 {
		s.stats.AddEmptyDir(directory)
	}
}

func (s *Scanner) reportDirError(directory string, err error) {
	switch ferrors.Classify(err) {
	case ferrors.KindFileRace:
		return
	default:
		s.stats.IncErrors()
		s.log.Warning("failed to scan directory", logger.F("path", directory), logger.WithError(err))
	}
}

// dispatch hands subdirs to the subdirectory dispatcher, maintaining
// constant concurrency up to cfg.MaxConcurrentSubdirs (§4.7): it never
// materializes all child scans up front, tops up the in-flight set from a
// pending queue as slots free, and lets a slow subtree proceed without
// blocking unrelated siblings.
func (s *Scanner) dispatch(ctx context.Context, subdirs []string) {
	pending := append([]string(nil), subdirs...)
	done := make(chan struct{}, len(subdirs))
	inFlight := 0

	// emergencyIterations guards against a degenerate infinite spin; it is
	// sized generously relative to any plausible subdirectory count.
	emergencyIterations := len(subdirs)*2 + 1000
	iterations := 0

	for len(pending) > 0 || inFlight > 0 {
		iterations++
		if iterations > emergencyIterations && emergencyIterations > 0 {
			s.log.Error("subdirectory dispatcher exceeded emergency iteration bound",
				logger.F("path_count", len(subdirs)))
			return
		}

		for len(pending) > 0 {
			if !s.subdirSem.TryAcquire(1) {
				break
			}
			next := pending[0]
			pending = pending[1:]
			inFlight++
			go func(dir string) {
				defer s.subdirSem.Release(1)
				s.scan(ctx, dir, true)
				done <- struct{}{}
			}(next)
		}

		if inFlight == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			// Drain remaining completions so in-flight goroutines can
			// release their semaphore slots cleanly, then return.
			for inFlight > 0 {
				<-done
				inFlight--
			}
			return
		case <-done:
			inFlight--
		}
	}
}
