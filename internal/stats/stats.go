// Package stats holds the monotonic run counters and phase state described
// by the data model, guarded by a single mutex, plus the empty-directory
// set (deduplicated, same mutex) and a separately-guarded active-directory
// set used only for stuck diagnostics.
package stats

import (
	"sync"
	"time"
)

// Phase names the current stage of a run.
type Phase string

const (
	PhaseInitializing     Phase = "initializing"
	PhaseScanning         Phase = "scanning"
	PhaseRemovingEmptyDir Phase = "removing_empty_dirs"
	PhaseCompleted        Phase = "completed"
)

// Snapshot is an immutable copy of the counters at one instant, safe to log
// or hand to the progress reporter without holding any lock.
type Snapshot struct {
	Phase Phase

	FilesScanned         int64
	FilesToPurge         int64
	FilesPurged          int64
	DirsScanned          int64
	SymlinksSkipped      int64
	SpecialFilesSkipped  int64
	Errors               int64
	BytesFreed           int64
	MemoryBackpressure   int64
	EmptyDirsToDelete    int64
	EmptyDirsDeleted     int64

	StartTime       time.Time
	ScanningEndTime time.Time // zero if scanning has not finished yet
}

// Stats is the run's mutable counter block. The zero value is not usable;
// construct with New.
type Stats struct {
	mu sync.Mutex

	phase Phase

	filesScanned        int64
	filesToPurge        int64
	filesPurged         int64
	dirsScanned         int64
	symlinksSkipped     int64
	specialFilesSkipped int64
	errors              int64
	bytesFreed          int64
	memoryBackpressure  int64
	emptyDirsToDelete   int64
	emptyDirsDeleted    int64

	startTime       time.Time
	scanningEndTime time.Time

	emptyDirs map[string]struct{}

	activeMu  sync.Mutex
	activeDir map[string]struct{}
}

// New returns a Stats with phase initializing and start_time set to now.
func New() *Stats {
	return &Stats{
		phase:     PhaseInitializing,
		startTime: time.Now(),
		emptyDirs: make(map[string]struct{}),
		activeDir: make(map[string]struct{}),
	}
}

// SetPhase records the current phase label. Called only by the orchestrator.
func (s *Stats) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// MarkScanningEnd records scanning_end_time exactly once, at the moment
// scanning returns to the orchestrator. Subsequent calls are no-ops so that
// the figure cannot be overwritten by a later, unrelated call.
func (s *Stats) MarkScanningEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanningEndTime.IsZero() {
		s.scanningEndTime = time.Now()
	}
}

// IncFilesScanned increments files_scanned by one.
func (s *Stats) IncFilesScanned() {
	s.mu.Lock()
	s.filesScanned++
	s.mu.Unlock()
}

// IncFilesToPurge increments files_to_purge by one.
func (s *Stats) IncFilesToPurge() {
	s.mu.Lock()
	s.filesToPurge++
	s.mu.Unlock()
}

// IncFilesPurgedAndBytes increments files_purged and adds size to bytes_freed
// atomically with respect to one another (both under the same lock
// acquisition, per invariant 7: bytes_freed reflects st_size at the moment
// of the successful unlink only).
func (s *Stats) IncFilesPurgedAndBytes(size int64) {
	s.mu.Lock()
	s.filesPurged++
	s.bytesFreed += size
	s.mu.Unlock()
}

// IncDirsScanned increments dirs_scanned by one.
func (s *Stats) IncDirsScanned() {
	s.mu.Lock()
	s.dirsScanned++
	s.mu.Unlock()
}

// IncSymlinksSkipped increments symlinks_skipped by one.
func (s *Stats) IncSymlinksSkipped() {
	s.mu.Lock()
	s.symlinksSkipped++
	s.mu.Unlock()
}

// IncSpecialFilesSkipped increments special_files_skipped by one.
func (s *Stats) IncSpecialFilesSkipped() {
	s.mu.Lock()
	s.specialFilesSkipped++
	s.mu.Unlock()
}

// IncErrors increments errors by one.
func (s *Stats) IncErrors() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// IncMemoryBackpressureEvents increments memory_backpressure_events by one.
func (s *Stats) IncMemoryBackpressureEvents() {
	s.mu.Lock()
	s.memoryBackpressure++
	s.mu.Unlock()
}

// IncEmptyDirsToDelete increments empty_dirs_to_delete by one. This is the
// attempt counter: both dry-run and live runs advance it identically, per
// the spec's resolution of the attempts-vs-completions ambiguity.
func (s *Stats) IncEmptyDirsToDelete() {
	s.mu.Lock()
	s.emptyDirsToDelete++
	s.mu.Unlock()
}

// IncEmptyDirsDeleted increments empty_dirs_deleted by one; live mode only.
func (s *Stats) IncEmptyDirsDeleted() {
	s.mu.Lock()
	s.emptyDirsDeleted++
	s.mu.Unlock()
}

// EmptyDirsToDelete returns the current attempt count, used by the reaper
// to enforce the rate limit against attempts rather than completions.
func (s *Stats) EmptyDirsToDelete() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emptyDirsToDelete
}

// AddEmptyDir inserts dir into the empty-directory set, deduplicating by
// value. Returns true if it was newly inserted.
func (s *Stats) AddEmptyDir(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emptyDirs[dir]; exists {
		return false
	}
	s.emptyDirs[dir] = struct{}{}
	return true
}

// EmptyDirs returns a snapshot slice of the empty-directory set.
func (s *Stats) EmptyDirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.emptyDirs))
	for d := range s.emptyDirs {
		out = append(out, d)
	}
	return out
}

// ActiveDirAdd registers dir as currently being scanned.
func (s *Stats) ActiveDirAdd(dir string) {
	s.activeMu.Lock()
	s.activeDir[dir] = struct{}{}
	s.activeMu.Unlock()
}

// ActiveDirRemove deregisters dir.
func (s *Stats) ActiveDirRemove(dir string) {
	s.activeMu.Lock()
	delete(s.activeDir, dir)
	s.activeMu.Unlock()
}

// ActiveDirSample returns up to n arbitrary entries from the active
// directory set, for the stuck detector's diagnostic payload.
func (s *Stats) ActiveDirSample(n int) []string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	out := make([]string, 0, n)
	for d := range s.activeDir {
		if len(out) >= n {
			break
		}
		out = append(out, d)
	}
	return out
}

// Snapshot returns an immutable copy of all counters and phase state.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:               s.phase,
		FilesScanned:        s.filesScanned,
		FilesToPurge:        s.filesToPurge,
		FilesPurged:         s.filesPurged,
		DirsScanned:         s.dirsScanned,
		SymlinksSkipped:     s.symlinksSkipped,
		SpecialFilesSkipped: s.specialFilesSkipped,
		Errors:              s.errors,
		BytesFreed:          s.bytesFreed,
		MemoryBackpressure:  s.memoryBackpressure,
		EmptyDirsToDelete:   s.emptyDirsToDelete,
		EmptyDirsDeleted:    s.emptyDirsDeleted,
		StartTime:           s.startTime,
		ScanningEndTime:     s.scanningEndTime,
	}
}

// FilesPerSecond divides files_scanned by the scanning-phase duration if it
// has ended, else by elapsed time since start — per §4.3, this always uses
// scanning_end_time once known so reap-phase duration does not deflate the
// scan throughput figure. The numerator is files_scanned, not files_purged:
// this is the scan throughput figure, and must keep moving during a dry run
// (where files_purged stays zero for the whole run) and while most scanned
// files are simply too new to purge.
func (snap Snapshot) FilesPerSecond() float64 {
	var elapsed time.Duration
	if !snap.ScanningEndTime.IsZero() {
		elapsed = snap.ScanningEndTime.Sub(snap.StartTime)
	} else {
		elapsed = time.Since(snap.StartTime)
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(snap.FilesScanned) / elapsed.Seconds()
}

// DirsPerSecond divides empty_dirs_deleted by total elapsed time since
// start, used during the removing_empty_dirs phase.
func (snap Snapshot) DirsPerSecond() float64 {
	elapsed := time.Since(snap.StartTime)
	if elapsed <= 0 {
		return 0
	}
	return float64(snap.EmptyDirsDeleted) / elapsed.Seconds()
}
