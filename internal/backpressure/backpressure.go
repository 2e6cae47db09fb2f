// Package backpressure implements the memory back-pressure governor: a
// resident-set-size sampler that, when over a configured limit, warns at
// a bounded rate, pauses cooperatively, and issues a GC hint. Grounded on
// the teacher's internal/monitor resource sampler, narrowed from its full
// CPU/GC bottleneck dashboard down to the single RSS-vs-limit check the
// specification calls for.
package backpressure

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/efspurge/efspurge/internal/logger"
	"github.com/efspurge/efspurge/internal/stats"
)

// warnInterval is the minimum spacing between back-pressure warnings.
const warnInterval = 60 * time.Second

// pauseDuration is the cooperative sleep issued once RSS exceeds the limit.
const pauseDuration = 500 * time.Millisecond

// Governor samples resident memory and applies cooperative back-pressure.
// A zero-value MemoryLimitMB disables it entirely, per §4.4.
type Governor struct {
	limitMB int
	stats   *stats.Stats
	log     *logger.Logger

	mu       sync.Mutex
	lastWarn time.Time
}

// New returns a Governor for the given limit (megabytes; 0 disables it).
func New(limitMB int, st *stats.Stats, log *logger.Logger) *Governor {
	return &Governor{limitMB: limitMB, stats: st, log: log}
}

// Check is a no-op if the limit is 0. Otherwise it samples RSS; if it
// exceeds the limit, it increments the backpressure counter, warns at most
// once per 60s, sleeps 500ms, and issues a GC hint. The internal mutex
// serializes concurrent callers: checks never overlap, and each waiting
// caller takes its own sample once the previous one finishes, pausing in
// turn if RSS is still over the limit.
func (g *Governor) Check() {
	if g.limitMB == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rssMB := sampleRSSMB()
	if rssMB <= float64(g.limitMB) {
		return
	}

	g.stats.IncMemoryBackpressureEvents()

	now := time.Now()
	if now.Sub(g.lastWarn) >= warnInterval {
		g.lastWarn = now
		g.log.Warning("memory usage above configured limit; pausing",
			logger.F("memory_mb", rssMB),
			logger.F("limit_mb", g.limitMB),
		)
	}

	time.Sleep(pauseDuration)
	runtime.GC()
}

// CurrentRSSMB samples resident memory in megabytes, for the progress
// reporter's memory_mb / memory_usage_percent fields. It is safe to call
// regardless of whether the limit is 0.
func CurrentRSSMB() float64 {
	return sampleRSSMB()
}

// sampleRSSMB reads VmRSS from /proc/self/status on Linux; on platforms
// without that file it falls back to the Go runtime's reported Sys memory,
// which is a coarser but always-available proxy.
func sampleRSSMB() float64 {
	if f, err := os.Open("/proc/self/status"); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "VmRSS:") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				break
			}
			kb, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				break
			}
			return kb / 1024.0
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Sys) / (1024 * 1024)
}
