// Package config assembles and validates the immutable run configuration
// described by the data model: the root path, the cutoff time derived from
// it, concurrency capacities, and the fixed system-path deny list. It
// generalizes the teacher's safety.IsSafePath/isParentOf containment check
// and validateConfig pass into a single constructor.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DenyList is the fixed set of system paths a root must not equal or nest
// within. It is never user-configurable.
var DenyList = []string{
	"/proc",
	"/sys",
	"/dev",
	"/run",
	"/var/run",
	"/boot",
	"/bin",
	"/sbin",
	"/lib",
	"/lib64",
	"/usr/bin",
	"/usr/sbin",
	"/usr/lib",
	"/etc",
}

// Config is the immutable run configuration. Once New returns successfully,
// none of these fields change for the lifetime of the run.
type Config struct {
	Root     string
	Resolved string // Root with symlinks resolved, used for root-identity comparisons

	MaxAgeDays float64
	CutoffTime time.Time

	MaxConcurrencyScanning int
	MaxConcurrencyDeletion int
	TaskBatchSize          int
	MaxConcurrentSubdirs   int
	MemoryLimitMB          int
	MaxEmptyDirsToDelete   int

	DryRun          bool
	RemoveEmptyDirs bool

	ProgressInterval time.Duration
}

// Option mutates a Config during construction. Each option corresponds to
// one CLI flag / env-var fallback.
type Option func(*Config)

// WithMaxAgeDays sets the age threshold in days, must be >= 0.
func WithMaxAgeDays(days float64) Option {
	return func(c *Config) { c.MaxAgeDays = days }
}

// WithMaxConcurrencyScanning sets the scanning semaphore capacity.
func WithMaxConcurrencyScanning(n int) Option {
	return func(c *Config) { c.MaxConcurrencyScanning = n }
}

// WithMaxConcurrencyDeletion sets the deletion semaphore capacity.
func WithMaxConcurrencyDeletion(n int) Option {
	return func(c *Config) { c.MaxConcurrencyDeletion = n }
}

// WithTaskBatchSize sets the per-directory file buffer drain threshold.
func WithTaskBatchSize(n int) Option {
	return func(c *Config) { c.TaskBatchSize = n }
}

// WithMaxConcurrentSubdirs sets the subdirectory dispatcher's in-flight cap.
func WithMaxConcurrentSubdirs(n int) Option {
	return func(c *Config) { c.MaxConcurrentSubdirs = n }
}

// WithMemoryLimitMB sets the back-pressure threshold; 0 disables it.
func WithMemoryLimitMB(mb int) Option {
	return func(c *Config) { c.MemoryLimitMB = mb }
}

// WithMaxEmptyDirsToDelete sets the per-run reap attempt cap; 0 is unlimited.
func WithMaxEmptyDirsToDelete(n int) Option {
	return func(c *Config) { c.MaxEmptyDirsToDelete = n }
}

// WithDryRun toggles dry-run mode.
func WithDryRun(dryRun bool) Option {
	return func(c *Config) { c.DryRun = dryRun }
}

// WithRemoveEmptyDirs toggles empty-directory reaping.
func WithRemoveEmptyDirs(remove bool) Option {
	return func(c *Config) { c.RemoveEmptyDirs = remove }
}

// WithProgressInterval overrides the default 30s progress tick.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Config) { c.ProgressInterval = d }
}

func defaults() Config {
	return Config{
		MaxAgeDays:             30.0,
		MaxConcurrencyScanning: 1000,
		MaxConcurrencyDeletion: 1000,
		TaskBatchSize:          5000,
		MaxConcurrentSubdirs:   100,
		MemoryLimitMB:          800,
		MaxEmptyDirsToDelete:   500,
		ProgressInterval:       30 * time.Second,
	}
}

// New builds and validates a Config for root, applying opts over the
// defaults in spec order. It fails closed: any invalid parameter or a root
// inside the deny list is reported rather than silently clamped, matching
// the DenyListViolation / InvalidParameter error kinds.
func New(root string, opts ...Option) (*Config, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("invalid parameter: root %q must be an absolute path", root)
	}

	c := defaults()
	c.Root = filepath.Clean(root)
	for _, opt := range opts {
		opt(&c)
	}

	if err := validate(&c); err != nil {
		return nil, err
	}

	resolved, err := filepath.EvalSymlinks(c.Root)
	if err != nil {
		// The root may not exist yet at construction time in some callers
		// (tests build the config before creating the tree); fall back to
		// the cleaned path and let the pre-scan existence check in the
		// engine surface RootNotFound.
		resolved = c.Root
	}
	c.Resolved = resolved

	if violatesDenyList(c.Root) || violatesDenyList(c.Resolved) {
		return nil, fmt.Errorf("deny list violation: %q is within a protected system path", root)
	}

	c.CutoffTime = time.Now().Add(-time.Duration(c.MaxAgeDays * float64(24*time.Hour)))

	return &c, nil
}

func validate(c *Config) error {
	switch {
	case c.MaxAgeDays < 0:
		return fmt.Errorf("invalid parameter: max_age_days must be >= 0, got %v", c.MaxAgeDays)
	case c.MaxConcurrencyScanning < 1:
		return fmt.Errorf("invalid parameter: max_concurrency_scanning must be >= 1, got %d", c.MaxConcurrencyScanning)
	case c.MaxConcurrencyDeletion < 1:
		return fmt.Errorf("invalid parameter: max_concurrency_deletion must be >= 1, got %d", c.MaxConcurrencyDeletion)
	case c.TaskBatchSize < 1:
		return fmt.Errorf("invalid parameter: task_batch_size must be >= 1, got %d", c.TaskBatchSize)
	case c.MaxConcurrentSubdirs < 1:
		return fmt.Errorf("invalid parameter: max_concurrent_subdirs must be >= 1, got %d", c.MaxConcurrentSubdirs)
	case c.MemoryLimitMB < 0:
		return fmt.Errorf("invalid parameter: memory_limit_mb must be >= 0, got %d", c.MemoryLimitMB)
	case c.MaxEmptyDirsToDelete < 0:
		return fmt.Errorf("invalid parameter: max_empty_dirs_to_delete must be >= 0, got %d", c.MaxEmptyDirsToDelete)
	}
	return nil
}

// IsWithinDenyList reports whether p equals or is nested within any deny
// listed path, using the same containment rule the deny-list closure law
// requires: p == d or p starts with d + "/".
func IsWithinDenyList(p string) bool {
	return violatesDenyList(filepath.Clean(p))
}

func violatesDenyList(p string) bool {
	for _, d := range DenyList {
		if p == d || strings.HasPrefix(p, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// IsRoot reports whether p, once resolved, names the same directory as the
// configured (resolved) root — used by the scanner and reaper to guarantee
// the root is never removed regardless of emptiness.
func (c *Config) IsRoot(resolvedPath string) bool {
	return resolvedPath == c.Resolved
}
