// Command efspurge purges old files (and, optionally, the empty
// directories left behind) from a large, high-latency network file system
// tree. parseArguments defines the full flag set and its environment
// fallbacks.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/efspurge/efspurge/internal/config"
	"github.com/efspurge/efspurge/internal/engine"
	"github.com/efspurge/efspurge/internal/logger"
)

const version = "efspurge 0.1.0"

// cliFlags mirrors the parsed command-line surface before validation.
type cliFlags struct {
	maxAgeDays             float64
	maxConcurrency         int
	maxConcurrencyScanning int
	maxConcurrencyDeletion int
	memoryLimitMB          int
	taskBatchSize          int
	dryRun                 bool
	logLevel               string
	removeEmptyDirs        bool
	maxEmptyDirsToDelete   int
	maxConcurrentSubdirs   int
	showVersion            bool

	maxConcurrencySet bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses arguments, validates configuration, and executes one purge
// run, returning the process exit code: 0 on success (even with per-file
// errors counted), 1 on fatal error, 130 on interactive interrupt.
func run(args []string) int {
	flags, root, err := parseArguments(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "efspurge: %v\n", err)
		return 1
	}
	if flags.showVersion {
		fmt.Println(version)
		return 0
	}
	if root == "" {
		fmt.Fprintln(os.Stderr, "efspurge: missing required path argument")
		return 1
	}

	level, err := logger.ParseLevel(flags.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "efspurge: %v\n", err)
		return 1
	}
	logger.Configure(level, os.Stdout)
	log := logger.New("efspurge.cli")

	if flags.maxConcurrencySet {
		log.Warning("--max-concurrency is deprecated; use --max-concurrency-scanning and --max-concurrency-deletion",
			logger.F("value", flags.maxConcurrency))
	}

	absRoot, err := resolveAbs(root)
	if err != nil {
		log.Critical("invalid root path", logger.WithError(err))
		return 1
	}

	cfg, err := config.New(absRoot,
		config.WithMaxAgeDays(flags.maxAgeDays),
		config.WithMaxConcurrencyScanning(flags.maxConcurrencyScanning),
		config.WithMaxConcurrencyDeletion(flags.maxConcurrencyDeletion),
		config.WithTaskBatchSize(flags.taskBatchSize),
		config.WithMaxConcurrentSubdirs(flags.maxConcurrentSubdirs),
		config.WithMemoryLimitMB(flags.memoryLimitMB),
		config.WithMaxEmptyDirsToDelete(flags.maxEmptyDirsToDelete),
		config.WithDryRun(flags.dryRun),
		config.WithRemoveEmptyDirs(flags.removeEmptyDirs),
	)
	if err != nil {
		log.Critical("refusing to run", logger.WithError(err))
		return 1
	}

	ctx, cancel := engine.SetupInterruptHandler()
	defer cancel()

	eng := engine.New(cfg, logger.New("efspurge.engine"))
	runErr := eng.Run(ctx)

	snap := eng.Stats().Snapshot()
	log.Info("run complete",
		logger.F("phase", string(snap.Phase)),
		logger.F("files_scanned", snap.FilesScanned),
		logger.F("files_to_purge", snap.FilesToPurge),
		logger.F("files_purged", snap.FilesPurged),
		logger.F("dirs_scanned", snap.DirsScanned),
		logger.F("empty_dirs_to_delete", snap.EmptyDirsToDelete),
		logger.F("empty_dirs_deleted", snap.EmptyDirsDeleted),
		logger.F("bytes_freed", snap.BytesFreed),
		logger.F("errors", snap.Errors),
	)

	if runErr != nil {
		log.Critical("run failed", logger.WithError(runErr))
		return 1
	}
	if ctx.Err() != nil {
		return 130
	}
	return 0
}

// parseArguments parses argv and merges in EFSPURGE_<UPPER_SNAKE>
// environment fallbacks: an env value is used as the default, then an
// explicit flag on the command line overrides it. It then returns the
// parsed flags and the positional path argument, unvalidated — validation
// is a separate pass performed by config.New.
func parseArguments(args []string) (*cliFlags, string, error) {
	fs := pflag.NewFlagSet("efspurge", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := &cliFlags{}

	fs.Float64Var(&flags.maxAgeDays, "max-age-days", envFloat("EFSPURGE_MAX_AGE_DAYS", 30.0), "age threshold in days")
	fs.IntVar(&flags.maxConcurrency, "max-concurrency", envInt("EFSPURGE_MAX_CONCURRENCY", 0), "deprecated: sets both scanning and deletion concurrency")
	fs.IntVar(&flags.maxConcurrencyScanning, "max-concurrency-scanning", envInt("EFSPURGE_MAX_CONCURRENCY_SCANNING", 1000), "scanning semaphore capacity")
	fs.IntVar(&flags.maxConcurrencyDeletion, "max-concurrency-deletion", envInt("EFSPURGE_MAX_CONCURRENCY_DELETION", 1000), "deletion semaphore capacity")
	fs.IntVar(&flags.memoryLimitMB, "memory-limit-mb", envInt("EFSPURGE_MEMORY_LIMIT_MB", 800), "soft memory back-pressure threshold in MB (0 disables)")
	fs.IntVar(&flags.taskBatchSize, "task-batch-size", envInt("EFSPURGE_TASK_BATCH_SIZE", 5000), "per-directory file buffer drain threshold")
	fs.BoolVar(&flags.dryRun, "dry-run", envBool("EFSPURGE_DRY_RUN", false), "report intended work without mutating state")
	fs.StringVar(&flags.logLevel, "log-level", envString("EFSPURGE_LOG_LEVEL", "INFO"), "DEBUG, INFO, WARNING, ERROR, or CRITICAL")
	fs.BoolVar(&flags.removeEmptyDirs, "remove-empty-dirs", envBool("EFSPURGE_REMOVE_EMPTY_DIRS", false), "remove directories that become or were already empty")
	fs.IntVar(&flags.maxEmptyDirsToDelete, "max-empty-dirs-to-delete", envInt("EFSPURGE_MAX_EMPTY_DIRS_TO_DELETE", 500), "per-run cap on empty-directory deletion attempts (0 unlimited)")
	fs.IntVar(&flags.maxConcurrentSubdirs, "max-concurrent-subdirs", envInt("EFSPURGE_MAX_CONCURRENT_SUBDIRS", 100), "subdirectory dispatcher in-flight cap")
	fs.BoolVar(&flags.showVersion, "version", envBool("EFSPURGE_VERSION", false), "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	_, maxConcurrencyEnvSet := os.LookupEnv("EFSPURGE_MAX_CONCURRENCY")
	flags.maxConcurrencySet = fs.Changed("max-concurrency") || maxConcurrencyEnvSet
	if flags.maxConcurrencySet {
		flags.maxConcurrencyScanning = flags.maxConcurrency
		flags.maxConcurrencyDeletion = flags.maxConcurrency
	}

	if flags.showVersion {
		return flags, "", nil
	}

	positional := fs.Args()
	if len(positional) == 0 {
		return flags, "", nil
	}
	return flags, positional[0], nil
}

func resolveAbs(path string) (string, error) {
	return filepath.Abs(path)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
