// Package ferrors classifies filesystem errors into the handful of kinds
// the purge engine reacts to differently, per the error handling design:
// races are absorbed silently, permission and transient errors are counted
// and logged, and everything else falls back to a generic "unexpected"
// bucket that still never aborts a run.
package ferrors

import (
	"errors"
	"io/fs"
)

// Kind names one of the error categories the engine's components branch on.
type Kind int

const (
	// KindNone means no error occurred.
	KindNone Kind = iota
	// KindDenyListViolation is returned only during construction.
	KindDenyListViolation
	// KindInvalidParameter is returned only during construction.
	KindInvalidParameter
	// KindRootNotFound is returned only by the pre-scan existence check.
	KindRootNotFound
	// KindFileRace means the target vanished between observation and
	// operation; a concurrent deleter beat us to it. Silently absorbed.
	KindFileRace
	// KindPermissionDenied means the operating system refused the call.
	KindPermissionDenied
	// KindTransientOSError covers other os-level failures (I/O errors,
	// stale handles, ESTALE from the NFS server, and the like).
	KindTransientOSError
	// KindUnexpectedException covers anything that isn't a recognizable
	// OS error.
	KindUnexpectedException
)

// Classify maps a raw error returned by a filesystem call to the Kind that
// determines how a caller should react to it (§7 of the specification).
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, fs.ErrNotExist) {
		return KindFileRace
	}
	if errors.Is(err, fs.ErrPermission) {
		return KindPermissionDenied
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindTransientOSError
	}
	var linkErr *fs.LinkError
	if errors.As(err, &linkErr) {
		return KindTransientOSError
	}
	return KindUnexpectedException
}

// IsRace reports whether err should be absorbed silently as a benign race
// with a concurrent deleter rather than counted as an error.
func IsRace(err error) bool {
	return Classify(err) == KindFileRace
}
