// Package backend provides the raw, unsuspending filesystem primitives the
// metadata I/O adapter offloads to its worker pool: scandir, stat, unlink,
// rmdir, islink, and exists. Grounded on the teacher's Backend interface
// (DeleteFile/DeleteDirectory over os.Remove), generalized from a
// deletion-only interface into the full read/write surface the scanner and
// reaper need.
package backend

import (
	"os"
)

// DirEntry carries what the scanner needs from a single scandir result,
// cached from the directory read so entries need not be re-stat-ed:
// path, and no-follow file/dir classification from the entry's own type
// bits (never the target of a symlink).
type DirEntry struct {
	Path          string
	IsFileNoFollow bool
	IsDirNoFollow  bool
	IsSymlink      bool
}

// FileMeta carries the subset of stat(2) the processor and reaper need.
type FileMeta struct {
	ModTime int64 // unix seconds
	Size    int64
}

// Backend is the synchronous filesystem surface. Implementations must be
// safe for concurrent use; the default implementation is a thin wrapper
// over the os package.
type Backend interface {
	// ScanDir lists the immediate children of path.
	ScanDir(path string) ([]DirEntry, error)
	// Stat returns metadata for path, following no symlinks.
	Stat(path string) (FileMeta, error)
	// Unlink removes a regular file.
	Unlink(path string) error
	// Rmdir removes an empty directory.
	Rmdir(path string) error
	// IsLink reports whether path is itself a symbolic link.
	IsLink(path string) (bool, error)
	// Exists reports whether path exists (following no symlinks at the
	// final component).
	Exists(path string) bool
}

// osBackend is the default Backend, implemented with the standard os
// package, exactly as the teacher's GenericBackend wraps os.Remove.
type osBackend struct{}

// New returns the default os-backed Backend.
func New() Backend {
	return &osBackend{}
}

func (osBackend) ScanDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		isSymlink := e.Type()&os.ModeSymlink != 0
		out = append(out, DirEntry{
			Path:           path + string(os.PathSeparator) + e.Name(),
			IsFileNoFollow: e.Type().IsRegular(),
			IsDirNoFollow:  e.IsDir() && !isSymlink,
			IsSymlink:      isSymlink,
		})
	}
	return out, nil
}

func (osBackend) Stat(path string) (FileMeta, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{ModTime: info.ModTime().Unix(), Size: info.Size()}, nil
}

func (osBackend) Unlink(path string) error {
	return os.Remove(path)
}

func (osBackend) Rmdir(path string) error {
	return os.Remove(path)
}

func (osBackend) IsLink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

func (osBackend) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
