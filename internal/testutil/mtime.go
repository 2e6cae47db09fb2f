package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteFileWithAge creates a file at dir/name with the given content and
// sets its mtime to age before now, for exercising age-threshold purge
// scenarios deterministically.
func WriteFileWithAge(t *testing.T, dir, name string, content []byte, age time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	TouchWithAge(t, path, age)
	return path
}

// TouchWithAge sets path's modification time to age before now.
func TouchWithAge(t *testing.T, path string, age time.Duration) {
	t.Helper()

	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime for %s: %v", path, err)
	}
}

// OldAge and NewAge match the end-to-end scenario convention in the
// testable-properties section: "old" means mtime 31 days in the past,
// "new" means effectively current.
const (
	OldAge = 31 * 24 * time.Hour
	NewAge = time.Minute
)
