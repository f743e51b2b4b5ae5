// Package cancel implements the cooperative, file-based cancellation
// sentinel a run watches for: the presence of a cancel.request file inside
// the run directory.
package cancel

import (
	"os"
	"path/filepath"

	"github.com/swarmguard/orch/internal/orcherr"
	"github.com/swarmguard/orch/internal/pathguard"
)

const fileName = "cancel.request"

func path(runDir string) string { return filepath.Join(runDir, fileName) }

// Requested reports whether a cancel has been requested for runDir. Fails
// closed: any ambiguity (symlink ancestry, stat error) reports false rather
// than risk cancelling a run the caller didn't ask to cancel, and rather
// than risk treating a symlink as a genuine request.
func Requested(runDir string) bool {
	p := path(runDir)
	if pathguard.HasSymlinkAncestor(p) {
		return false
	}
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && !pathguard.IsSymlink(p)
}

// Write creates (or truncates) the cancel.request sentinel.
func Write(runDir string) error {
	p := path(runDir)
	f, err := pathguard.OpenWriteTruncGuarded(p, 0o600)
	if err != nil {
		return orcherr.OSWrap(err, "cancel request path must be regular file")
	}
	defer f.Close()
	if _, err := f.WriteString("cancel requested\n"); err != nil {
		return orcherr.OSWrap(err, "failed to write cancel request")
	}
	return nil
}

// Clear best-effort removes the cancel.request sentinel, silently leaving
// it in place if it is a directory, already gone, or otherwise
// unremovable.
func Clear(runDir string) {
	p := path(runDir)
	if pathguard.HasSymlinkAncestor(p) {
		return
	}
	info, err := os.Lstat(p)
	if err != nil {
		return
	}
	if info.IsDir() {
		return
	}
	_ = os.Remove(p)
}
