// Package statestore performs the atomic, fsync'd load/save of a run's
// state.json that every reader relies on for a crash-consistent view.
package statestore

import (
	"io"
	"os"
	"path/filepath"

	"github.com/swarmguard/orch/internal/orcherr"
	"github.com/swarmguard/orch/internal/pathguard"
	"github.com/swarmguard/orch/internal/state"
)

const fileName = "state.json"

func statePath(runDir string) string { return filepath.Join(runDir, fileName) }

// Load reads and strictly decodes state.json from runDir.
func Load(runDir string) (*state.RunState, error) {
	p := statePath(runDir)
	f, err := pathguard.OpenReadGuarded(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcherr.State("missing state.json in %s", runDir)
		}
		return nil, orcherr.StateWrap(err, "failed to open state.json")
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, orcherr.StateWrap(err, "failed to read state.json")
	}
	runID := filepath.Base(filepath.Clean(runDir))
	return state.Decode(raw, runDir, runID)
}

// SaveAtomic serializes rs and writes it to state.json via write-tmp,
// fsync, rename, fsync-directory. The temp file is removed on any error
// before rename completes.
func SaveAtomic(runDir string, rs *state.RunState) error {
	buf, err := state.Encode(rs)
	if err != nil {
		return err
	}

	final := statePath(runDir)
	tmp := final + ".tmp"

	if pathguard.HasSymlinkAncestor(tmp) {
		return orcherr.OS("state path must not include symlink: %s", tmp)
	}
	if pathguard.IsSymlink(tmp) {
		return orcherr.OS("state tmp path must not be symlink: %s", tmp)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return orcherr.OSWrap(err, "failed to create state.json.tmp")
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return orcherr.OSWrap(err, "failed to write state.json.tmp")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return orcherr.OSWrap(err, "failed to fsync state.json.tmp")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return orcherr.OSWrap(err, "failed to close state.json.tmp")
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return orcherr.OSWrap(err, "failed to rename state.json.tmp")
	}

	dir, err := os.Open(runDir)
	if err != nil {
		return orcherr.OSWrap(err, "failed to open run directory for fsync")
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return orcherr.OSWrap(err, "failed to fsync run directory")
	}
	return nil
}
