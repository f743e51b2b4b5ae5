// Package lock implements the run directory's exclusive advisory lock:
// O_CREAT|O_EXCL acquisition, mtime-based staleness recovery, and a
// race-safe release that only unlinks the file if it still is the one this
// process created.
package lock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/swarmguard/orch/internal/orcherr"
)

const fileName = ".lock"

// Handle represents a held run lock. Release must be called exactly once
// to give up ownership.
type Handle struct {
	path string
	file *os.File
	ino  uint64
	dev  uint64
}

// Options configures acquisition behavior.
type Options struct {
	StaleSec      int           // lock older than this is considered abandoned; default 3600
	Retries       int           // additional acquisition attempts after the first
	RetryInterval time.Duration // sleep between attempts; default 200ms
}

func (o Options) normalized() Options {
	if o.StaleSec <= 0 {
		o.StaleSec = 3600
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 200 * time.Millisecond
	}
	return o
}

// Acquire attempts to take the run lock in runDir, retrying on contention
// and reclaiming the lock file if it is older than StaleSec.
func Acquire(runDir string, opts Options) (*Handle, error) {
	opts = opts.normalized()
	lockPath := filepath.Join(runDir, fileName)

	attempt := 0
	for {
		fd, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			st, statErr := fd.Stat()
			if statErr != nil {
				fd.Close()
				return nil, orcherr.OSWrap(statErr, "failed to stat acquired lock")
			}
			sys := st.Sys().(*syscall.Stat_t)
			ino, dev := sys.Ino, uint64(sys.Dev)

			if _, writeErr := fd.WriteString(fmt.Sprintf("%d", os.Getpid())); writeErr != nil {
				fd.Close()
				if current, statErr := os.Stat(lockPath); statErr == nil {
					if cs, ok := current.Sys().(*syscall.Stat_t); ok && cs.Ino == ino && uint64(cs.Dev) == dev {
						os.Remove(lockPath)
					}
				}
				return nil, orcherr.OSWrap(writeErr, "failed to write lock pid")
			}
			slog.Info("lock acquired", "run_dir", runDir, "pid", os.Getpid())
			return &Handle{path: lockPath, file: fd, ino: ino, dev: dev}, nil
		}

		if !os.IsExist(err) {
			return nil, orcherr.OSWrap(err, "failed to create lock file")
		}

		if isStale(lockPath, opts.StaleSec) {
			slog.Warn("reclaiming stale lock", "run_dir", runDir, "stale_sec", opts.StaleSec)
			os.Remove(lockPath)
			continue
		}

		if attempt >= opts.Retries {
			slog.Error("lock conflict", "run_dir", runDir, "attempts", attempt+1)
			return nil, orcherr.RunConflict("run is locked by another process: %s", lockPath)
		}
		attempt++
		time.Sleep(opts.RetryInterval)
	}
}

func isStale(lockPath string, staleSec int) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > time.Duration(staleSec)*time.Second
}

// Release closes the lock file descriptor and unlinks the lock file only if
// it still has the inode/device this handle acquired, avoiding a race with
// a lock that was reclaimed as stale and re-created by another process in
// the interim.
func (h *Handle) Release() {
	h.file.Close()
	current, err := os.Stat(h.path)
	if err != nil {
		return
	}
	sys, ok := current.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	if sys.Ino == h.ino && uint64(sys.Dev) == h.dev {
		slog.Info("lock released", "path", h.path)
		os.Remove(h.path)
	}
}
