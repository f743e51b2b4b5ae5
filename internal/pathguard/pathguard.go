// Package pathguard centralizes the filesystem-safety primitives every
// component touching the run directory relies on: refusing to follow
// symlinks anywhere in a path's ancestry, opening files with
// O_NOFOLLOW|O_NONBLOCK and confirming the resulting file descriptor really
// names a regular file before trusting it.
package pathguard

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsSymlink reports whether path itself is a symlink. Fails closed: any
// stat error other than "not found" is treated as "yes, symlink" so callers
// refuse to proceed rather than silently trusting an unreadable path.
func IsSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}
	return info.Mode()&os.ModeSymlink != 0
}

// HasSymlinkAncestor walks every ancestor directory of path (not path
// itself) and reports whether any of them is a symlink. Fails closed on any
// lstat error other than "not found".
func HasSymlinkAncestor(path string) bool {
	current := filepath.Dir(path)
	for {
		info, err := os.Lstat(current)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return true
			}
		} else if info.Mode()&os.ModeSymlink != 0 {
			return true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return false
		}
		current = parent
	}
}

// EnsureDirectory guards path against symlink ancestry/identity, creates it
// (and parents, if requested) if missing, and re-stats it to confirm the
// result really is a directory and not something else that raced in.
func EnsureDirectory(path string, parents bool) error {
	if HasSymlinkAncestor(path) {
		return errPath("path must not include symlink: " + path)
	}
	if IsSymlink(path) {
		return errPath("path must not be symlink: " + path)
	}
	var err error
	if parents {
		err = os.MkdirAll(path, 0o755)
	} else {
		err = os.Mkdir(path, 0o755)
		if errors.Is(err, os.ErrExist) {
			err = nil
		}
	}
	if err != nil {
		return errPathWrap(err, "failed to create directory path: "+path)
	}
	info, err := os.Lstat(path)
	if err != nil {
		return errPathWrap(err, "path must be directory: "+path)
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
		return errPath("path must be directory: " + path)
	}
	return nil
}

type guardError struct {
	msg string
	err error
}

func (e *guardError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}
func (e *guardError) Unwrap() error { return e.err }

func errPath(msg string) error            { return &guardError{msg: msg} }
func errPathWrap(err error, msg string) error { return &guardError{msg: msg, err: err} }

// OpenAppendGuarded opens path for append-only writes, guarding against
// symlink ancestry/identity and confirming via fstat (after open, not
// before — avoiding a check-then-open race) that the resulting descriptor
// names a regular file. Mirrors the O_WRONLY|O_CREAT|O_APPEND|O_NONBLOCK|
// O_NOFOLLOW pattern used for task log capture.
func OpenAppendGuarded(path string) (*os.File, error) {
	if HasSymlinkAncestor(path) {
		return nil, errPath("path must not include symlink: " + path)
	}
	return openGuarded(path, unix.O_WRONLY|unix.O_CREAT|unix.O_APPEND|unix.O_NONBLOCK|unix.O_NOFOLLOW, 0o644)
}

// OpenWriteTruncGuarded opens path for a fresh write (create-or-truncate),
// with the same symlink/regular-file guarantees as OpenAppendGuarded. Used
// for the cancel-request sentinel file.
func OpenWriteTruncGuarded(path string, mode os.FileMode) (*os.File, error) {
	if HasSymlinkAncestor(path) {
		return nil, errPath("path must not include symlink: " + path)
	}
	if IsSymlink(path) {
		return nil, errPath("path must not be symlink: " + path)
	}
	info, statErr := os.Lstat(path)
	if statErr == nil && !info.Mode().IsRegular() {
		return nil, errPath("path must be regular file: " + path)
	}
	return openGuarded(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_NONBLOCK|unix.O_NOFOLLOW, mode)
}

// OpenReadGuarded opens path for reading with the same symlink/regular-file
// guarantees, used by the log tail viewer.
func OpenReadGuarded(path string) (*os.File, error) {
	if HasSymlinkAncestor(path) {
		return nil, errPath("path must not include symlink: " + path)
	}
	return openGuarded(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_NOFOLLOW, 0)
}

func openGuarded(path string, flags int, mode os.FileMode) (*os.File, error) {
	fd, err := unix.Open(path, flags, uint32(mode))
	if err != nil {
		if errors.Is(err, unix.ELOOP) {
			return nil, errPathWrap(err, "path must not be symlink: "+path)
		}
		if errors.Is(err, unix.ENXIO) {
			return nil, errPathWrap(err, "path must be regular file: "+path)
		}
		return nil, errPathWrap(err, "failed to open path: "+path)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, errPathWrap(err, "failed to stat path: "+path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, errPath("path must be regular file: " + path)
	}
	return os.NewFile(uintptr(fd), path), nil
}
