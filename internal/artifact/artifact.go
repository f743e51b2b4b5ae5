// Package artifact matches a task's declared output globs, sanitizes the
// matched paths against escape and collision, and copies them into the run
// directory's artifacts layout (and an optional plan-level aggregate
// directory).
package artifact

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Collect matches every pattern in outputs under cwd (or, for absolute
// patterns, globally) and copies matched regular files into
// <runDir>/artifacts/<taskID>/<sanitized> and, when aggregateRoot is
// non-empty, into <aggregateRoot>/<taskID>/<sanitized> as well. It returns
// the sorted, de-duplicated list of run-dir-relative destination paths.
func Collect(taskID string, outputs []string, cwd, runDir, aggregateRoot string) []string {
	if len(outputs) == 0 {
		return nil
	}
	taskRoot := filepath.Join(runDir, "artifacts", taskID)
	if err := os.MkdirAll(taskRoot, 0o755); err != nil {
		return nil
	}

	var aggTaskRoot string
	if aggregateRoot != "" {
		aggTaskRoot = filepath.Join(aggregateRoot, taskID)
		_ = os.MkdirAll(aggTaskRoot, 0o755)
	}

	var copied []string
	for _, pattern := range outputs {
		patternAbs := filepath.IsAbs(pattern)
		for _, match := range iterMatches(pattern, cwd) {
			info, err := os.Lstat(match)
			if err != nil || info.IsDir() || !info.Mode().IsRegular() {
				continue
			}
			rel := sanitizedRelative(match, cwd, patternAbs)
			dest := filepath.Join(taskRoot, rel)
			if err := copyFile(match, dest); err != nil {
				continue
			}
			if relDest, err := filepath.Rel(runDir, dest); err == nil {
				copied = append(copied, filepath.ToSlash(relDest))
			}
			if aggTaskRoot != "" {
				_ = copyFile(match, filepath.Join(aggTaskRoot, rel))
			}
		}
	}

	sort.Strings(copied)
	return dedupe(copied)
}

func iterMatches(pattern, cwd string) []string {
	if filepath.IsAbs(pattern) {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil
		}
		return matches
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(cwd, pattern))
	if err != nil {
		return nil
	}
	return matches
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var last string
	first := true
	for _, s := range sorted {
		if first || s != last {
			out = append(out, s)
			last = s
			first = false
		}
	}
	return out
}

// sanitizedRelative computes the sanitized relative destination for match
// under cwd: `..` components become __up__, `:` becomes `_`. patternAbs
// records whether the glob pattern that produced match was itself an
// absolute pattern (as opposed to a cwd-relative one that merely resolved
// outside cwd) — every glob match is an absolute filesystem path by the
// time it reaches here, so that distinction can't be recovered from match
// alone. A match from an absolute pattern goes under __abs__/…; a match
// from a relative pattern that escapes cwd goes under __external__/….
func sanitizedRelative(match, cwd string, patternAbs bool) string {
	if patternAbs {
		return prefixedSanitized("__abs__", match)
	}
	rel, err := filepath.Rel(cwd, match)
	if err != nil {
		return prefixedSanitized("__external__", match)
	}
	if rel == "." {
		return "root"
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	escapes := false
	for _, p := range parts {
		if p == ".." {
			escapes = true
			break
		}
	}
	if escapes {
		return prefixedSanitized("__external__", match)
	}
	sanitized := sanitizeParts(parts)
	if len(sanitized) == 0 {
		return "root"
	}
	return filepath.Join(sanitized...)
}

func prefixedSanitized(prefix, match string) string {
	parts := sanitizeParts(strings.Split(filepath.ToSlash(match), "/"))
	if len(parts) == 0 {
		return filepath.Join(prefix, "root")
	}
	return filepath.Join(append([]string{prefix}, parts...)...)
}

func sanitizeParts(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		if p == ".." {
			out = append(out, "__up__")
			continue
		}
		out = append(out, strings.ReplaceAll(p, ":", "_"))
	}
	return out
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if info, err := in.Stat(); err == nil {
		_ = os.Chmod(dest, info.Mode())
		_ = os.Chtimes(dest, info.ModTime(), info.ModTime())
	}
	return nil
}
