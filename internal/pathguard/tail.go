package pathguard

import (
	"bufio"
	"container/ring"
)

// TailLines reads the last n lines of the guarded file at path without
// loading it fully into memory, refusing symlinks the same way
// OpenReadGuarded does. Returns nil on any error (missing file, non-regular file, symlink).
func TailLines(path string, n int) []string {
	if n <= 0 {
		return nil
	}
	f, err := OpenReadGuarded(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := ring.New(n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	seen := 0
	for sc.Scan() {
		r.Value = sc.Text()
		r = r.Next()
		seen++
	}
	if seen == 0 {
		return []string{}
	}
	if seen < n {
		r = r.Move(n - seen)
	}

	out := make([]string, 0, n)
	r.Do(func(v any) {
		if v != nil {
			out = append(out, v.(string))
		}
	})
	return out
}
