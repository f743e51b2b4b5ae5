package pathguard

import "path/filepath"

// RunDir returns the run directory path for runID under home.
func RunDir(home, runID string) string {
	return filepath.Join(home, "runs", runID)
}

// EnsureRunLayout creates the run directory and its logs/, artifacts/, and
// report/ subdirectories, guarding each against symlinks.
func EnsureRunLayout(runDir string) error {
	if err := EnsureDirectory(runDir, true); err != nil {
		return err
	}
	for _, sub := range []string{"logs", "artifacts", "report"} {
		if err := EnsureDirectory(filepath.Join(runDir, sub), false); err != nil {
			return err
		}
	}
	return nil
}
