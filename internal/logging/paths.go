package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.framefind/logs, falling back to the temp
// directory when no home directory is resolvable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".framefind", "logs")
	}
	return filepath.Join(home, ".framefind", "logs")
}

// DefaultLogPath returns the default log file location.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "framefind.log")
}
