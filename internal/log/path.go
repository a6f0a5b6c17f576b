package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appName = "urlredirector"

var (
	logDir     string
	logDirOnce sync.Once
)

// GetLogDir returns the directory for the log and stats files, created on
// first use: /var/log/urlredirector on Linux when writable, otherwise
// ~/.urlredirector, otherwise a directory under the temp dir.
func GetLogDir() string {
	logDirOnce.Do(func() {
		logDir = firstWritableDir(logDirCandidates())
	})
	return logDir
}

func logDirCandidates() []string {
	var dirs []string
	if runtime.GOOS == "linux" {
		dirs = append(dirs, filepath.Join("/var/log", appName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "."+appName))
	}
	return dirs
}

// firstWritableDir creates each candidate in turn and returns the first one
// a file can be created in.
func firstWritableDir(candidates []string) string {
	for _, dir := range candidates {
		if writable(dir) {
			return dir
		}
	}
	dir := filepath.Join(os.TempDir(), appName)
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}

// GetLogFilePath returns the full path to the main log file.
func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), appName+".log")
}

// GetStatsFilePath returns the full path to a stats file.
func GetStatsFilePath(name string) string {
	return filepath.Join(GetLogDir(), name)
}
