package log

import (
	"log/slog"
	"os"
	"runtime"
)

// GetOSInfo describes the host and process for the startup header.
func GetOSInfo() []any {
	attrs := []any{
		slog.String("GOOS", runtime.GOOS),
		slog.String("GOARCH", runtime.GOARCH),
		slog.String("Go Version", runtime.Version()),
		slog.Int("pid", os.Getpid()),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, slog.String("hostname", hostname))
	}
	attrs = append(attrs, slog.String("log_dir", GetLogDir()))
	return append(attrs, osDetails()...)
}
