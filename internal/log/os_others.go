//go:build !unix

package log

import (
	"log/slog"
	"os"
)

func osDetails() []any {
	if v, ok := os.LookupEnv("OS"); ok {
		return []any{slog.String("os_version", v)}
	}
	return []any{slog.String("info", "unknown OS details")}
}
