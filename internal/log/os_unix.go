//go:build unix

package log

import (
	"bytes"
	"log/slog"
	"strings"

	"golang.org/x/sys/unix"
)

func osDetails() []any {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return []any{slog.String("uname", err.Error())}
	}
	return []any{
		slog.String("sysname", cstring(uname.Sysname[:])),
		slog.String("release", cstring(uname.Release[:])),
		slog.String("version", cstring(uname.Version[:])),
		slog.String("machine", cstring(uname.Machine[:])),
	}
}

// cstring converts a NUL-terminated utsname field.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
