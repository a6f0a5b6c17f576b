package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/urlredirector/urlredirector/internal/config"
)

const timeFormat = "2006-01-02 15:04:05"

// Logs is the fan-out of every formatted log line, streamed by the API.
var Logs = NewBroadcaster()

// SetLogConf installs the default logger. Lines go to stdout, to a rotated
// file (GetLogFilePath when file is empty) and to Logs.
func SetLogConf(level string, file string) {
	if file == "" {
		file = GetLogFilePath()
	}
	rotated := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    5, // megabytes
		MaxBackups: 5,
		MaxAge:     7, // days
		LocalTime:  true,
		Compress:   true,
	}
	slog.SetDefault(slog.New(newHandler(io.MultiWriter(os.Stdout, rotated, Logs), level)))
}

// SetCLILogConf logs to stderr only, for one-shot commands whose stdout is
// their output.
func SetCLILogConf(level string) {
	slog.SetDefault(slog.New(newHandler(os.Stderr, level)))
}

func newHandler(w io.Writer, level string) slog.Handler {
	loc := LoadLocalLocation()
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().In(loc).Format(timeFormat))
			}
			return a
		},
	})
}

func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("urlredirector started", "version", version, "", cfg)
	slog.Info("System", GetOSInfo()...)
}

// LoadLocalLocation returns the zone log times are printed in: $TZ, then
// /etc/localtime, then the OpenWrt style /etc/TZ, then UTC.
func LoadLocalLocation() *time.Location {
	if tz := os.Getenv("TZ"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if _, err := os.Stat("/etc/localtime"); err == nil {
		return time.Local
	}
	if data, err := os.ReadFile("/etc/TZ"); err == nil {
		return posixZone(strings.TrimSpace(string(data)))
	}
	return time.UTC
}

// posixZone understands the two /etc/TZ values OpenWrt ships by default.
func posixZone(tz string) *time.Location {
	switch {
	case strings.HasPrefix(tz, "CST-8"):
		return time.FixedZone("CST", 8*3600)
	default:
		return time.UTC
	}
}
