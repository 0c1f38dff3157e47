// Package logx configures the process-wide zerolog logger.
package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the shared logger used throughout the bridge.
var Log = log.Logger

func init() {
	Log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// Configure sets the global log level from a case-insensitive name
// (trace/all, debug, info, warn/warning, error, none/disabled). An
// unrecognized name falls back to info rather than failing startup.
func Configure(level string) {
	switch strings.ToLower(level) {
	case "trace", "all":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "none", "disabled", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// ConfigureOutput wires the logger to stderr, and additionally to a single
// file under location/pattern when both are non-empty; the file is not
// rotated. pattern may contain a
// single "*" that is replaced with the process start time, matching the
// bridge's --log-location/--log-pattern flags.
func ConfigureOutput(location, pattern string) error {
	if location == "" || pattern == "" {
		Log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return nil
	}
	if err := os.MkdirAll(location, 0o755); err != nil {
		return err
	}
	name := strings.Replace(pattern, "*", time.Now().UTC().Format("20060102T150405Z"), 1)
	f, err := os.OpenFile(filepath.Join(location, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	multi := io.MultiWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, f)
	Log = log.Output(multi)
	return nil
}
