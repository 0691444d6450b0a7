package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/trace"
	"time"

	"golang.org/x/time/rate"
)

// traceDumpInterval is the minimum spacing between two trace files.
const traceDumpInterval = time.Minute

var (
	errNoFlightRecorder = errors.New("flight recorder is not running")
	errDumpRateLimited  = errors.New("trace dump rate limited")
)

// traceDumper writes the flight recorder window to disk on demand.
type traceDumper struct {
	fr      *trace.FlightRecorder
	dir     string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newTraceDumper(fr *trace.FlightRecorder, dir string, logger *slog.Logger) *traceDumper {
	return &traceDumper{
		fr:      fr,
		dir:     dir,
		limiter: rate.NewLimiter(rate.Every(traceDumpInterval), 1),
		logger:  logger,
	}
}

// Dump writes the current trace window to a new file in the dump directory
// and returns its path.
func (t *traceDumper) Dump(reason string) (string, error) {
	if t.fr == nil || !t.fr.Enabled() {
		return "", errNoFlightRecorder
	}
	if !t.limiter.Allow() {
		return "", errDumpRateLimited
	}

	name := fmt.Sprintf("smgw-trace-%s.out", time.Now().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(t.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trace file: %w", err)
	}
	if _, err := t.fr.WriteTo(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write trace %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close trace %s: %w", path, err)
	}

	t.logger.Warn("flight recorder trace written",
		slog.String("path", path),
		slog.String("reason", reason),
	)
	return path, nil
}

// dumpAfterPanic is the gateway panic hook.
func (t *traceDumper) dumpAfterPanic(addr string) {
	if _, err := t.Dump("panic in listener " + addr); err != nil && !errors.Is(err, errDumpRateLimited) {
		t.logger.Debug("skipped trace dump", slog.String("error", err.Error()))
	}
}
