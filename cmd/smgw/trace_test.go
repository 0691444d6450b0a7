package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"testing"
)

func TestTraceDumperWritesWindow(t *testing.T) {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})
	if err := fr.Start(); err != nil {
		t.Skipf("flight recorder unavailable: %v", err)
	}
	defer fr.Stop()

	dir := t.TempDir()
	dumper := newTraceDumper(fr, dir, slog.New(slog.DiscardHandler))

	path, err := dumper.Dump("test")
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if filepath.Dir(path) != dir || !strings.HasPrefix(filepath.Base(path), "smgw-trace-") {
		t.Errorf("path = %q, want smgw-trace-* in %s", path, dir)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat trace: %v", err)
	}
	if info.Size() == 0 {
		t.Error("trace file is empty")
	}

	// A listener panic right after is absorbed by the rate limit.
	dumper.dumpAfterPanic("127.0.0.1:45678")
	if _, err := dumper.Dump("again"); !errors.Is(err, errDumpRateLimited) {
		t.Errorf("second Dump error = %v, want errDumpRateLimited", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("trace files = %d, want 1", len(entries))
	}
}

func TestTraceDumperWithoutRecorder(t *testing.T) {
	t.Parallel()

	dumper := newTraceDumper(nil, t.TempDir(), slog.New(slog.DiscardHandler))
	if _, err := dumper.Dump("test"); !errors.Is(err, errNoFlightRecorder) {
		t.Errorf("Dump error = %v, want errNoFlightRecorder", err)
	}
}
