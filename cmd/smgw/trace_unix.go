//go:build unix

package main

import (
	"os"
	"syscall"
)

// traceDumpSignals request a flight recorder dump.
var traceDumpSignals = []os.Signal{syscall.SIGUSR1}
