//go:build !unix

package main

import "os"

var traceDumpSignals []os.Signal
