//go:build !windows

package main

import (
	"os"
	"syscall"
)

func hotkeySignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
