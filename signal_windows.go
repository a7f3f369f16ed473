//go:build windows

package main

import "os"

func hotkeySignals() []os.Signal {
	return nil
}
