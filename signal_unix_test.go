//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestForwardHotkeySignals(t *testing.T) {
	// Keep SIGUSR1 caught for the whole test so an early signal cannot
	// terminate the process.
	guard := make(chan os.Signal, 8)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	presses := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- forwardHotkeySignals(ctx, pressFunc(func() error {
			select {
			case presses <- struct{}{}:
			default:
			}
			return nil
		}), zerolog.Nop())
	}()

	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for pressed := false; !pressed; {
		select {
		case <-presses:
			pressed = true
		case <-ticker.C:
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
		case <-deadline:
			t.Fatalf("signal was not forwarded")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type pressFunc func() error

func (f pressFunc) HotkeyPressed() error { return f() }
