package platform

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

// The Linux uinput device needs time before the first event is seen.
const linuxSettle = 2 * time.Second

type chord struct {
	ctrl  bool
	super bool
	key   int
}

func pasteChord(goos string) chord {
	if goos == "darwin" {
		return chord{super: true, key: keybd_event.VK_V}
	}
	return chord{ctrl: true, key: keybd_event.VK_V}
}

func settleDelay(goos string) time.Duration {
	if goos == "linux" {
		return linuxSettle
	}
	return 0
}

// KeyboardPaster sends the platform paste shortcut to the focused window.
type KeyboardPaster struct {
	mu      sync.Mutex
	kb      *keybd_event.KeyBonding
	readyAt time.Time
	chord   chord
}

func NewKeyboardPaster() (*KeyboardPaster, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	return &KeyboardPaster{
		kb:      &kb,
		readyAt: time.Now().Add(settleDelay(runtime.GOOS)),
		chord:   pasteChord(runtime.GOOS),
	}, nil
}

func (p *KeyboardPaster) Paste(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if wait := time.Until(p.readyAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.kb.Clear()
	p.kb.HasCTRL(p.chord.ctrl)
	p.kb.HasSuper(p.chord.super)
	p.kb.SetKeys(p.chord.key)
	return p.kb.Launching()
}
