package usecase

import (
	"context"
	"errors"
	"time"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

const (
	defaultPasteDelay   = 80 * time.Millisecond
	defaultRestoreDelay = 120 * time.Millisecond
)

var errNoPaster = errors.New("no virtual keyboard available")

// transcriptDeliverer puts text on the clipboard, optionally pastes it, and
// restores the previous clipboard when asked to.
type transcriptDeliverer struct {
	clipboard    ports.Clipboard
	paster       ports.Paster
	pasteDelay   time.Duration
	restoreDelay time.Duration
}

func newTranscriptDeliverer(clipboard ports.Clipboard, paster ports.Paster, pasteDelay, restoreDelay time.Duration) transcriptDeliverer {
	if pasteDelay <= 0 {
		pasteDelay = defaultPasteDelay
	}
	if restoreDelay <= 0 {
		restoreDelay = defaultRestoreDelay
	}
	return transcriptDeliverer{
		clipboard:    clipboard,
		paster:       paster,
		pasteDelay:   pasteDelay,
		restoreDelay: restoreDelay,
	}
}

// Deliver never fails the session. Clipboard and paste problems come back as
// non-fatal errors. Restoring is only meaningful after an automatic paste;
// without one the text stays on the clipboard for the user. That includes
// auto paste being requested while no paster is available.
func (d transcriptDeliverer) Deliver(ctx context.Context, text string, settings domain.SessionSettings) (result domain.DeliveryResult, failures []error) {
	autoPaste := settings.AutoPaste && d.paster != nil
	if settings.AutoPaste && d.paster == nil {
		failures = append(failures, domain.PasteError("send paste keystroke", errNoPaster))
	}

	if settings.RestoreClipboard && autoPaste {
		previous, err := d.clipboard.GetText(ctx)
		if err != nil {
			failures = append(failures, domain.ClipboardError("snapshot clipboard", err))
		} else {
			defer func() {
				// Restore even when the session is being torn down.
				restoreCtx := context.WithoutCancel(ctx)
				if result.Copied {
					sleep(ctx, d.restoreDelay)
				}
				if err := d.clipboard.SetText(restoreCtx, previous); err != nil {
					failures = append(failures, domain.ClipboardError("restore clipboard", err))
					return
				}
				result.Restored = true
			}()
		}
	}

	if err := d.clipboard.SetText(ctx, text); err != nil {
		failures = append(failures, domain.ClipboardError("write transcript", err))
		return result, failures
	}
	result.Copied = true

	if !autoPaste {
		return result, failures
	}

	if !sleep(ctx, d.pasteDelay) {
		return result, failures
	}
	if err := d.paster.Paste(ctx); err != nil {
		failures = append(failures, domain.PasteError("send paste keystroke", err))
		return result, failures
	}
	result.Pasted = true
	return result, failures
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
