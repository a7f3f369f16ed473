package platform

import (
	"context"
	"errors"

	"github.com/atotto/clipboard"
)

var ErrClipboardUnsupported = errors.New("no clipboard utility available")

// Clipboard uses the system clipboard. On Linux it shells out to xclip,
// xsel or wl-clipboard, whichever is installed.
type Clipboard struct{}

func NewClipboard() *Clipboard {
	return &Clipboard{}
}

func (c *Clipboard) GetText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if clipboard.Unsupported {
		return "", ErrClipboardUnsupported
	}
	return clipboard.ReadAll()
}

func (c *Clipboard) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if clipboard.Unsupported {
		return ErrClipboardUnsupported
	}
	return clipboard.WriteAll(text)
}
