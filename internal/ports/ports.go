package ports

import (
	"context"
	"io"

	"murmur/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session yielding s16le PCM. Stop releases
// the device; data captured before Stop stays readable until EOF. Close
// stops and discards anything unread.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Transcriber converts a recorded buffer into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req domain.TranscriptionRequest) (domain.TranscriptionResult, error)
}

// ModelProvider resolves a local model name to a verified file path.
type ModelProvider interface {
	Ensure(ctx context.Context, name string) (domain.ModelDescriptor, error)
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	GetText(ctx context.Context) (string, error)
	SetText(ctx context.Context, text string) error
}

// Paster synthesizes the platform paste keystroke.
type Paster interface {
	Paste(ctx context.Context) error
}

// EventSink emits session state and errors to the UI layer.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptReady(result domain.TranscriptionResult, delivery domain.DeliveryResult)
	SessionError(code domain.ErrorCode, detail string)
}
