package main

import (
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"murmur/internal/domain"
)

const notifyTitle = "murmur"

// App is the daemon's event sink. It logs every transition and raises a
// desktop notification for failures.
type App struct {
	logger zerolog.Logger
	notify func(title, message string) error
}

func NewApp(logger zerolog.Logger, notifications bool) *App {
	app := &App{logger: logger}
	if notifications {
		app.notify = func(title, message string) error {
			return beeep.Notify(title, message, "")
		}
	}
	return app
}

// SessionStateChanged logs lifecycle updates.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	event := a.logger.Info()
	if state == domain.SessionStateFailed {
		event = a.logger.Warn()
	}
	event.
		Str("state", string(state)).
		Str("reason", string(reason)).
		Msg(reasonOrMessage(reason))
}

// TranscriptReady logs the delivered transcript.
func (a *App) TranscriptReady(result domain.TranscriptionResult, delivery domain.DeliveryResult) {
	a.logger.Info().
		Str("backend", result.Backend).
		Int("attempts", result.Attempts).
		Int("chars", len(result.Text)).
		Bool("copied", delivery.Copied).
		Bool("pasted", delivery.Pasted).
		Bool("restored", delivery.Restored).
		Msg("transcript ready")
	a.logger.Debug().Str("text", result.Text).Msg("transcript text")

	if !delivery.Copied {
		a.raise("Transcript ready but could not be copied")
	}
}

// SessionError logs and, when enabled, notifies.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	message := errorMessage(code, detail)
	a.logger.Error().
		Str("code", string(code)).
		Str("detail", detail).
		Msg(message)
	a.raise(message)
}

func (a *App) raise(message string) {
	if a.notify == nil {
		return
	}
	if err := a.notify(notifyTitle, message); err != nil {
		a.logger.Debug().Err(err).Msg("desktop notification failed")
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.SessionReasonTranscriptDelivered:
		return "Transcript copied to clipboard"
	case domain.SessionReasonTranscriptDeliveryFail:
		return "Transcript ready (clipboard write failed)"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonCaptureFailed:
		return "Microphone capture failed"
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonShutdown:
		return "Shutting down"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodeTransientBackend:
		return "Transcription service unreachable"
	case domain.ErrorCodeFatalBackend:
		return "Transcription error"
	case domain.ErrorCodeModelAcquisition:
		return "Model download failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodePaste:
		return "Paste failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func reasonOrMessage(reason domain.SessionStateReason) string {
	if message := sessionReasonMessage(reason); message != "" {
		return message
	}
	return string(reason)
}
