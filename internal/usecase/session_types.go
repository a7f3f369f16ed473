package usecase

import (
	"context"
	"time"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

// activeSession is owned by the controller loop. Only the pump writes the
// buffer, and only until pump.done closes.
type activeSession struct {
	id       string
	state    domain.SessionState
	settings domain.SessionSettings
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	audio ports.AudioSession
	pump  *capturePump

	outcome chan sessionOutcome
}

// sessionOutcome is posted once by the transcription worker.
type sessionOutcome struct {
	result   domain.TranscriptionResult
	delivery domain.DeliveryResult
	failures []error
	err      error
}
