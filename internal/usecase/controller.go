package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"murmur/internal/domain"
	"murmur/internal/observability"
	"murmur/internal/ports"
)

var ErrControllerStopped = errors.New("session controller is not running")

const drainTimeout = 2 * time.Second

// Config controls capture and delivery behavior.
type Config struct {
	Audio        ports.AudioConfig
	ChunkSize    int
	Settings     domain.SessionSettings
	PasteDelay   time.Duration
	RestoreDelay time.Duration
}

// SessionController runs the dictation state machine. All session state is
// owned by the goroutine inside Run; hotkey presses, capture completion and
// backend completion reach it through one select loop.
type SessionController struct {
	capture   ports.AudioCapture
	backends  map[domain.BackendKind]ports.Transcriber
	events    ports.EventSink
	deliverer transcriptDeliverer
	logger    zerolog.Logger
	cfg       Config

	hotkeys chan time.Time
	done    chan struct{}

	// settledAt is when the loop last finished a transition. Presses made
	// before it happened while the loop was busy and are dropped.
	settledAt time.Time

	settingsMu sync.Mutex
	settings   domain.SessionSettings

	statusMu sync.Mutex
	status   domain.Status

	current *activeSession
}

func NewSessionController(
	capture ports.AudioCapture,
	backends map[domain.BackendKind]ports.Transcriber,
	clipboard ports.Clipboard,
	paster ports.Paster,
	events ports.EventSink,
	logger zerolog.Logger,
	cfg Config,
) *SessionController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	return &SessionController{
		capture:   capture,
		backends:  backends,
		events:    events,
		deliverer: newTranscriptDeliverer(clipboard, paster, cfg.PasteDelay, cfg.RestoreDelay),
		logger:    logger,
		cfg:       cfg,
		hotkeys:   make(chan time.Time),
		done:      make(chan struct{}),
		settings:  cfg.Settings,
		status: domain.Status{
			State:   domain.SessionStateIdle,
			Message: string(domain.SessionReasonReady),
		},
	}
}

// HotkeyPressed hands a press to the loop and returns once it is received.
// Presses made while the controller is busy are dropped, not queued.
func (c *SessionController) HotkeyPressed() error {
	pressedAt := time.Now()
	select {
	case <-c.done:
		return ErrControllerStopped
	default:
	}
	select {
	case c.hotkeys <- pressedAt:
		return nil
	case <-c.done:
		return ErrControllerStopped
	}
}

// UpdateSettings replaces the settings used by the next session.
func (c *SessionController) UpdateSettings(settings domain.SessionSettings) {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()
	c.settings = settings
}

// Status returns the last published state.
func (c *SessionController) Status() domain.Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// Run processes events until ctx is cancelled. On return the microphone is
// released and any in-flight transcription has been aborted.
func (c *SessionController) Run(ctx context.Context) error {
	defer close(c.done)

	c.publish(domain.SessionStateIdle, domain.SessionReasonReady, "")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case pressedAt := <-c.hotkeys:
			c.onHotkey(ctx, pressedAt)
		case <-c.captureEnded():
			c.onCaptureEnded()
		case outcome := <-c.transcriptionDone():
			c.onTranscribed(outcome)
		}
	}
}

// captureEnded fires when the pump stops while still recording, which means
// the device went away.
func (c *SessionController) captureEnded() <-chan struct{} {
	if c.current == nil || c.current.state != domain.SessionStateRecording {
		return nil
	}
	return c.current.pump.done
}

func (c *SessionController) transcriptionDone() <-chan sessionOutcome {
	if c.current == nil || c.current.state != domain.SessionStateTranscribing {
		return nil
	}
	return c.current.outcome
}

func (c *SessionController) onHotkey(ctx context.Context, pressedAt time.Time) {
	if pressedAt.Before(c.settledAt) {
		c.logger.Debug().Dur("early", c.settledAt.Sub(pressedAt)).Msg("hotkey pressed during a transition; dropped")
		return
	}
	if c.current == nil {
		c.startRecording(ctx)
		return
	}
	switch c.current.state {
	case domain.SessionStateRecording:
		c.stopRecording()
	default:
		c.logger.Debug().Str("session_id", c.current.id).Str("state", string(c.current.state)).Msg("hotkey ignored while busy")
	}
}

func (c *SessionController) startRecording(ctx context.Context) {
	c.settingsMu.Lock()
	settings := c.settings
	c.settingsMu.Unlock()

	id := uuid.NewString()
	logger := c.logger.With().Str("session_id", id).Logger()

	sessionCtx, cancel := context.WithCancel(ctx)
	audioSession, err := c.capture.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		if domain.CodeOf(err) == "" {
			err = domain.DeviceError("start capture", err)
		}
		logger.Error().Err(err).Msg("capture failed to start")
		c.fail(id, domain.SessionReasonCaptureFailed, err)
		return
	}

	buffer := domain.NewAudioBuffer(c.cfg.Audio.SampleRate, c.cfg.Audio.Channels)
	c.current = &activeSession{
		id:       id,
		state:    domain.SessionStateRecording,
		settings: settings,
		started:  time.Now(),
		ctx:      sessionCtx,
		cancel:   cancel,
		audio:    audioSession,
		pump:     startCapturePump(audioSession, buffer, c.cfg.ChunkSize, logger),
		outcome:  make(chan sessionOutcome, 1),
	}

	logger.Info().Str("backend", string(settings.Backend)).Msg("recording started")
	c.publish(domain.SessionStateRecording, domain.SessionReasonRecordingStarted, id)
}

func (c *SessionController) stopRecording() {
	s := c.current
	logger := c.logger.With().Str("session_id", s.id).Logger()

	if err := c.releaseCapture(s); err != nil {
		logger.Warn().Err(err).Msg("capture did not stop cleanly")
	}
	if s.pump.err != nil {
		c.finish(domain.SessionReasonCaptureFailed, s.pump.err)
		return
	}

	buffer := s.pump.buffer
	duration := buffer.Duration()
	observability.ObserveRecording(duration)
	logger.Info().Dur("duration", duration).Dur("wall", time.Since(s.started)).Msg("recording stopped")

	if buffer.Frames() == 0 || duration < s.settings.DiscardDuration {
		logger.Info().Dur("discard_below", s.settings.DiscardDuration).Msg("recording too short; discarded")
		c.finish(domain.SessionReasonRecordingDiscarded, nil)
		return
	}

	backend, ok := c.backends[s.settings.Backend]
	if !ok || backend == nil {
		c.finish(domain.SessionReasonTranscriptionFailed,
			domain.FatalBackendError("select backend", fmt.Errorf("backend %q is not available", s.settings.Backend)))
		return
	}

	req := domain.TranscriptionRequest{
		SessionID: s.id,
		Audio:     buffer,
		Language:  s.settings.Language,
		Model:     s.settings.Model,
		Backend:   s.settings.Backend,
	}
	s.pump.buffer = nil

	s.state = domain.SessionStateTranscribing
	c.publish(domain.SessionStateTranscribing, domain.SessionReasonTranscribing, s.id)

	go c.transcribe(s, backend, req)
}

// transcribe runs on its own goroutine and reports exactly once.
func (c *SessionController) transcribe(s *activeSession, backend ports.Transcriber, req domain.TranscriptionRequest) {
	var out sessionOutcome
	defer func() { s.outcome <- out }()

	out.result, out.err = backend.Transcribe(s.ctx, req)
	if out.err != nil || out.result.Text == "" {
		return
	}
	out.delivery, out.failures = c.deliverer.Deliver(s.ctx, out.result.Text, s.settings)
}

func (c *SessionController) onCaptureEnded() {
	s := c.current
	err := s.pump.err
	if err == nil {
		err = domain.DeviceError("capture", errors.New("recorder stopped unexpectedly"))
	}
	c.logger.Error().Err(err).Str("session_id", s.id).Msg("capture ended while recording")
	_ = c.releaseCapture(s)
	c.finish(domain.SessionReasonCaptureFailed, err)
}

func (c *SessionController) onTranscribed(out sessionOutcome) {
	s := c.current
	logger := c.logger.With().Str("session_id", s.id).Str("backend", out.result.Backend).Int("attempts", out.result.Attempts).Logger()

	if out.err != nil {
		if s.ctx.Err() != nil {
			c.finish(domain.SessionReasonShutdown, nil)
			return
		}
		logger.Error().Err(out.err).Msg("transcription failed")
		c.finish(domain.SessionReasonTranscriptionFailed, out.err)
		return
	}
	if out.result.Text == "" {
		logger.Info().Msg("backend returned no text")
		c.finish(domain.SessionReasonNoTranscript, nil)
		return
	}

	for _, failure := range out.failures {
		logger.Warn().Err(failure).Msg("delivery problem")
		observability.RecordDeliveryFailure(string(domain.CodeOf(failure)))
		c.events.SessionError(domain.CodeOf(failure), failure.Error())
	}
	c.events.TranscriptReady(out.result, out.delivery)

	reason := domain.SessionReasonTranscriptDelivered
	if !out.delivery.Copied {
		reason = domain.SessionReasonTranscriptDeliveryFail
	}
	logger.Info().Bool("copied", out.delivery.Copied).Bool("pasted", out.delivery.Pasted).Bool("restored", out.delivery.Restored).Msg("transcript delivered")
	c.finish(reason, nil)
}

// shutdown releases the microphone and aborts in-flight work.
func (c *SessionController) shutdown() {
	s := c.current
	if s == nil {
		return
	}
	s.cancel()
	switch s.state {
	case domain.SessionStateRecording:
		_ = c.releaseCapture(s)
	case domain.SessionStateTranscribing:
		<-s.outcome
	}
	c.logger.Info().Str("session_id", s.id).Msg("session aborted by shutdown")
	c.finish(domain.SessionReasonShutdown, nil)
}

// releaseCapture stops the device and waits for buffered audio to drain.
func (c *SessionController) releaseCapture(s *activeSession) error {
	err := s.audio.Stop()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-s.pump.done:
	case <-timer.C:
		c.logger.Warn().Str("session_id", s.id).Msg("capture did not drain; closing")
	}
	if closeErr := s.audio.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	<-s.pump.done
	return err
}

// finish returns the controller to Idle. A non-nil err is reported first and
// passes through Failed.
func (c *SessionController) finish(reason domain.SessionStateReason, err error) {
	s := c.current
	c.current = nil
	if s != nil {
		s.cancel()
	}

	id := ""
	if s != nil {
		id = s.id
	}
	if err != nil {
		c.fail(id, reason, err)
		return
	}
	observability.RecordSession(string(reason))
	c.publish(domain.SessionStateIdle, reason, "")
}

func (c *SessionController) fail(id string, reason domain.SessionStateReason, err error) {
	code := domain.CodeOf(err)
	if code == "" {
		code = domain.ErrorCodeFatalBackend
	}
	observability.RecordSession(string(reason))
	c.events.SessionError(code, err.Error())
	c.publish(domain.SessionStateFailed, reason, id)
	c.publish(domain.SessionStateIdle, reason, "")
}

func (c *SessionController) publish(state domain.SessionState, reason domain.SessionStateReason, sessionID string) {
	c.settledAt = time.Now()

	c.statusMu.Lock()
	c.status = domain.Status{
		State:     state,
		Active:    state == domain.SessionStateRecording || state == domain.SessionStateTranscribing,
		SessionID: sessionID,
		Message:   string(reason),
	}
	c.statusMu.Unlock()

	c.events.SessionStateChanged(state, reason)
}
