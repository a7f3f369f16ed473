// Package transcribe implements the local and remote transcription backends.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"murmur/internal/audio"
	"murmur/internal/domain"
	"murmur/internal/observability"
	"murmur/internal/resilience"
)

// Clip is the encoded form of one recording handed to a transport.
type Clip struct {
	WAVPath  string
	Audio    *domain.AudioBuffer
	Model    string
	Language string
}

// Transport performs a single remote attempt. Errors must carry a
// transient_backend or fatal_backend code so the retry loop can tell them apart.
type Transport interface {
	Name() string
	Send(ctx context.Context, clip Clip) (string, error)
}

// StatusError is a non-2xx reply from a remote endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, body)
}

// TransientStatus reports whether a reply status may succeed on retry.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func classifyStatus(op string, code int, body string) error {
	err := &StatusError{Code: code, Body: body}
	if TransientStatus(code) {
		return domain.TransientBackendError(op, err)
	}
	return domain.FatalBackendError(op, err)
}

// classifyTransportErr marks connection failures transient. Caller
// cancellation passes through unchanged.
func classifyTransportErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	if domain.CodeOf(err) != "" {
		return err
	}
	return domain.TransientBackendError(op, err)
}

// Remote wraps a Transport in a retry policy.
type Remote struct {
	transport Transport
	policy    resilience.RetryPolicy
	tempDir   string
	logger    zerolog.Logger
}

func NewRemote(transport Transport, policy resilience.RetryPolicy, tempDir string, logger zerolog.Logger) *Remote {
	return &Remote{
		transport: transport,
		policy:    policy,
		tempDir:   tempDir,
		logger:    logger.With().Str("transport", transport.Name()).Logger(),
	}
}

func (r *Remote) Name() string {
	return "remote/" + r.transport.Name()
}

// Transcribe encodes the recording once and sends it until it succeeds, a
// fatal error occurs, or attempts run out.
func (r *Remote) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (domain.TranscriptionResult, error) {
	result := domain.TranscriptionResult{Backend: r.Name()}

	wavPath, cleanup, err := audio.WriteTempWAV(r.tempDir, req.Audio)
	if err != nil {
		return result, domain.FatalBackendError("encode recording", err)
	}
	defer cleanup()

	clip := Clip{
		WAVPath:  wavPath,
		Audio:    req.Audio,
		Model:    req.Model,
		Language: req.Language,
	}
	logger := r.logger.With().Str("session_id", req.SessionID).Logger()

	policy := r.policy
	policy.RetryIf = Retryable
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("transcription attempt failed; retrying")
	}

	start := time.Now()
	text, attempts, err := resilience.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		text, err := r.transport.Send(ctx, clip)
		observability.RecordBackendAttempt(r.Name(), attemptOutcome(err))
		return text, err
	})
	observability.ObserveBackendLatency(r.Name(), time.Since(start))

	result.Attempts = attempts
	if err != nil {
		if errors.Is(err, resilience.ErrAttemptTimeout) && domain.CodeOf(err) == "" {
			err = domain.TransientBackendError("transcribe", err)
		}
		if domain.IsTransient(err) {
			err = fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}
		return result, err
	}

	result.Text = strings.TrimSpace(text)
	result.Success = true
	return result, nil
}

// Retryable accepts transient backend errors and attempt timeouts.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return domain.IsTransient(err) || errors.Is(err, resilience.ErrAttemptTimeout)
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case domain.IsTransient(err):
		return "transient"
	default:
		return "fatal"
	}
}
