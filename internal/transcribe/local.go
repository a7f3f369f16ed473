package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"murmur/internal/audio"
	"murmur/internal/domain"
	"murmur/internal/observability"
	"murmur/internal/ports"
)

var ErrLocalClosed = errors.New("local backend is closed")

// Engine runs inference for one WAV file with an already verified model.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, modelPath, wavPath, language string) (string, error)
}

type inferenceJob struct {
	ctx       context.Context
	modelPath string
	wavPath   string
	language  string
	done      chan inferenceResult
}

type inferenceResult struct {
	text string
	err  error
}

// Local transcribes on-device. Inference runs on a single dedicated worker
// goroutine; failures are deterministic and are never retried.
type Local struct {
	models       ports.ModelProvider
	engine       Engine
	defaultModel string
	tempDir      string
	logger       zerolog.Logger

	jobs chan inferenceJob
	quit chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

func NewLocal(models ports.ModelProvider, engine Engine, defaultModel, tempDir string, logger zerolog.Logger) *Local {
	l := &Local{
		models:       models,
		engine:       engine,
		defaultModel: defaultModel,
		tempDir:      tempDir,
		logger:       logger,
		jobs:         make(chan inferenceJob),
		quit:         make(chan struct{}),
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

func (l *Local) Name() string {
	return "local/" + l.engine.Name()
}

func (l *Local) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (domain.TranscriptionResult, error) {
	result := domain.TranscriptionResult{Backend: l.Name(), Attempts: 1}

	model := req.Model
	if model == "" {
		model = l.defaultModel
	}
	desc, err := l.models.Ensure(ctx, model)
	if err != nil {
		return result, err
	}

	wavPath, cleanup, err := audio.WriteTempWAV(l.tempDir, req.Audio)
	if err != nil {
		return result, domain.FatalBackendError("encode recording", err)
	}
	defer cleanup()

	job := inferenceJob{
		ctx:       ctx,
		modelPath: desc.Path,
		wavPath:   wavPath,
		language:  req.Language,
		done:      make(chan inferenceResult, 1),
	}

	select {
	case l.jobs <- job:
	case <-ctx.Done():
		return result, ctx.Err()
	case <-l.quit:
		return result, domain.FatalBackendError("local inference", ErrLocalClosed)
	}

	start := time.Now()
	res := <-job.done
	observability.ObserveBackendLatency(l.Name(), time.Since(start))

	if res.err != nil {
		observability.RecordBackendAttempt(l.Name(), attemptOutcome(res.err))
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, domain.FatalBackendError("local inference", res.err)
	}
	observability.RecordBackendAttempt(l.Name(), "success")

	result.Text = res.text
	result.Success = true
	return result, nil
}

// Close stops the worker after any running inference finishes.
func (l *Local) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
	l.wg.Wait()
}

func (l *Local) worker() {
	defer l.wg.Done()
	for {
		select {
		case job := <-l.jobs:
			l.logger.Debug().Str("model", job.modelPath).Msg("inference started")
			text, err := l.engine.Transcribe(job.ctx, job.modelPath, job.wavPath, job.language)
			job.done <- inferenceResult{text: text, err: err}
		case <-l.quit:
			return
		}
	}
}
