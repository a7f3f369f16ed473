package bootstrap

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"murmur/internal/audio"
	"murmur/internal/config"
	"murmur/internal/domain"
	"murmur/internal/models"
	"murmur/internal/observability"
	"murmur/internal/platform"
	"murmur/internal/ports"
	"murmur/internal/transcribe"
	"murmur/internal/usecase"
)

const portAudioFormat = "portaudio"

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Models     *models.Manager
	Config     config.Config

	local *transcribe.Local
}

// Close stops background model downloads and the inference worker.
func (s Services) Close() {
	if s.local != nil {
		s.local.Close()
	}
	if s.Models != nil {
		s.Models.Close()
	}
}

// Build wires all backend dependencies for the given configuration. A nil
// paster disables automatic pasting.
func Build(cfg config.Config, eventSink ports.EventSink, clipboard ports.Clipboard, paster ports.Paster) (Services, error) {
	capture, err := newCapture(cfg)
	if err != nil {
		return Services{}, err
	}
	remote, err := buildRemote(cfg)
	if err != nil {
		return Services{}, err
	}

	manager := NewModelManager(cfg)
	local := transcribe.NewLocal(
		manager,
		transcribe.NewWhisperCPP(cfg.Local.WhisperCommand, cfg.Local.Threads),
		models.DefaultModel,
		"",
		observability.Component("local"),
	)

	controller := usecase.NewSessionController(
		capture,
		map[domain.BackendKind]ports.Transcriber{
			domain.BackendLocal:  local,
			domain.BackendRemote: remote,
		},
		clipboard,
		paster,
		eventSink,
		observability.Component("session"),
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			ChunkSize: cfg.Audio.ChunkSize,
			Settings:  cfg.Settings(),
		},
	)

	return Services{Controller: controller, Models: manager, Config: cfg, local: local}, nil
}

// NewModelManager is shared by the daemon and the models subcommands.
func NewModelManager(cfg config.Config) *models.Manager {
	var checksums map[string]string
	if cfg.Local.ModelSHA256 != "" {
		name := cfg.Model
		if cfg.Backend != string(domain.BackendLocal) || name == "" {
			name = models.DefaultModel
		}
		if preset, ok := models.Lookup(name); ok {
			checksums = map[string]string{preset.Name: cfg.Local.ModelSHA256}
		}
	}
	return models.NewManager(models.Config{
		Dir:       cfg.Local.ModelsDir,
		BaseURL:   cfg.Local.ModelsBaseURL,
		Attempts:  cfg.Local.DownloadAttempts,
		Checksums: checksums,
		Client:    transcribe.NewHTTPClient(),
	}, observability.Component("models"))
}

// newCapture picks ffmpeg unless the input format asks for PortAudio.
func newCapture(cfg config.Config) (ports.AudioCapture, error) {
	if cfg.Audio.InputFormat != portAudioFormat {
		return audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand), nil
	}
	capture := nativeCapture()
	if capture == nil {
		return nil, errors.New("audio.input_format portaudio needs a build with -tags portaudio")
	}
	return capture, nil
}

func buildRemote(cfg config.Config) (*transcribe.Remote, error) {
	var transport transcribe.Transport
	switch cfg.Remote.Provider {
	case config.ProviderOpenAI:
		transport = transcribe.NewOpenAITransport(transcribe.OpenAIConfig{
			APIKey:  cfg.Remote.APIKey,
			BaseURL: cfg.Remote.BaseURL,
		})
	case config.ProviderDeepgram:
		transport = transcribe.NewDeepgramTransport(transcribe.DeepgramConfig{
			APIKey:      cfg.Remote.APIKey,
			BaseURL:     cfg.Remote.BaseURL,
			SmartFormat: cfg.Remote.SmartFormat,
		})
	default:
		return nil, fmt.Errorf("unsupported remote provider %q", cfg.Remote.Provider)
	}
	return transcribe.NewRemote(transport, cfg.RetryPolicy(), "", observability.Component("remote")), nil
}

// PlatformPaster returns the keyboard paster, or nil when no virtual
// keyboard can be created. Pasting is then skipped and the transcript stays
// on the clipboard.
func PlatformPaster(logger zerolog.Logger) ports.Paster {
	paster, err := platform.NewKeyboardPaster()
	if err != nil {
		logger.Warn().Err(err).Msg("auto paste unavailable")
		return nil
	}
	return paster
}
