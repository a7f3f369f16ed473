package bootstrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"murmur/internal/config"
	"murmur/internal/domain"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Backend:         string(domain.BackendRemote),
		AutoPaste:       true,
		DiscardDuration: 0.5,
		Retries:         3,
		Retry:           config.RetryConfig{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Remote:          config.RemoteConfig{Provider: config.ProviderOpenAI, APIKey: "test-key"},
		Local: config.LocalConfig{
			ModelsDir:        t.TempDir(),
			WhisperCommand:   "whisper-cli",
			DownloadAttempts: 3,
		},
		Audio: config.AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
	}
}

func TestBuildSuccess(t *testing.T) {
	t.Parallel()

	for _, provider := range []string{config.ProviderOpenAI, config.ProviderDeepgram} {
		cfg := testConfig(t)
		cfg.Remote.Provider = provider

		services, err := Build(cfg, noopEventSink{}, noopClipboard{}, nil)
		if err != nil {
			t.Fatalf("%s: build failed: %v", provider, err)
		}
		if services.Controller == nil || services.Models == nil {
			t.Fatalf("%s: expected controller and model manager", provider)
		}
		if services.Controller.Status().State != domain.SessionStateIdle {
			t.Fatalf("%s: expected idle controller", provider)
		}
		services.Close()
	}
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Remote.Provider = "acme"

	_, err := Build(cfg, noopEventSink{}, noopClipboard{}, nil)
	if err == nil || !strings.Contains(err.Error(), "acme") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}

func TestNewModelManagerAppliesChecksumToConfiguredModel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Backend = string(domain.BackendLocal)
	cfg.Model = "small.en"
	cfg.Local.ModelSHA256 = "abc123"

	manager := NewModelManager(cfg)
	defer manager.Close()

	found := false
	for _, desc := range manager.List() {
		if desc.SHA256 == "" {
			continue
		}
		if desc.Name != "small-en-q8" || desc.SHA256 != "abc123" {
			t.Fatalf("checksum bound to wrong model: %+v", desc)
		}
		found = true
	}
	if !found {
		t.Fatalf("expected checksum on the configured model")
	}
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ domain.SessionStateReason) {}
func (noopEventSink) TranscriptReady(_ domain.TranscriptionResult, _ domain.DeliveryResult)  {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                              {}

type noopClipboard struct{}

func (noopClipboard) GetText(_ context.Context) (string, error) { return "", nil }
func (noopClipboard) SetText(_ context.Context, _ string) error { return nil }

func TestBuildPortAudioNeedsBuildTag(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Audio.InputFormat = portAudioFormat

	services, err := Build(cfg, noopEventSink{}, noopClipboard{}, nil)
	if nativeCapture() == nil {
		if err == nil {
			t.Fatalf("expected error without portaudio support")
		}
		return
	}
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	services.Close()
}
