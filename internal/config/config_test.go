package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"murmur/internal/control"
	"murmur/internal/domain"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	for _, key := range []string{
		"OPENAI_API_KEY", "DEEPGRAM_API_KEY",
		"MURMUR_BACKEND", "MURMUR_RETRIES", "MURMUR_REMOTE_PROVIDER",
		"MURMUR_REMOTE_API_KEY", "MURMUR_LANGUAGE", "MURMUR_AUDIO_SAMPLE_RATE",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend != string(domain.BackendRemote) || cfg.Remote.Provider != ProviderOpenAI {
		t.Fatalf("unexpected backend defaults: %+v", cfg)
	}
	if cfg.Retries != 5 || cfg.Local.DownloadAttempts != 3 {
		t.Fatalf("unexpected retry defaults: retries=%d downloads=%d", cfg.Retries, cfg.Local.DownloadAttempts)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.ChunkSize != 4096 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.RecorderCommand != "ffmpeg" || cfg.Local.WhisperCommand != "whisper-cli" {
		t.Fatalf("unexpected command defaults: %+v %+v", cfg.Audio, cfg.Local)
	}
	if cfg.Retry.AttemptTimeout != 60*time.Second || cfg.Retry.InitialBackoff != 500*time.Millisecond {
		t.Fatalf("unexpected retry timing: %+v", cfg.Retry)
	}

	settings := cfg.Settings()
	if settings.DiscardDuration != 500*time.Millisecond {
		t.Fatalf("expected 0.5s discard, got %s", settings.DiscardDuration)
	}
	if !settings.AutoPaste || settings.RestoreClipboard {
		t.Fatalf("unexpected delivery defaults: %+v", settings)
	}
	if cfg.Control.Socket != control.DefaultSocketPath() {
		t.Fatalf("expected control socket default %s, got %s", control.DefaultSocketPath(), cfg.Control.Socket)
	}
}

func TestLoadReadsTOMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	body := strings.Join([]string{
		`backend = "local"`,
		`model = "small.en"`,
		`language = "en"`,
		`restore_clipboard = true`,
		`discard_duration = 1.25`,
		`retries = 2`,
		``,
		`[retry]`,
		`attempt_timeout = "15s"`,
		``,
		`[local]`,
		`threads = 4`,
		``,
		`[audio]`,
		`input_device = "alsa_input.usb"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	settings := cfg.Settings()
	if settings.Backend != domain.BackendLocal || settings.Model != "small.en" || settings.Language != "en" {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if !settings.RestoreClipboard || settings.DiscardDuration != 1250*time.Millisecond {
		t.Fatalf("unexpected delivery settings: %+v", settings)
	}
	if cfg.Local.Threads != 4 || cfg.Audio.InputDevice != "alsa_input.usb" {
		t.Fatalf("unexpected nested values: %+v %+v", cfg.Local, cfg.Audio)
	}

	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 2 || policy.AttemptTimeout != 15*time.Second {
		t.Fatalf("unexpected policy: %+v", policy)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "murmur.toml")
	if err := os.WriteFile(path, []byte("retries = 2\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("MURMUR_RETRIES", "7")
	t.Setenv("MURMUR_AUDIO_SAMPLE_RATE", "48000")
	t.Setenv("MURMUR_REMOTE_PROVIDER", "deepgram")
	t.Setenv("DEEPGRAM_API_KEY", " dg-key ")
	t.Setenv("OPENAI_API_KEY", "oa-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Retries != 7 || cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected env overrides, got retries=%d rate=%d", cfg.Retries, cfg.Audio.SampleRate)
	}
	if cfg.Remote.APIKey != "dg-key" {
		t.Fatalf("expected deepgram key fallback, got %q", cfg.Remote.APIKey)
	}
}

func TestLoadExplicitKeyWinsOverFallback(t *testing.T) {
	isolate(t)
	t.Setenv("MURMUR_REMOTE_API_KEY", "explicit")
	t.Setenv("OPENAI_API_KEY", "fallback")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Remote.APIKey != "explicit" {
		t.Fatalf("expected explicit key, got %q", cfg.Remote.APIKey)
	}
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "murmur.toml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MURMUR_TEST_DOTENV_LANGUAGE=fr\nMURMUR_LANGUAGE=fr\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// MURMUR_LANGUAGE is already set (empty) by isolate, so .env must not win.
	t.Cleanup(func() { _ = os.Unsetenv("MURMUR_TEST_DOTENV_LANGUAGE") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if os.Getenv("MURMUR_TEST_DOTENV_LANGUAGE") != "fr" {
		t.Fatalf("expected .env to be loaded")
	}
	if cfg.Language != "" {
		t.Fatalf("expected existing environment to win over .env, got %q", cfg.Language)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(filepath.Join(dir, "nope.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "backend", body: `backend = "cloud"`},
		{name: "provider", body: "[remote]\nprovider = \"acme\""},
		{name: "retries", body: `retries = 0`},
		{name: "discard", body: `discard_duration = -1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "murmur.toml")
			if err := os.WriteFile(path, []byte(tt.body+"\n"), 0o600); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "murmur", "murmur.toml")

	created, err := WriteDefault(path)
	if err != nil {
		t.Fatalf("write default failed: %v", err)
	}
	if !created {
		t.Fatalf("expected file to be created")
	}

	again, err := WriteDefault(path)
	if err != nil || again {
		t.Fatalf("expected existing file to be left alone, created=%v err=%v", again, err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written defaults failed: %v", err)
	}
	if cfg.Retries != 5 || cfg.Settings().DiscardDuration != 500*time.Millisecond {
		t.Fatalf("unexpected round-trip values: %+v", cfg)
	}
}

func TestWriteDefaultOmitsEnvironmentSecrets(t *testing.T) {
	dir := isolate(t)
	t.Setenv("MURMUR_REMOTE_API_KEY", "secret-value")
	path := filepath.Join(dir, "murmur.toml")

	if _, err := WriteDefault(path); err != nil {
		t.Fatalf("write default failed: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if strings.Contains(string(body), "secret-value") {
		t.Fatalf("default config must not contain environment secrets")
	}
}

func TestRetryPolicyKeepsJitteredExponentialShape(t *testing.T) {
	cfg := Config{Retries: 3, Retry: RetryConfig{InitialBackoff: time.Second, MaxBackoff: 4 * time.Second}}
	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 3 || policy.InitialBackoff != time.Second || policy.MaxBackoff != 4*time.Second {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	if policy.Multiplier < 2 || policy.Jitter <= 0 {
		t.Fatalf("expected exponential backoff with jitter, got %+v", policy)
	}
}
