package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"murmur/internal/control"
	"murmur/internal/domain"
	"murmur/internal/resilience"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"

	envPrefix = "murmur"
)

// Config stores runtime configuration for the daemon.
type Config struct {
	Backend          string        `mapstructure:"backend"`
	Model            string        `mapstructure:"model"`
	Language         string        `mapstructure:"language"`
	RestoreClipboard bool          `mapstructure:"restore_clipboard"`
	AutoPaste        bool          `mapstructure:"auto_paste"`
	DiscardDuration  float64       `mapstructure:"discard_duration"`
	Retries          int           `mapstructure:"retries"`
	Notifications    bool          `mapstructure:"notifications"`
	Retry            RetryConfig   `mapstructure:"retry"`
	Remote           RemoteConfig  `mapstructure:"remote"`
	Local            LocalConfig   `mapstructure:"local"`
	Audio            AudioConfig   `mapstructure:"audio"`
	Control          ControlConfig `mapstructure:"control"`
	Metrics          MetricsConfig `mapstructure:"metrics"`
}

type RetryConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type RemoteConfig struct {
	Provider    string `mapstructure:"provider"`
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	SmartFormat bool   `mapstructure:"smart_format"`
}

type LocalConfig struct {
	ModelsDir        string `mapstructure:"models_dir"`
	ModelsBaseURL    string `mapstructure:"models_base_url"`
	WhisperCommand   string `mapstructure:"whisper_command"`
	Threads          int    `mapstructure:"threads"`
	DownloadAttempts int    `mapstructure:"download_attempts"`
	ModelSHA256      string `mapstructure:"model_sha256"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"recorder_command"`
	InputFormat     string `mapstructure:"input_format"`
	InputDevice     string `mapstructure:"input_device"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
	ChunkSize       int    `mapstructure:"chunk_size"`
}

type ControlConfig struct {
	Socket string `mapstructure:"socket"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultPath is $XDG_CONFIG_HOME/murmur/murmur.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "murmur", "murmur.toml")
}

func defaultModelsDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "murmur", "models")
}

// newViper carries defaults only. Environment binding is added by Load so
// WriteDefault never persists secrets from the environment.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("backend", string(domain.BackendRemote))
	v.SetDefault("model", "")
	v.SetDefault("language", "")
	v.SetDefault("restore_clipboard", false)
	v.SetDefault("auto_paste", true)
	v.SetDefault("discard_duration", 0.5)
	v.SetDefault("retries", 5)
	v.SetDefault("notifications", true)

	v.SetDefault("retry.initial_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "8s")
	v.SetDefault("retry.attempt_timeout", "60s")

	v.SetDefault("remote.provider", ProviderOpenAI)
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.smart_format", true)

	v.SetDefault("local.models_dir", defaultModelsDir())
	v.SetDefault("local.models_base_url", "")
	v.SetDefault("local.whisper_command", "whisper-cli")
	v.SetDefault("local.threads", 0)
	v.SetDefault("local.download_attempts", 3)
	v.SetDefault("local.model_sha256", "")

	v.SetDefault("audio.recorder_command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_size", 4096)

	v.SetDefault("control.socket", control.DefaultSocketPath())
	v.SetDefault("metrics.addr", "")
	return v
}

// Load reads the TOML file at path, then applies .env and MURMUR_*
// overrides. An empty path uses DefaultPath; a missing default file is not
// an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	loadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env"))

	v := newViper()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if explicit {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Remote.APIKey == "" {
		switch cfg.Remote.Provider {
		case ProviderOpenAI:
			cfg.Remote.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		case ProviderDeepgram:
			cfg.Remote.APIKey = strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY"))
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path unless a file is
// already there.
func WriteDefault(path string) (bool, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := newViper().SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if errors.As(err, &exists) {
			return false, nil
		}
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Remote.Provider = strings.ToLower(strings.TrimSpace(c.Remote.Provider))
	c.Remote.APIKey = strings.TrimSpace(c.Remote.APIKey)
	c.Model = strings.TrimSpace(c.Model)
	c.Language = strings.TrimSpace(c.Language)
	c.Audio.InputDevice = firstNonEmpty(c.Audio.InputDevice, "default")

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.ChunkSize < 256 {
		c.Audio.ChunkSize = 4096
	}
	if c.Local.DownloadAttempts <= 0 {
		c.Local.DownloadAttempts = 3
	}
}

// Validate rejects settings no session could run with.
func (c Config) Validate() error {
	var errs []error
	if !domain.BackendKind(c.Backend).Valid() {
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", domain.BackendLocal, domain.BackendRemote, c.Backend))
	}
	if c.Remote.Provider != ProviderOpenAI && c.Remote.Provider != ProviderDeepgram {
		errs = append(errs, fmt.Errorf("remote.provider must be %q or %q, got %q", ProviderOpenAI, ProviderDeepgram, c.Remote.Provider))
	}
	if c.Retries < 1 {
		errs = append(errs, fmt.Errorf("retries must be at least 1, got %d", c.Retries))
	}
	if c.DiscardDuration < 0 {
		errs = append(errs, fmt.Errorf("discard_duration must not be negative, got %v", c.DiscardDuration))
	}
	if c.Retry.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("retry.attempt_timeout must not be negative, got %s", c.Retry.AttemptTimeout))
	}
	return errors.Join(errs...)
}

// Settings is the snapshot a new session starts from.
func (c Config) Settings() domain.SessionSettings {
	return domain.SessionSettings{
		Backend:          domain.BackendKind(c.Backend),
		Model:            c.Model,
		Language:         c.Language,
		RestoreClipboard: c.RestoreClipboard,
		AutoPaste:        c.AutoPaste,
		DiscardDuration:  time.Duration(c.DiscardDuration * float64(time.Second)),
	}
}

// RetryPolicy turns retries into a total attempt budget.
func (c Config) RetryPolicy() resilience.RetryPolicy {
	policy := resilience.DefaultRetryPolicy()
	policy.MaxAttempts = c.Retries
	if c.Retry.InitialBackoff > 0 {
		policy.InitialBackoff = c.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff > 0 {
		policy.MaxBackoff = c.Retry.MaxBackoff
	}
	policy.AttemptTimeout = c.Retry.AttemptTimeout
	return policy
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
