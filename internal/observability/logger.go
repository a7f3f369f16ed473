// Package observability sets up structured logging and Prometheus metrics.
package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig is read from MURMUR_LOG_LEVEL and MURMUR_LOG_PRETTY.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"true"`
}

var (
	loggerMu     sync.Mutex
	globalLogger zerolog.Logger
	initialized  bool
)

// LoadLogConfig reads logging settings from the environment.
func LoadLogConfig() (LogConfig, error) {
	var cfg LogConfig
	if err := envconfig.Process("murmur", &cfg); err != nil {
		return LogConfig{Level: "info", Pretty: true}, err
	}
	return cfg, nil
}

// InitLogger configures the global logger. Output goes to stderr so stdout
// stays free for command output.
func InitLogger(cfg LogConfig) zerolog.Logger {
	return initLogger(cfg, os.Stderr)
}

func initLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger = globalLogger
	initialized = true
	return globalLogger
}

// Logger returns the global logger, initializing defaults on first use.
func Logger() zerolog.Logger {
	loggerMu.Lock()
	ready := initialized
	loggerMu.Unlock()
	if !ready {
		return InitLogger(LogConfig{Level: "info"})
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	return globalLogger
}

// Component tags the global logger with a component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
