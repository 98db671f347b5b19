// Package obslog builds the structured loggers every kernel component
// fields with its own name. All logging funnels through logrus.
package obslog

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// Level is a logging verbosity independent of logrus so callers outside
// this package don't need to import logrus just to configure it.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config configures a component logger.
type Config struct {
	Level   Level
	Format  string // "json" or "text"
	Service string
	Version string
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text"}
}

// streamSplitter routes error-level entries to stderr and everything else
// to stdout, so container log collectors can treat the two streams
// differently without parsing structured fields.
type streamSplitter struct{}

func (streamSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// New builds a *logrus.Logger with cfg's format and level. It adds no
// fields; Component adds the service/version fields.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(streamSplitter{})

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}

// Component returns an entry fielded the way every AOS component logs:
// component name plus, if set, service/version.
func Component(cfg Config, name string) *logrus.Entry {
	entry := New(cfg).WithField("component", name)
	if cfg.Service != "" {
		entry = entry.WithField("service", cfg.Service)
	}
	if cfg.Version != "" {
		entry = entry.WithField("version", cfg.Version)
	}
	return entry
}
