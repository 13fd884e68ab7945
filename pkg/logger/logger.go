// Package logger provides structured logging for the allocation layer.
// It wraps logrus so callers carry a single *Logger handle with the
// component name pre-bound as a field.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level      string
	Format     string // "json" or "text"
	Output     string // "stdout", "stderr" or "file"
	FilePrefix string
}

// Logger is a logrus entry bound to a component name.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		base.SetOutput(os.Stderr)
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "allocation"
		}
		name := prefix + "-" + time.Now().UTC().Format("20060102") + ".log"
		file, err := os.OpenFile(filepath.Clean(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			base.SetOutput(os.Stdout)
		} else {
			base.SetOutput(file)
		}
	default:
		base.SetOutput(os.Stdout)
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	log := New(LoggingConfig{Level: "info"})
	log.Entry = log.Entry.WithField("component", component)
	return log
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// SetOutput redirects all output of the underlying logger.
func (l *Logger) SetOutput(w io.Writer) {
	l.Entry.Logger.SetOutput(w)
}
