// Package logger holds the process-wide logrus logger. Components receive a
// *logrus.Entry derived from it rather than reaching for the global directly.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the global logger instance.
var Log *logrus.Logger

func init() {
	Log = newLogger(logrus.InfoLevel, os.Stdout)
}

// Config selects the log level and output format.
type Config struct {
	Level string `json:"level"` // debug, info, warn, error (default: info)
	JSON  bool   `json:"json"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Init rebuilds the global logger from cfg. A nil cfg means info level, text output.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log = newLogger(level, os.Stdout)
	if cfg.JSON {
		Log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	}
	return err
}

func newLogger(level logrus.Level, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetOutput(out)
	return l
}

// Component returns an entry tagged with a component name, e.g. "ENGINE".
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// Discard returns an entry that drops everything. Tests use it to keep output quiet.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

func WithField(key string, value any) *logrus.Entry {
	return Log.WithField(key, value)
}

func Debugf(format string, args ...any) {
	Log.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	Log.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	Log.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	Log.Errorf(format, args...)
}
