// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
)

// LoggingConfigEnvKey names the environment variable holding the
// default logging configuration.
const LoggingConfigEnvKey = "LOGIQ_LOGGING_CONFIG"

// Log manages the logging flags of a command.
type Log struct {
	// DefaultConfig is used when no --logging-config is given.
	// NewLog fills it from the environment.
	DefaultConfig string

	Config  string
	Verbose bool
	Debug   bool
}

// NewLog returns a Log whose default configuration is read from
// LoggingConfigEnvKey.
func NewLog() *Log {
	return &Log{DefaultConfig: os.Getenv(LoggingConfigEnvKey)}
}

// AddFlags adds the logging flags to f.
func (l *Log) AddFlags(f *gnuflag.FlagSet) {
	f.StringVar(&l.Config, "logging-config", l.DefaultConfig, "Specify log levels for modules")
	f.BoolVar(&l.Verbose, "v", false, "Show informational log messages")
	f.BoolVar(&l.Verbose, "verbose", false, "")
	f.BoolVar(&l.Debug, "debug", false, "Equivalent to --logging-config=<root>=DEBUG")
}

// Start configures the loggers. The writer passed to loggo is
// replaced so log output goes to the context's stderr.
func (l *Log) Start(ctx *Context) error {
	level := loggo.WARNING
	if l.Verbose {
		level = loggo.INFO
	}
	if l.Debug {
		level = loggo.DEBUG
	}
	loggo.DefaultContext().ResetLoggerLevels()
	loggo.GetLogger("").SetLogLevel(level)
	if l.Config != "" {
		if err := loggo.ConfigureLoggers(l.Config); err != nil {
			return errors.Annotatef(err, "parsing logging config %q", l.Config)
		}
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(ctx.Stderr, loggo.DefaultFormatter)); err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("logging configured as %q", loggo.LoggerInfo())
	return nil
}
