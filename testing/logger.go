// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"

	"github.com/juju/loggo/v2"
)

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger satisfies the Logger interfaces of the logiq packages.
// It logs to a *testing.T or *check.C, so output only shows up for
// failing tests.
type CheckLogger struct {
	Log CheckLog
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) CheckLogger {
	return CheckLogger{Log: log}
}

func (c CheckLogger) logf(level loggo.Level, msg string, args ...any) {
	c.Log.Logf("%s: %s", level, fmt.Sprintf(msg, args...))
}

func (c CheckLogger) Criticalf(msg string, args ...any) { c.logf(loggo.CRITICAL, msg, args...) }
func (c CheckLogger) Errorf(msg string, args ...any)    { c.logf(loggo.ERROR, msg, args...) }
func (c CheckLogger) Warningf(msg string, args ...any)  { c.logf(loggo.WARNING, msg, args...) }
func (c CheckLogger) Infof(msg string, args ...any)     { c.logf(loggo.INFO, msg, args...) }
func (c CheckLogger) Debugf(msg string, args ...any)    { c.logf(loggo.DEBUG, msg, args...) }
func (c CheckLogger) Tracef(msg string, args ...any)    { c.logf(loggo.TRACE, msg, args...) }
