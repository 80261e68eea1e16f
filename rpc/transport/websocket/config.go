// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package websocket

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

const (
	// DefaultHandshakeTimeout bounds the opening handshake.
	DefaultHandshakeTimeout = 45 * time.Second

	// DefaultPingPeriod is how often the appliance is pinged.
	DefaultPingPeriod = 30 * time.Second

	// DefaultPongWait is how long the socket may stay silent before
	// it is considered dead. It must be longer than the ping period.
	DefaultPongWait = 60 * time.Second

	// DefaultWriteWait bounds every write.
	DefaultWriteWait = 10 * time.Second
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
	Tracef(message string, args ...any)
}

// DialerConfig holds the configuration for a Dialer.
type DialerConfig struct {
	// Clock drives the ping ticker.
	Clock clock.Clock

	Logger Logger

	// HandshakeTimeout bounds the opening handshake. Zero means no
	// limit.
	HandshakeTimeout time.Duration

	// PingPeriod is the interval between pings. Zero disables pings.
	PingPeriod time.Duration

	// PongWait is how long a read may block before the socket is
	// closed as dead. Zero means reads never time out.
	PongWait time.Duration

	// WriteWait bounds every write. Zero means no limit.
	WriteWait time.Duration

	// Header is sent with the opening handshake. Credentials for the
	// appliance go here; they are opaque to the transport.
	Header http.Header

	// TLSConfig is used for wss addresses. Nil means the default.
	TLSConfig *tls.Config
}

// DefaultDialerConfig returns a config with the default timeouts, the
// wall clock and the package logger.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		Clock:            clock.WallClock,
		Logger:           logger,
		HandshakeTimeout: DefaultHandshakeTimeout,
		PingPeriod:       DefaultPingPeriod,
		PongWait:         DefaultPongWait,
		WriteWait:        DefaultWriteWait,
	}
}

// Validate ensures that the config values are valid.
func (c DialerConfig) Validate() error {
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.HandshakeTimeout < 0 {
		return errors.NotValidf("negative HandshakeTimeout")
	}
	if c.PingPeriod < 0 {
		return errors.NotValidf("negative PingPeriod")
	}
	if c.PongWait < 0 {
		return errors.NotValidf("negative PongWait")
	}
	if c.WriteWait < 0 {
		return errors.NotValidf("negative WriteWait")
	}
	if c.PongWait > 0 && c.PingPeriod > 0 && c.PongWait <= c.PingPeriod {
		return errors.NotValidf("PongWait %v not longer than PingPeriod %v", c.PongWait, c.PingPeriod)
	}
	return nil
}
