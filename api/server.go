// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package api provides the handle application code holds on a LogIQ
// appliance.
package api

import (
	"sync"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/logiq/pubsub/rpcevents"
	"github.com/juju/logiq/rpc/connection"
	"github.com/juju/logiq/rpc/jsonrpc"
	"github.com/juju/logiq/rpc/transport"
)

var logger = loggo.GetLogger("logiq.api")

// ServerConfig holds the configuration of a Server.
type ServerConfig struct {
	// Address is the address of the appliance.
	Address string

	// Dial starts transports to the appliance.
	Dial transport.DialFunc

	// Bus receives the events of every connection the server makes.
	Bus connection.Publisher

	// Clock stamps inbound responses. Defaults to the wall clock.
	Clock clock.Clock

	// Logger defaults to the package logger.
	Logger connection.Logger
}

// Validate ensures that the config values are valid.
func (c ServerConfig) Validate() error {
	if c.Address == "" {
		return errors.NotValidf("empty Address")
	}
	if c.Dial == nil {
		return errors.NotValidf("nil Dial")
	}
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	return nil
}

// Server is a handle on one appliance. It owns at most one live
// connection, created when a request is first sent and replaced once
// it has closed. Requests still queued on a closed connection are
// carried over to its replacement.
type Server struct {
	config ServerConfig

	mu   sync.Mutex
	conn *connection.Connection
	// carried holds requests taken from a closed connection whose
	// replacement could not be created.
	carried []*jsonrpc.Request
}

// NewServer returns a server for the appliance at config.Address. No
// connection is made until the first Send.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = logger
	}
	return &Server{config: config}, nil
}

// Address returns the address of the appliance.
func (s *Server) Address() string {
	return s.config.Address
}

// IsOpen reports whether the server has an open connection.
func (s *Server) IsOpen() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn != nil && conn.IsOpen()
}

// Send hands req to the current connection, connecting first if there
// is no connection or it has closed. The request is written now if the
// connection is open, and queued until it opens otherwise.
func (s *Server) Send(req *jsonrpc.Request) error {
	if req == nil {
		return errors.NotValidf("nil request")
	}
	for {
		conn, err := s.connection()
		if err != nil {
			return errors.Trace(err)
		}
		err = conn.Send(req)
		if errors.Is(err, connection.ErrDrained) {
			// Replaced between picking it and sending on it.
			continue
		}
		return errors.Trace(err)
	}
}

// connection returns the live connection, replacing a closed one.
func (s *Server) connection() (*connection.Connection, error) {
	s.mu.Lock()
	old := s.conn
	if old != nil && old.State() != connection.Closed {
		s.mu.Unlock()
		return old, nil
	}

	carried := s.carried
	if old != nil {
		carried = append(carried, old.Undelivered()...)
	}
	conn, err := connection.New(connection.Config{
		Address: s.config.Address,
		Dial:    s.config.Dial,
		Bus:     s.config.Bus,
		Clock:   s.config.Clock,
		Logger:  s.config.Logger,
		Queued:  carried,
	})
	if err != nil {
		s.carried = carried
		s.mu.Unlock()
		if len(carried) > 0 {
			return nil, errors.Annotatef(err, "connecting with %d requests undelivered", len(carried))
		}
		return nil, errors.Trace(err)
	}
	s.conn = conn
	s.carried = nil
	s.mu.Unlock()

	if old != nil {
		s.config.Logger.Infof("replaced closed connection %s with %s", old.ID(), conn.ID())
	}
	if len(carried) > 0 {
		s.config.Logger.Infof("forwarded %d undelivered requests to %s", len(carried), conn.ID())
		if err := s.config.Bus.Publish(rpcevents.RequestsForwardedTopic, s.config.Address, carried); err != nil {
			s.config.Logger.Errorf("publishing %q: %v", rpcevents.RequestsForwardedTopic, err)
		}
	}
	return conn, nil
}

// Close closes the current connection, if any. A later Send connects
// again.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return errors.Trace(conn.Close())
}
