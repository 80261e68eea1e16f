// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package connection implements the lifecycle of a single socket to a
// LogIQ appliance.
//
// A Connection starts out connecting. Requests sent before the socket
// opens are queued and written, in order, as soon as it does; requests
// sent while it is open are written straight away. Inbound messages
// are parsed into responses and published on the event bus, together
// with every lifecycle change. A closed connection stays closed:
// reconnecting means creating a new Connection.
package connection

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/logiq/pubsub/rpcevents"
	"github.com/juju/logiq/rpc/jsonrpc"
	"github.com/juju/logiq/rpc/transport"
)

// ErrDrained is returned when sending on a closed connection whose
// undelivered requests have already been handed over to a replacement.
const ErrDrained = errors.ConstError("connection drained")

// State is the lifecycle state of a Connection.
type State int

const (
	// Connecting is the state of a new connection until the
	// transport reports it is open or closed.
	Connecting State = iota
	// Open means requests are written immediately.
	Open
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Publisher publishes events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(event string, source, data any) error
}

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
	Tracef(message string, args ...any)
}

// Config holds the dependencies of a Connection.
type Config struct {
	// Address is the address of the appliance, as understood by Dial.
	Address string

	// Dial starts the transport.
	Dial transport.DialFunc

	// Bus receives the events of the connection.
	Bus Publisher

	// Clock stamps inbound responses.
	Clock clock.Clock

	Logger Logger

	// Queued holds requests carried over from an earlier connection.
	// They are written before anything sent on this one.
	Queued []*jsonrpc.Request
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Address == "" {
		return errors.NotValidf("empty Address")
	}
	if c.Dial == nil {
		return errors.NotValidf("nil Dial")
	}
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	for i, req := range c.Queued {
		if req == nil {
			return errors.NotValidf("nil queued request %d", i)
		}
	}
	return nil
}

// Connection owns one transport to the appliance. It implements
// transport.Handler; the transport reports its lifecycle through it.
type Connection struct {
	id      string
	address string
	bus     Publisher
	clock   clock.Clock
	logger  Logger

	// mu guards the fields below.
	mu        sync.Mutex
	transport transport.Transport
	state     State
	// flushing is set while queued requests are being written after
	// the transport opened. Requests sent meanwhile join the queue so
	// that they are written after the earlier ones.
	flushing bool
	// drained is set once Undelivered has handed the queue over.
	drained bool
	queue   []*jsonrpc.Request
}

var _ transport.Handler = (*Connection)(nil)

// New creates a connection in the Connecting state and starts dialing
// the appliance. An error is returned if the config is invalid or the
// dial could not be started.
func New(config Config) (*Connection, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	c := &Connection{
		id:      uuid.NewString(),
		address: config.Address,
		bus:     config.Bus,
		clock:   config.Clock,
		logger:  config.Logger,
		state:   Connecting,
		queue:   append([]*jsonrpc.Request(nil), config.Queued...),
	}

	// Hold the lock while dialing so that a transport reporting back
	// from another goroutine waits until it has been recorded.
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := config.Dial(config.Address, c)
	if err != nil {
		c.state = Closed
		return nil, errors.Annotatef(err, "dialing %q", config.Address)
	}
	c.transport = t
	c.logger.Debugf("connection %s dialing %s", c.id, c.address)
	return c, nil
}

// ID returns the unique id of the connection.
func (c *Connection) ID() string {
	return c.id
}

// Address returns the address of the appliance.
func (c *Connection) Address() string {
	return c.address
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the connection is Open.
func (c *Connection) IsOpen() bool {
	return c.State() == Open
}

// Queued returns the number of requests waiting to be written.
func (c *Connection) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection %s to %s", c.id, c.address)
}

// Send writes req if the connection is open, and queues it otherwise.
// Queuing is never an error. An error is returned if writing to an
// open transport failed; it is also published as a transport error.
// A write that fails because the connection closed meanwhile queues
// req instead. Once the connection has been drained, Send fails with
// ErrDrained.
func (c *Connection) Send(req *jsonrpc.Request) error {
	if req == nil {
		return errors.NotValidf("nil request")
	}

	c.mu.Lock()
	switch {
	case c.drained:
		c.mu.Unlock()
		return ErrDrained
	case c.state != Open || c.flushing:
		c.queue = append(c.queue, req)
		c.mu.Unlock()
		c.logger.Debugf("%s: queued request %s", c, req.ID())
		return nil
	case len(c.queue) > 0:
		// An earlier flush stopped on a write failure; retry it, with
		// this request at the back of the queue.
		c.queue = append(c.queue, req)
		c.flushing = true
		c.mu.Unlock()
		c.flush()
		return nil
	}
	t := c.transport
	c.mu.Unlock()

	err := c.write(t, req)
	if err == nil {
		return nil
	}
	// The transport may have closed after the state was checked. The
	// request was not written, so keep it for the replacement.
	c.mu.Lock()
	switch {
	case c.drained:
		c.mu.Unlock()
		return ErrDrained
	case c.state == Closed:
		c.queue = append(c.queue, req)
		c.mu.Unlock()
		c.logger.Debugf("%s: closed while sending, queued request %s", c, req.ID())
		return nil
	}
	c.mu.Unlock()
	return errors.Trace(err)
}

// Undelivered removes and returns the requests still queued on a
// closed connection, in the order they were sent, and marks the
// connection drained. It returns nil for a connection that is not
// closed.
func (c *Connection) Undelivered() []*jsonrpc.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		return nil
	}
	queue := c.queue
	c.queue = nil
	c.drained = true
	return queue
}

// Close closes the transport. The connection becomes Closed once the
// transport reports it has closed.
func (c *Connection) Close() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	return errors.Trace(t.Close())
}

// OnOpen is part of the transport.Handler interface.
func (c *Connection) OnOpen() {
	c.mu.Lock()
	if state := c.state; state != Connecting {
		c.mu.Unlock()
		c.logger.Warningf("%s: ignoring open in state %s", c, state)
		return
	}
	c.state = Open
	c.flushing = true
	queued := len(c.queue)
	c.mu.Unlock()

	c.logger.Infof("%s opened, %d queued requests", c, queued)
	c.publish(rpcevents.ConnectionOpenedTopic, c.address, nil)
	c.flush()
}

// flush writes queued requests in order until the queue is empty or a
// write fails. It must only be called by whoever set flushing.
func (c *Connection) flush() {
	for {
		c.mu.Lock()
		if c.state != Open || len(c.queue) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		t := c.transport
		c.mu.Unlock()

		if err := c.write(t, req); err != nil {
			c.mu.Lock()
			c.queue = append([]*jsonrpc.Request{req}, c.queue...)
			c.flushing = false
			remaining := len(c.queue)
			c.mu.Unlock()
			c.logger.Warningf("%s: flush stopped with %d requests queued: %v", c, remaining, err)
			return
		}
	}
}

func (c *Connection) write(t transport.Transport, req *jsonrpc.Request) error {
	text, err := req.Encode()
	if err != nil {
		return errors.Trace(err)
	}
	if err := t.Send(text); err != nil {
		c.publish(rpcevents.TransportErrorTopic, c.address, err)
		return errors.Annotatef(err, "sending request %s", req.ID())
	}
	c.logger.Tracef("%s: sent %s", c, req)
	c.publish(rpcevents.RequestSentTopic, c, req)
	return nil
}

// OnClose is part of the transport.Handler interface.
func (c *Connection) OnClose(code int, reason string) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	queued := len(c.queue)
	c.mu.Unlock()

	c.logger.Infof("%s closed (%d %q), %d requests undelivered", c, code, reason, queued)
	c.publish(rpcevents.ConnectionClosedTopic, c.address, rpcevents.CloseDetails{
		Code:   code,
		Reason: reason,
	})
}

// OnMessage is part of the transport.Handler interface. Payloads that
// do not parse are published as response errors.
func (c *Connection) OnMessage(text string) {
	resp, err := jsonrpc.ParseResponseWithClock(text, c.clock)
	if err != nil {
		c.logger.Warningf("%s: %v", c, err)
		c.publish(rpcevents.ResponseErrorTopic, c.address, err)
		return
	}
	c.logger.Tracef("%s: received %s", c, resp)
	c.publish(rpcevents.ResponseReceivedTopic, c.address, resp)
}

// OnError is part of the transport.Handler interface.
func (c *Connection) OnError(err error) {
	c.logger.Warningf("%s: transport error: %v", c, err)
	c.publish(rpcevents.TransportErrorTopic, c.address, err)
}

func (c *Connection) publish(event string, source, data any) {
	if err := c.bus.Publish(event, source, data); err != nil {
		c.logger.Errorf("%s: publishing %q: %v", c, event, err)
	}
}
