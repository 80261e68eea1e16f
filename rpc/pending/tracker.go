// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pending matches responses to the requests that caused them.
//
// Connections broadcast every response on the event bus. A Tracker
// listens for them and hands each one to the caller waiting on its id,
// so that callers can make blocking calls with a timeout.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/logiq/pubsub/eventbus"
	"github.com/juju/logiq/pubsub/rpcevents"
	"github.com/juju/logiq/rpc/jsonrpc"
)

const (
	// ErrTimeout is returned when no response arrived in time.
	ErrTimeout = errors.ConstError("request timed out")

	// ErrClosed is returned by calls on a closed tracker.
	ErrClosed = errors.ConstError("tracker closed")
)

// Sender sends a request. *api.Server and *connection.Connection
// satisfy it.
type Sender interface {
	Send(req *jsonrpc.Request) error
}

// Bus is the part of the event bus a Tracker uses.
type Bus interface {
	Subscribe(event string, l eventbus.Listener) error
	Unsubscribe(l eventbus.Listener, events ...string) error
}

// Logger represents the logging methods called.
type Logger interface {
	Warningf(message string, args ...any)
	Debugf(message string, args ...any)
	Tracef(message string, args ...any)
}

// Config holds the dependencies of a Tracker.
type Config struct {
	// Bus delivers the responses.
	Bus Bus

	// Clock times calls out.
	Clock clock.Clock

	// Timeout bounds every call. Zero means calls only end on a
	// response or when their context is done.
	Timeout time.Duration

	Logger Logger
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Timeout < 0 {
		return errors.NotValidf("negative Timeout")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Tracker holds the calls waiting for a response.
type Tracker struct {
	config Config
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	pending map[jsonrpc.ID]chan *jsonrpc.Response
}

// NewTracker returns a tracker subscribed to the responses on the bus.
func NewTracker(config Config) (*Tracker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	t := &Tracker{
		config:  config,
		done:    make(chan struct{}),
		pending: make(map[jsonrpc.ID]chan *jsonrpc.Response),
	}
	if err := config.Bus.Subscribe(rpcevents.ResponseReceivedTopic, t); err != nil {
		return nil, errors.Trace(err)
	}
	return t, nil
}

// Call sends req through sender and waits for the response with the
// same id. A response carrying an error is returned together with
// that error, which is a *jsonrpc.Error.
func (t *Tracker) Call(ctx context.Context, sender Sender, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req == nil {
		return nil, errors.NotValidf("nil request")
	}
	id := req.ID()
	if id.IsNull() {
		return nil, errors.NotValidf("request with null id")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := t.pending[id]; ok {
		t.mu.Unlock()
		return nil, errors.NotValidf("duplicate request id %s", id)
	}
	// Registered before sending, since the response may arrive on the
	// sending goroutine.
	reply := make(chan *jsonrpc.Response, 1)
	t.pending[id] = reply
	t.mu.Unlock()
	defer t.forget(id)

	if err := sender.Send(req); err != nil {
		return nil, errors.Annotatef(err, "calling %q", req.Method())
	}

	var timeout <-chan time.Time
	if t.config.Timeout > 0 {
		timeout = t.config.Clock.After(t.config.Timeout)
	}
	select {
	case resp := <-reply:
		if rpcErr := resp.RPCError(); rpcErr != nil {
			return resp, rpcErr
		}
		return resp, nil
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case <-timeout:
		return nil, errors.Annotatef(ErrTimeout, "%q (id %s) after %v", req.Method(), id, t.config.Timeout)
	case <-t.done:
		return nil, ErrClosed
	}
}

func (t *Tracker) forget(id jsonrpc.ID) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Update is part of the eventbus.Listener interface.
func (t *Tracker) Update(event string, source, data any) {
	resp, ok := data.(*jsonrpc.Response)
	if !ok {
		t.config.Logger.Warningf("unexpected %s data %T from %v", event, data, source)
		return
	}
	t.mu.Lock()
	reply, ok := t.pending[resp.ID()]
	delete(t.pending, resp.ID())
	t.mu.Unlock()
	if !ok {
		t.config.Logger.Debugf("no call waiting for response %s from %v", resp.ID(), source)
		return
	}
	t.config.Logger.Tracef("response %s matched", resp.ID())
	reply <- resp
}

// Pending returns the number of calls waiting for a response.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close unsubscribes the tracker and fails every waiting call with
// ErrClosed.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()
	return errors.Trace(t.config.Bus.Unsubscribe(t, rpcevents.ResponseReceivedTopic))
}
