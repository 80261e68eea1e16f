// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"sync"

	"github.com/juju/errors"

	"github.com/juju/logiq/rpc/transport"
)

// NormalClosure is the close code reported by FakeTransport.Close.
const NormalClosure = 1000

// FakeTransport is an in-memory transport.Transport. It records the
// messages sent through it, and lets a test drive its handler as the
// remote end would.
type FakeTransport struct {
	address string
	handler transport.Handler

	mu      sync.Mutex
	open    bool
	closed  bool
	sent    []string
	sendErr error
}

// Address returns the address the transport was dialed with.
func (t *FakeTransport) Address() string {
	return t.address
}

// Send is part of the transport.Transport interface.
func (t *FakeTransport) Send(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	if !t.open {
		return errors.New("transport not open")
	}
	t.sent = append(t.sent, text)
	return nil
}

// IsOpen is part of the transport.Transport interface.
func (t *FakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Close is part of the transport.Transport interface. The handler is
// told about the close before Close returns.
func (t *FakeTransport) Close() error {
	t.Drop(NormalClosure, "closed by client")
	return nil
}

// Sent returns the messages sent so far.
func (t *FakeTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// SetSendError makes every following Send fail with err, or succeed
// again if err is nil.
func (t *FakeTransport) SetSendError(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// Open marks the transport open and notifies the handler.
func (t *FakeTransport) Open() {
	t.mu.Lock()
	if t.open || t.closed {
		t.mu.Unlock()
		return
	}
	t.open = true
	t.mu.Unlock()
	t.handler.OnOpen()
}

// Drop closes the transport as the remote end would.
func (t *FakeTransport) Drop(code int, reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.open = false
	t.closed = true
	t.mu.Unlock()
	t.handler.OnClose(code, reason)
}

// Receive delivers an inbound message to the handler.
func (t *FakeTransport) Receive(text string) {
	t.handler.OnMessage(text)
}

// Fail reports a transport error to the handler.
func (t *FakeTransport) Fail(err error) {
	t.handler.OnError(err)
}

// FakeDialer hands out FakeTransports and remembers each of them.
type FakeDialer struct {
	mu         sync.Mutex
	err        error
	transports []*FakeTransport
}

// SetError makes Dial fail with err, or succeed again if err is nil.
func (d *FakeDialer) SetError(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Dial is a transport.DialFunc.
func (d *FakeDialer) Dial(address string, handler transport.Handler) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t := &FakeTransport{
		address: address,
		handler: handler,
	}
	d.transports = append(d.transports, t)
	return t, nil
}

// Transports returns every transport dialed so far.
func (d *FakeDialer) Transports() []*FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeTransport(nil), d.transports...)
}

// Last returns the most recently dialed transport, or nil.
func (d *FakeDialer) Last() *FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
