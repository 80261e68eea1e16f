// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package transport defines the boundary between an appliance
// connection and the message-oriented socket carrying its traffic.
package transport

//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/transport_mock.go github.com/juju/logiq/rpc/transport Transport,Handler

// Handler receives notifications from a Transport. A transport calls
// OnOpen at most once, and OnClose exactly once, after which it makes
// no further calls. OnMessage and OnError are only called between
// those. Calls are never made concurrently.
type Handler interface {
	// OnOpen is called when the transport is ready to send.
	OnOpen()

	// OnClose is called when the transport has closed, whether it
	// ever opened or not.
	OnClose(code int, reason string)

	// OnMessage is called with the text of every inbound message.
	OnMessage(text string)

	// OnError is called when the transport hits an error. It does
	// not by itself mean the transport has closed.
	OnError(err error)
}

// Transport is a single socket.
type Transport interface {
	// Send writes one text message. It is safe to call concurrently.
	Send(text string) error

	// IsOpen reports whether the transport is currently open.
	IsOpen() bool

	// Close starts closing the transport. The handler's OnClose is
	// called once it has closed.
	Close() error
}

// DialFunc starts connecting to address and returns immediately. The
// outcome is reported to handler. An error is returned only when the
// connection attempt cannot be started at all, e.g. for a malformed
// address; the handler is not called in that case.
type DialFunc func(address string, handler Handler) (Transport, error)
