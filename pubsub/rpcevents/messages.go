// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rpcevents names the events published on the event bus by
// appliance connections, and documents their payloads.
package rpcevents

const (
	// ConnectionOpenedTopic is published when the transport of a
	// connection becomes ready. The source is the appliance address;
	// there is no data.
	ConnectionOpenedTopic = "connection-opened"

	// ConnectionClosedTopic is published when the transport of a
	// connection has closed. The source is the appliance address; the
	// data is a CloseDetails.
	ConnectionClosedTopic = "connection-closed"

	// RequestSentTopic is published after a request has been handed
	// to the transport. The source is the *connection.Connection and
	// the data the *jsonrpc.Request.
	RequestSentTopic = "request-sent"

	// ResponseReceivedTopic is published for every inbound payload
	// that parsed as a response. The source is the appliance address
	// and the data the *jsonrpc.Response.
	ResponseReceivedTopic = "response-received"

	// ResponseErrorTopic is published for every inbound payload that
	// could not be parsed. The source is the appliance address and
	// the data the parse error, which satisfies
	// errors.Is(err, jsonrpc.ErrMalformedResponse).
	ResponseErrorTopic = "response-error"

	// TransportErrorTopic is published when the transport reports an
	// error, or a write to it fails. The source is the appliance
	// address and the data the error.
	TransportErrorTopic = "transport-error"

	// RequestsForwardedTopic is published when requests still queued
	// on a closed connection are moved to its replacement. The source
	// is the appliance address and the data the []*jsonrpc.Request
	// moved, in their original order.
	RequestsForwardedTopic = "requests-forwarded"
)

// CloseDetails describes why a connection closed.
type CloseDetails struct {
	Code   int
	Reason string
}

// AllTopics returns every topic published by connections.
func AllTopics() []string {
	return []string{
		ConnectionOpenedTopic,
		ConnectionClosedTopic,
		RequestSentTopic,
		ResponseReceivedTopic,
		ResponseErrorTopic,
		TransportErrorTopic,
		RequestsForwardedTopic,
	}
}
