// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/juju/logiq/rpc/jsonrpc"
)

// AppliancePath is the path the fake appliance serves websockets on.
const AppliancePath = "/logiq"

// Responder computes the reply to a request. Returning nil sends no
// reply.
type Responder func(req *jsonrpc.Request) *jsonrpc.Response

// EchoResponder replies to every request with its method name.
func EchoResponder(req *jsonrpc.Request) *jsonrpc.Response {
	return jsonrpc.NewResultResponse(req.ID(), jsonrpc.String(req.Method()))
}

// Appliance is an in-process websocket server speaking the appliance
// side of the protocol.
type Appliance struct {
	server    *httptest.Server
	upgrader  websocket.Upgrader
	respond   Responder
	requireFn func(http.Header) bool

	received chan *jsonrpc.Request

	mu         sync.Mutex
	conns      []*websocket.Conn
	handshakes []http.Header
	requests   []*jsonrpc.Request
	pings      int
}

// NewAppliance starts an appliance that answers with respond, or with
// EchoResponder if respond is nil.
func NewAppliance(respond Responder) *Appliance {
	if respond == nil {
		respond = EchoResponder
	}
	a := &Appliance{
		respond:  respond,
		received: make(chan *jsonrpc.Request, 100),
	}
	router := mux.NewRouter()
	router.HandleFunc(AppliancePath, a.serve)
	a.server = httptest.NewServer(router)
	return a
}

// RequireHeader makes the appliance refuse handshakes whose headers
// do not satisfy check.
func (a *Appliance) RequireHeader(check func(http.Header) bool) {
	a.mu.Lock()
	a.requireFn = check
	a.mu.Unlock()
}

// URL returns the websocket address of the appliance.
func (a *Appliance) URL() string {
	return "ws" + strings.TrimPrefix(a.server.URL, "http") + AppliancePath
}

// Received returns a channel on which every request is also delivered.
func (a *Appliance) Received() <-chan *jsonrpc.Request {
	return a.received
}

// Requests returns the requests received so far.
func (a *Appliance) Requests() []*jsonrpc.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*jsonrpc.Request(nil), a.requests...)
}

// Handshakes returns the headers of every accepted handshake.
func (a *Appliance) Handshakes() []http.Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]http.Header(nil), a.handshakes...)
}

// WaitForConnections waits until n connections have been accepted in
// total, and reports whether they were.
func (a *Appliance) WaitForConnections(n int) bool {
	deadline := time.After(LongWait)
	for {
		a.mu.Lock()
		accepted := len(a.handshakes)
		a.mu.Unlock()
		if accepted >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Pings returns the number of pings received.
func (a *Appliance) Pings() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pings
}

// Push writes text to every open connection.
func (a *Appliance) Push(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, conn := range a.conns {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(text))
	}
}

// DropConnections closes every open connection with the given close
// code and reason.
func (a *Appliance) DropConnections(code int, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conns := a.conns
	a.conns = nil
	msg := websocket.FormatCloseMessage(code, reason)
	for _, conn := range conns {
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
	}
}

// Close drops every connection and stops the server.
func (a *Appliance) Close() {
	a.DropConnections(websocket.CloseGoingAway, "appliance stopping")
	a.server.Close()
}

func (a *Appliance) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	check := a.requireFn
	a.mu.Unlock()
	if check != nil && !check(r.Header) {
		http.Error(w, "invalid login", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.conns = append(a.conns, conn)
	a.handshakes = append(a.handshakes, r.Header.Clone())
	a.mu.Unlock()
	defer conn.Close()
	conn.SetPingHandler(func(data string) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.pings++
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := jsonrpc.ParseRequest(string(data))
		if err != nil {
			a.reply(conn, `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`)
			continue
		}
		a.mu.Lock()
		a.requests = append(a.requests, req)
		a.mu.Unlock()
		select {
		case a.received <- req:
		default:
		}

		resp := a.respond(req)
		if resp == nil {
			continue
		}
		out, err := resp.MarshalJSON()
		if err != nil {
			continue
		}
		a.reply(conn, string(out))
	}
}

func (a *Appliance) reply(conn *websocket.Conn, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(text))
}
