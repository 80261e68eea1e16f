// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package websocket implements the appliance transport on top of
// gorilla/websocket.
package websocket

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/logiq/rpc/transport"
)

var logger = loggo.GetLogger("logiq.rpc.transport.websocket")

// ErrNotOpen is returned when sending on a socket that is not open.
const ErrNotOpen = errors.ConstError("socket not open")

const (
	// CloseNormal is reported when the client closed the socket.
	CloseNormal = websocket.CloseNormalClosure

	// CloseAbnormal is reported when the socket went away without a
	// close frame, including when it never opened.
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// Dialer opens sockets to appliances.
type Dialer struct {
	config DialerConfig
}

// NewDialer returns a dialer using the given config.
func NewDialer(config DialerConfig) (*Dialer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Dialer{config: config}, nil
}

// Dial is a transport.DialFunc. The address must be a ws or wss URL.
// The returned socket connects in the background.
func (d *Dialer) Dial(address string, handler transport.Handler) (transport.Transport, error) {
	socket, err := d.DialSocket(address, handler)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return socket, nil
}

// DialSocket is like Dial but returns the concrete socket, which is
// also a worker.
func (d *Dialer) DialSocket(address string, handler transport.Handler) (*Socket, error) {
	if handler == nil {
		return nil, errors.NotValidf("nil handler")
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.NewNotValid(err, "address")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.NotValidf("address scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.NotValidf("address %q without host", address)
	}

	s := &Socket{
		config:  d.config,
		address: address,
		handler: handler,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Socket is a transport.Transport over one websocket connection.
type Socket struct {
	catacomb catacomb.Catacomb
	config   DialerConfig
	address  string
	handler  transport.Handler

	// mu guards conn and open, and serialises data writes.
	mu   sync.Mutex
	conn *websocket.Conn
	open bool
}

// Send is part of the transport.Transport interface.
func (s *Socket) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if s.config.WriteWait > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait)); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// IsOpen is part of the transport.Transport interface.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close is part of the transport.Transport interface. It does not wait
// for the socket to close.
func (s *Socket) Close() error {
	s.Kill()
	return nil
}

// Kill is part of the worker.Worker interface.
func (s *Socket) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Socket) Wait() error {
	return s.catacomb.Wait()
}

// loop owns every call to the handler, so that they never overlap.
func (s *Socket) loop() error {
	code, reason := s.run()

	s.mu.Lock()
	s.open = false
	s.mu.Unlock()

	s.config.Logger.Debugf("socket to %s closed: %d %q", s.address, code, reason)
	s.handler.OnClose(code, reason)
	return nil
}

func (s *Socket) run() (int, string) {
	conn, err := s.dial()
	if err != nil {
		if s.dying() {
			return CloseNormal, "closed by client"
		}
		s.handler.OnError(err)
		return CloseAbnormal, err.Error()
	}
	defer conn.Close()

	if s.config.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
		})
	}

	s.mu.Lock()
	s.conn = conn
	s.open = true
	s.mu.Unlock()
	s.config.Logger.Infof("socket to %s open", s.address)
	s.handler.OnOpen()

	// Reads block, so they happen on their own goroutine and are
	// handed over here.
	done := make(chan struct{})
	defer close(done)
	messages := make(chan string)
	readErr := make(chan error, 1)
	go readLoop(conn, messages, readErr, done)

	var ping <-chan time.Time
	if s.config.PingPeriod > 0 {
		ping = s.config.Clock.After(s.config.PingPeriod)
	}
	for {
		select {
		case <-s.catacomb.Dying():
			s.writeClose(conn)
			return CloseNormal, "closed by client"
		case text := <-messages:
			s.handler.OnMessage(text)
		case err := <-readErr:
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code, closeErr.Text
			}
			s.handler.OnError(errors.Annotatef(err, "reading from %s", s.address))
			return CloseAbnormal, err.Error()
		case <-ping:
			if err := s.writePing(conn); err != nil {
				s.handler.OnError(errors.Annotatef(err, "pinging %s", s.address))
				return CloseAbnormal, err.Error()
			}
			ping = s.config.Clock.After(s.config.PingPeriod)
		}
	}
}

func (s *Socket) dying() bool {
	select {
	case <-s.catacomb.Dying():
		return true
	default:
		return false
	}
}

// dial performs the opening handshake. It is abandoned if the socket
// is killed meanwhile.
func (s *Socket) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.catacomb.Dying():
			cancel()
		case <-ctx.Done():
		}
	}()

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.config.HandshakeTimeout,
		TLSClientConfig:  s.config.TLSConfig,
	}
	s.config.Logger.Debugf("dialing %s", s.address)
	conn, resp, err := dialer.DialContext(ctx, s.address, s.config.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "dialing %s (%s)", s.address, resp.Status)
		}
		return nil, errors.Annotatef(err, "dialing %s", s.address)
	}
	return conn, nil
}

func (s *Socket) deadline() time.Time {
	if s.config.WriteWait > 0 {
		return time.Now().Add(s.config.WriteWait)
	}
	return time.Time{}
}

func (s *Socket) writePing(conn *websocket.Conn) error {
	s.config.Logger.Tracef("ping %s", s.address)
	return errors.Trace(conn.WriteControl(websocket.PingMessage, nil, s.deadline()))
}

func (s *Socket) writeClose(conn *websocket.Conn) {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(CloseNormal, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, s.deadline()); err != nil {
		s.config.Logger.Debugf("writing close to %s: %v", s.address, err)
	}
}

func readLoop(conn *websocket.Conn, messages chan<- string, readErr chan<- error, done <-chan struct{}) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if kind != websocket.TextMessage {
			logger.Debugf("ignoring message of type %d", kind)
			continue
		}
		select {
		case messages <- string(data):
		case <-done:
			return
		}
	}
}
