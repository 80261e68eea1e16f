// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package connection_test

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/logiq/pubsub/eventbus"
	"github.com/juju/logiq/pubsub/rpcevents"
	"github.com/juju/logiq/rpc/connection"
	"github.com/juju/logiq/rpc/jsonrpc"
	"github.com/juju/logiq/rpc/transport"
	"github.com/juju/logiq/rpc/transport/mocks"
	"github.com/juju/logiq/testing"
)

const address = "ws://appliance.example:8080/"

type connectionSuite struct {
	clock    *testclock.Clock
	bus      *eventbus.Bus
	dialer   *testing.FakeDialer
	recorder *testing.EventRecorder
}

var _ = gc.Suite(&connectionSuite{})

func (s *connectionSuite) SetUpTest(c *gc.C) {
	s.clock = testclock.NewClock(time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))
	s.bus = eventbus.New()
	s.dialer = &testing.FakeDialer{}
	var err error
	s.recorder, err = testing.RecordEvents(s.bus, rpcevents.AllTopics()...)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *connectionSuite) config(c *gc.C) connection.Config {
	return connection.Config{
		Address: address,
		Dial:    s.dialer.Dial,
		Bus:     s.bus,
		Clock:   s.clock,
		Logger:  testing.NewCheckLogger(c),
	}
}

func (s *connectionSuite) newConnection(c *gc.C) (*connection.Connection, *testing.FakeTransport) {
	conn, err := connection.New(s.config(c))
	c.Assert(err, jc.ErrorIsNil)
	t := s.dialer.Last()
	c.Assert(t, gc.NotNil)
	return conn, t
}

func request(c *gc.C, id int64, method string, params ...jsonrpc.Value) *jsonrpc.Request {
	req, err := jsonrpc.NewRequest(method, params, jsonrpc.WithID(jsonrpc.NumberID(id)))
	c.Assert(err, jc.ErrorIsNil)
	return req
}

func (s *connectionSuite) TestValidate(c *gc.C) {
	for i, test := range []struct {
		mutate func(*connection.Config)
		err    string
	}{{
		mutate: func(cfg *connection.Config) { cfg.Address = "" },
		err:    "empty Address not valid",
	}, {
		mutate: func(cfg *connection.Config) { cfg.Dial = nil },
		err:    "nil Dial not valid",
	}, {
		mutate: func(cfg *connection.Config) { cfg.Bus = nil },
		err:    "nil Bus not valid",
	}, {
		mutate: func(cfg *connection.Config) { cfg.Clock = nil },
		err:    "nil Clock not valid",
	}, {
		mutate: func(cfg *connection.Config) { cfg.Logger = nil },
		err:    "nil Logger not valid",
	}} {
		c.Logf("test %d", i)
		cfg := s.config(c)
		test.mutate(&cfg)
		err := cfg.Validate()
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.err)

		_, err = connection.New(cfg)
		c.Check(err, jc.ErrorIs, errors.NotValid)
	}
	c.Check(s.dialer.Transports(), gc.HasLen, 0)
}

func (s *connectionSuite) TestNewIsConnecting(c *gc.C) {
	conn, t := s.newConnection(c)
	c.Check(conn.State(), gc.Equals, connection.Connecting)
	c.Check(conn.IsOpen(), jc.IsFalse)
	c.Check(conn.Address(), gc.Equals, address)
	c.Check(conn.ID(), gc.Not(gc.Equals), "")
	c.Check(t.Address(), gc.Equals, address)
	c.Check(s.recorder.Events(), gc.HasLen, 0)
}

func (s *connectionSuite) TestIDsAreUnique(c *gc.C) {
	conn1, _ := s.newConnection(c)
	conn2, _ := s.newConnection(c)
	c.Check(conn1.ID(), gc.Not(gc.Equals), conn2.ID())
}

func (s *connectionSuite) TestDialError(c *gc.C) {
	s.dialer.SetError(errors.NotValidf("address %q", "bogus"))
	_, err := connection.New(s.config(c))
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, `dialing "ws://appliance.example:8080/": address "bogus" not valid`)
}

func (s *connectionSuite) TestStateString(c *gc.C) {
	c.Check(connection.Connecting.String(), gc.Equals, "connecting")
	c.Check(connection.Open.String(), gc.Equals, "open")
	c.Check(connection.Closed.String(), gc.Equals, "closed")
	c.Check(connection.State(7).String(), gc.Equals, "state(7)")
}

func (s *connectionSuite) TestSendWhileConnectingQueues(c *gc.C) {
	conn, t := s.newConnection(c)

	c.Assert(conn.Send(request(c, 1, "ping")), jc.ErrorIsNil)
	c.Assert(conn.Send(request(c, 2, "ping")), jc.ErrorIsNil)

	c.Check(conn.Queued(), gc.Equals, 2)
	c.Check(t.Sent(), gc.HasLen, 0)
	c.Check(s.recorder.Events(), gc.HasLen, 0)
}

func (s *connectionSuite) TestSendNil(c *gc.C) {
	conn, _ := s.newConnection(c)
	err := conn.Send(nil)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(conn.Queued(), gc.Equals, 0)
}

func (s *connectionSuite) TestOpenFlushesInOrder(c *gc.C) {
	conn, t := s.newConnection(c)
	req1 := request(c, 1, "ping")
	req2 := request(c, 2, "add", jsonrpc.Int(1), jsonrpc.Int(2))
	c.Assert(conn.Send(req1), jc.ErrorIsNil)
	c.Assert(conn.Send(req2), jc.ErrorIsNil)

	t.Open()

	c.Check(conn.State(), gc.Equals, connection.Open)
	c.Check(conn.IsOpen(), jc.IsTrue)
	c.Check(conn.Queued(), gc.Equals, 0)
	c.Check(t.Sent(), jc.DeepEquals, []string{
		`{"jsonrpc":"2.0","method":"ping","id":1}`,
		`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":2}`,
	})
	c.Check(s.recorder.Events(), jc.DeepEquals, []testing.Event{
		{Name: rpcevents.ConnectionOpenedTopic, Source: address},
		{Name: rpcevents.RequestSentTopic, Source: conn, Data: req1},
		{Name: rpcevents.RequestSentTopic, Source: conn, Data: req2},
	})
}

func (s *connectionSuite) TestSendWhileOpen(c *gc.C) {
	conn, t := s.newConnection(c)
	t.Open()
	s.recorder.Reset()

	req := request(c, 3, "add", jsonrpc.Int(1), jsonrpc.Int(2))
	c.Assert(conn.Send(req), jc.ErrorIsNil)

	c.Check(conn.Queued(), gc.Equals, 0)
	c.Check(t.Sent(), jc.DeepEquals, []string{
		`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":3}`,
	})
	c.Check(s.recorder.Events(), jc.DeepEquals, []testing.Event{
		{Name: rpcevents.RequestSentTopic, Source: conn, Data: req},
	})
}

func (s *connectionSuite) TestSendFromOpenedListenerKeepsOrder(c *gc.C) {
	conn, t := s.newConnection(c)
	c.Assert(conn.Send(request(c, 1, "first")), jc.ErrorIsNil)
	c.Assert(conn.Send(request(c, 2, "second")), jc.ErrorIsNil)

	third := request(c, 3, "third")
	listener := eventbus.ListenerFunc(func(string, any, any) {
		c.Check(conn.Send(third), jc.ErrorIsNil)
	})
	c.Assert(s.bus.Subscribe(rpcevents.ConnectionOpenedTopic, listener), jc.ErrorIsNil)

	t.Open()

	c.Check(t.Sent(), jc.DeepEquals, []string{
		`{"jsonrpc":"2.0","method":"first","id":1}`,
		`{"jsonrpc":"2.0","method":"second","id":2}`,
		`{"jsonrpc":"2.0","method":"third","id":3}`,
	})
}

func (s *connectionSuite) TestOpenTwiceIgnored(c *gc.C) {
	conn, _ := s.newConnection(c)
	conn.OnOpen()
	conn.OnOpen()
	c.Check(s.recorder.Names(), jc.DeepEquals, []string{rpcevents.ConnectionOpenedTopic})
}

func (s *connectionSuite) TestMessagePublishesResponse(c *gc.C) {
	conn, t := s.newConnection(c)
	t.Open()
	s.recorder.Reset()

	t.Receive(`{"jsonrpc":"2.0","result":{"data":12.2},"id":101}`)

	events := s.recorder.Events()
	c.Assert(events, gc.HasLen, 1)
	c.Check(events[0].Name, gc.Equals, rpcevents.ResponseReceivedTopic)
	c.Check(events[0].Source, gc.Equals, address)
	resp, ok := events[0].Data.(*jsonrpc.Response)
	c.Assert(ok, jc.IsTrue)
	c.Check(resp.ID(), gc.Equals, jsonrpc.NumberID(101))
	c.Check(resp.ReceivedAt(), gc.Equals, s.clock.Now())
	result, ok := resp.Result()
	c.Assert(ok, jc.IsTrue)
	c.Check(result.Equal(jsonrpc.Object(jsonrpc.Member{Key: "data", Value: jsonrpc.Float(12.2)})), jc.IsTrue)
	c.Check(conn.State(), gc.Equals, connection.Open)
}

func (s *connectionSuite) TestMalformedMessagePublishesResponseError(c *gc.C) {
	conn, t := s.newConnection(c)
	t.Open()
	s.recorder.Reset()

	t.Receive(`not json`)
	t.Receive(`{"jsonrpc":"2.0","result":1}`)

	events := s.recorder.Events()
	c.Assert(events, gc.HasLen, 2)
	for _, e := range events {
		c.Check(e.Name, gc.Equals, rpcevents.ResponseErrorTopic)
		c.Check(e.Source, gc.Equals, address)
		err, ok := e.Data.(error)
		c.Assert(ok, jc.IsTrue)
		c.Check(err, jc.ErrorIs, jsonrpc.ErrMalformedResponse)
	}
	c.Check(conn.State(), gc.Equals, connection.Open)
}

func (s *connectionSuite) TestErrorPublishesTransportError(c *gc.C) {
	conn, t := s.newConnection(c)
	cause := errors.New("connection reset by peer")

	t.Fail(cause)

	c.Check(s.recorder.Events(), jc.DeepEquals, []testing.Event{
		{Name: rpcevents.TransportErrorTopic, Source: address, Data: cause},
	})
	c.Check(conn.State(), gc.Equals, connection.Connecting)
}

func (s *connectionSuite) TestCloseBeforeOpen(c *gc.C) {
	conn, t := s.newConnection(c)
	c.Assert(conn.Send(request(c, 1, "ping")), jc.ErrorIsNil)

	t.Drop(1006, "unreachable")

	c.Check(conn.State(), gc.Equals, connection.Closed)
	c.Check(s.recorder.Events(), jc.DeepEquals, []testing.Event{{
		Name:   rpcevents.ConnectionClosedTopic,
		Source: address,
		Data:   rpcevents.CloseDetails{Code: 1006, Reason: "unreachable"},
	}})

	// A late open is ignored once closed.
	conn.OnOpen()
	c.Check(conn.State(), gc.Equals, connection.Closed)
	c.Check(s.recorder.Events(), gc.HasLen, 1)
}

func (s *connectionSuite) TestClosedIsTerminal(c *gc.C) {
	conn, t := s.newConnection(c)
	t.Open()
	c.Assert(conn.Close(), jc.ErrorIsNil)
	c.Check(conn.State(), gc.Equals, connection.Closed)
	c.Check(conn.IsOpen(), jc.IsFalse)

	conn.OnClose(1000, "again")
	c.Check(s.recorder.Named(rpcevents.ConnectionClosedTopic), gc.HasLen, 1)

	// Requests sent after the close stay queued for a replacement.
	req := request(c, 9, "ping")
	c.Assert(conn.Send(req), jc.ErrorIsNil)
	c.Check(t.Sent(), gc.HasLen, 0)
	c.Check(conn.Undelivered(), jc.DeepEquals, []*jsonrpc.Request{req})
	c.Check(conn.Undelivered(), gc.HasLen, 0)
}

func (s *connectionSuite) TestUndeliveredOnlyWhenClosed(c *gc.C) {
	conn, t := s.newConnection(c)
	req1 := request(c, 1, "one")
	req2 := request(c, 2, "two")
	c.Assert(conn.Send(req1), jc.ErrorIsNil)
	c.Assert(conn.Send(req2), jc.ErrorIsNil)

	c.Check(conn.Undelivered(), gc.IsNil)
	c.Check(conn.Queued(), gc.Equals, 2)

	t.Drop(1001, "going away")
	c.Check(conn.Undelivered(), jc.DeepEquals, []*jsonrpc.Request{req1, req2})
	c.Check(conn.Queued(), gc.Equals, 0)
}

func (s *connectionSuite) TestSendAfterDrain(c *gc.C) {
	conn, t := s.newConnection(c)
	t.Drop(1006, "lost")
	c.Check(conn.Undelivered(), gc.HasLen, 0)

	err := conn.Send(request(c, 1, "ping"))
	c.Check(err, jc.ErrorIs, connection.ErrDrained)
	c.Check(conn.Queued(), gc.Equals, 0)
}

func (s *connectionSuite) TestCarriedOverRequestsGoFirst(c *gc.C) {
	carried := []*jsonrpc.Request{request(c, 1, "one"), request(c, 2, "two")}
	cfg := s.config(c)
	cfg.Queued = carried
	conn, err := connection.New(cfg)
	c.Assert(err, jc.ErrorIsNil)
	t := s.dialer.Last()
	c.Check(conn.Queued(), gc.Equals, 2)

	c.Assert(conn.Send(request(c, 3, "three")), jc.ErrorIsNil)
	t.Open()
	c.Check(t.Sent(), jc.DeepEquals, []string{
		`{"jsonrpc":"2.0","method":"one","id":1}`,
		`{"jsonrpc":"2.0","method":"two","id":2}`,
		`{"jsonrpc":"2.0","method":"three","id":3}`,
	})

	cfg.Queued = []*jsonrpc.Request{nil}
	_, err = connection.New(cfg)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *connectionSuite) TestConcurrentSendsDuringOpen(c *gc.C) {
	conn, t := s.newConnection(c)

	const (
		senders = 8
		each    = 25
	)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < each; i++ {
				req := request(c, int64(g*1000+i), fmt.Sprintf("sender%d", g))
				c.Check(conn.Send(req), jc.ErrorIsNil)
			}
		}(g)
	}
	close(start)
	t.Open()
	wg.Wait()

	sent := t.Sent()
	c.Assert(sent, gc.HasLen, senders*each)
	next := make(map[int64]int64)
	for _, text := range sent {
		req, err := jsonrpc.ParseRequest(text)
		c.Assert(err, jc.ErrorIsNil)
		id, ok := req.ID().Int64()
		c.Assert(ok, jc.IsTrue)
		g, i := id/1000, id%1000
		c.Check(i, gc.Equals, next[g], gc.Commentf("sender %d out of order", g))
		next[g] = i + 1
	}
	c.Check(conn.Queued(), gc.Equals, 0)
}

type connectionMockSuite struct {
	clock     *testclock.Clock
	bus       *eventbus.Bus
	recorder  *testing.EventRecorder
	transport *mocks.MockTransport
}

var _ = gc.Suite(&connectionMockSuite{})

func (s *connectionMockSuite) SetUpTest(c *gc.C) {
	s.clock = testclock.NewClock(time.Now())
	s.bus = eventbus.New()
	var err error
	s.recorder, err = testing.RecordEvents(s.bus, rpcevents.AllTopics()...)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *connectionMockSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.transport = mocks.NewMockTransport(ctrl)
	return ctrl
}

func (s *connectionMockSuite) newConnection(c *gc.C) *connection.Connection {
	conn, err := connection.New(connection.Config{
		Address: address,
		Dial: func(string, transport.Handler) (transport.Transport, error) {
			return s.transport, nil
		},
		Bus:    s.bus,
		Clock:  s.clock,
		Logger: testing.NewCheckLogger(c),
	})
	c.Assert(err, jc.ErrorIsNil)
	return conn
}

func (s *connectionMockSuite) TestFlushStopsOnWriteFailure(c *gc.C) {
	defer s.setupMocks(c).Finish()

	cause := errors.New("broken pipe")
	gomock.InOrder(
		s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"one","id":1}`).Return(nil),
		s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"two","id":2}`).Return(cause),
		// Retried, in order, by the next send.
		s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"two","id":2}`).Return(nil),
		s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"three","id":3}`).Return(nil),
		s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"four","id":4}`).Return(nil),
	)

	conn := s.newConnection(c)
	req1 := request(c, 1, "one")
	req2 := request(c, 2, "two")
	c.Assert(conn.Send(req1), jc.ErrorIsNil)
	c.Assert(conn.Send(req2), jc.ErrorIsNil)
	c.Assert(conn.Send(request(c, 3, "three")), jc.ErrorIsNil)

	conn.OnOpen()

	c.Check(conn.Queued(), gc.Equals, 2)
	c.Check(s.recorder.Events(), jc.DeepEquals, []testing.Event{
		{Name: rpcevents.ConnectionOpenedTopic, Source: address},
		{Name: rpcevents.RequestSentTopic, Source: conn, Data: req1},
		{Name: rpcevents.TransportErrorTopic, Source: address, Data: cause},
	})

	c.Assert(conn.Send(request(c, 4, "four")), jc.ErrorIsNil)
	c.Check(conn.Queued(), gc.Equals, 0)
}

func (s *connectionMockSuite) TestDirectSendFailure(c *gc.C) {
	defer s.setupMocks(c).Finish()

	cause := errors.New("broken pipe")
	s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"ping","id":5}`).Return(cause)

	conn := s.newConnection(c)
	conn.OnOpen()
	s.recorder.Reset()

	err := conn.Send(request(c, 5, "ping"))
	c.Check(err, jc.ErrorIs, cause)
	c.Check(err, gc.ErrorMatches, "sending request 5: broken pipe")
	c.Check(conn.Queued(), gc.Equals, 0)
	c.Check(s.recorder.Events(), jc.DeepEquals, []testing.Event{
		{Name: rpcevents.TransportErrorTopic, Source: address, Data: cause},
	})
}

func (s *connectionMockSuite) TestSendFailsAfterConcurrentClose(c *gc.C) {
	defer s.setupMocks(c).Finish()

	var conn *connection.Connection
	cause := errors.New("websocket not open")
	s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"ping","id":6}`).DoAndReturn(func(string) error {
		conn.OnClose(1006, "abnormal closure")
		return cause
	})

	conn = s.newConnection(c)
	conn.OnOpen()
	s.recorder.Reset()

	req := request(c, 6, "ping")
	c.Assert(conn.Send(req), jc.ErrorIsNil)
	c.Check(conn.State(), gc.Equals, connection.Closed)
	c.Check(conn.Queued(), gc.Equals, 1)
	c.Check(conn.Undelivered(), jc.DeepEquals, []*jsonrpc.Request{req})
}

func (s *connectionMockSuite) TestSendFailsAfterConcurrentDrain(c *gc.C) {
	defer s.setupMocks(c).Finish()

	var conn *connection.Connection
	s.transport.EXPECT().Send(`{"jsonrpc":"2.0","method":"ping","id":7}`).DoAndReturn(func(string) error {
		conn.OnClose(1006, "abnormal closure")
		c.Check(conn.Undelivered(), gc.HasLen, 0)
		return errors.New("websocket not open")
	})

	conn = s.newConnection(c)
	conn.OnOpen()

	err := conn.Send(request(c, 7, "ping"))
	c.Check(err, jc.ErrorIs, connection.ErrDrained)
	c.Check(conn.Queued(), gc.Equals, 0)
}

func (s *connectionMockSuite) TestCloseClosesTransport(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.transport.EXPECT().Close().Return(nil)

	conn := s.newConnection(c)
	c.Assert(conn.Close(), jc.ErrorIsNil)
	// The state only changes once the transport reports the close.
	c.Check(conn.State(), gc.Equals, connection.Connecting)
}
