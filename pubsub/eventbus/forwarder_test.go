// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package eventbus_test

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/logiq/pubsub/eventbus"
	"github.com/juju/logiq/testing"
)

type ForwarderSuite struct {
	bus *eventbus.Bus
	hub *pubsub.SimpleHub
}

var _ = gc.Suite(&ForwarderSuite{})

func (s *ForwarderSuite) SetUpTest(c *gc.C) {
	s.bus = eventbus.New()
	s.hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
		Logger: testing.NewCheckLogger(c),
	})
}

func (*ForwarderSuite) waitForMessage(c *gc.C, received <-chan eventbus.Message) eventbus.Message {
	select {
	case m := <-received:
		return m
	case <-time.After(testing.LongWait):
		c.Fatal("message not forwarded")
	}
	panic("unreachable")
}

func (s *ForwarderSuite) TestForwardsSelectedEvents(c *gc.C) {
	received := make(chan eventbus.Message, 10)
	unsub := s.hub.Subscribe("connection-opened", func(topic string, data interface{}) {
		c.Check(topic, gc.Equals, "connection-opened")
		m, ok := data.(eventbus.Message)
		c.Check(ok, jc.IsTrue)
		received <- m
	})
	defer unsub()

	fwd, err := eventbus.NewForwarder(s.bus, s.hub, "connection-opened")
	c.Assert(err, jc.ErrorIsNil)
	defer func() { c.Check(fwd.Stop(), jc.ErrorIsNil) }()

	c.Assert(s.bus.Publish("connection-opened", "ws://appliance", nil), jc.ErrorIsNil)
	m := s.waitForMessage(c, received)
	c.Check(m, jc.DeepEquals, eventbus.Message{Source: "ws://appliance"})
}

func (s *ForwarderSuite) TestStopUnsubscribes(c *gc.C) {
	fwd, err := eventbus.NewForwarder(s.bus, s.hub, "e1", "e2")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.bus.Count("e1"), gc.Equals, 1)
	c.Check(s.bus.Count("e2"), gc.Equals, 1)

	c.Assert(fwd.Stop(), jc.ErrorIsNil)
	c.Check(s.bus.Count("e1"), gc.Equals, 0)
	c.Check(s.bus.Count("e2"), gc.Equals, 0)
}

func (s *ForwarderSuite) TestValidation(c *gc.C) {
	_, err := eventbus.NewForwarder(nil, s.hub, "e")
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = eventbus.NewForwarder(s.bus, nil, "e")
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = eventbus.NewForwarder(s.bus, s.hub)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = eventbus.NewForwarder(s.bus, s.hub, "")
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(s.bus.Count(""), gc.Equals, 0)
}
