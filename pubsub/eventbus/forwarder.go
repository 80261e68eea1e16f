// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package eventbus

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
)

// Message is what a Forwarder publishes on the hub for each event.
type Message struct {
	Source any
	Data   any
}

// Forwarder republishes bus events onto a pubsub.SimpleHub, where
// subscribers are notified asynchronously. Use it for consumers that
// must not run on the publishing goroutine.
type Forwarder struct {
	bus    *Bus
	hub    *pubsub.SimpleHub
	events []string
}

// NewForwarder subscribes a forwarder for the given events to bus.
// Repeated event names are forwarded once.
func NewForwarder(bus *Bus, hub *pubsub.SimpleHub, events ...string) (*Forwarder, error) {
	if bus == nil {
		return nil, errors.NotValidf("nil bus")
	}
	if hub == nil {
		return nil, errors.NotValidf("nil hub")
	}
	if len(events) == 0 {
		return nil, errors.NotValidf("no events to forward")
	}
	f := &Forwarder{
		bus:    bus,
		hub:    hub,
		events: set.NewStrings(events...).SortedValues(),
	}
	for _, event := range f.events {
		if err := bus.Subscribe(event, f); err != nil {
			_ = bus.Unsubscribe(f)
			return nil, errors.Annotatef(err, "forwarding %q", event)
		}
	}
	return f, nil
}

// Update is part of the Listener interface.
func (f *Forwarder) Update(event string, source, data any) {
	logger.Tracef("forwarding %q to hub", event)
	_ = f.hub.Publish(event, Message{Source: source, Data: data})
}

// Stop unsubscribes the forwarder from the bus.
func (f *Forwarder) Stop() error {
	return errors.Trace(f.bus.Unsubscribe(f))
}
