// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"sync"

	"github.com/juju/errors"

	"github.com/juju/logiq/pubsub/eventbus"
)

// Event is one notification seen by an EventRecorder.
type Event struct {
	Name   string
	Source any
	Data   any
}

// EventRecorder is an eventbus.Listener that remembers what it saw.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

// RecordEvents subscribes a new recorder to the given events on bus.
func RecordEvents(bus *eventbus.Bus, names ...string) (*EventRecorder, error) {
	r := &EventRecorder{}
	for _, name := range names {
		if err := bus.Subscribe(name, r); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return r, nil
}

// Update is part of the eventbus.Listener interface.
func (r *EventRecorder) Update(name string, source, data any) {
	r.mu.Lock()
	r.events = append(r.events, Event{Name: name, Source: source, Data: data})
	r.mu.Unlock()
}

// Events returns everything recorded so far.
func (r *EventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the names of the recorded events, in order.
func (r *EventRecorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

// Named returns the recorded events with the given name.
func (r *EventRecorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
