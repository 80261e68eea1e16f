// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package eventbus provides a synchronous publish/subscribe registry.
//
// Listeners are registered against an event name and are notified in
// the order they subscribed. Publishing calls every listener in turn
// on the publishing goroutine; a listener that panics is logged and
// skipped so that the remaining listeners are still notified.
package eventbus

import (
	"reflect"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("logiq.pubsub.eventbus")

// Listener is notified of events it has subscribed to.
type Listener interface {
	// Update is called with the name of the event, the object that
	// published it and any event data.
	Update(event string, source, data any)
}

// FuncListener adapts a function to the Listener interface. Use
// ListenerFunc to create one; the returned pointer is the identity
// used by Subscribe and Unsubscribe.
type FuncListener struct {
	fn func(event string, source, data any)
}

// ListenerFunc returns a Listener that calls fn.
func ListenerFunc(fn func(event string, source, data any)) *FuncListener {
	return &FuncListener{fn: fn}
}

// Update is part of the Listener interface.
func (l *FuncListener) Update(event string, source, data any) {
	l.fn(event, source, data)
}

// Bus maps event names to ordered sets of listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]Listener),
	}
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide bus, creating it on first use.
// Components take a *Bus explicitly; Default is for applications that
// want a single shared instance.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}

func checkListener(l Listener) error {
	if l == nil {
		return errors.NotValidf("nil listener")
	}
	v := reflect.ValueOf(l)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return errors.NotValidf("nil listener")
	}
	// Identity is by ==, which panics at run time on a value holding
	// a slice, map or func, even behind a comparable type.
	if !v.Comparable() {
		return errors.NotValidf("listener of uncomparable type %T", l)
	}
	return nil
}

// Subscribe adds l to the listeners of event. Subscribing the same
// listener to the same event more than once has no further effect.
func (b *Bus) Subscribe(event string, l Listener) error {
	if event == "" {
		return errors.NotValidf("empty event name")
	}
	if err := checkListener(l); err != nil {
		return errors.Trace(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.listeners[event] {
		if existing == l {
			return nil
		}
	}
	b.listeners[event] = append(b.listeners[event], l)
	return nil
}

// Unsubscribe removes l from the listeners of the given events, or
// from every event if none are given.
func (b *Bus) Unsubscribe(l Listener, events ...string) error {
	if err := checkListener(l); err != nil {
		return errors.Trace(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(events) == 0 {
		for event := range b.listeners {
			b.remove(event, l)
		}
		return nil
	}
	for _, event := range events {
		b.remove(event, l)
	}
	return nil
}

// remove must be called with mu held.
func (b *Bus) remove(event string, l Listener) {
	listeners := b.listeners[event]
	for i, existing := range listeners {
		if existing != l {
			continue
		}
		// Copy rather than splice in place, since Publish may be
		// iterating over a snapshot sharing the old backing array.
		updated := make([]Listener, 0, len(listeners)-1)
		updated = append(updated, listeners[:i]...)
		updated = append(updated, listeners[i+1:]...)
		if len(updated) == 0 {
			delete(b.listeners, event)
		} else {
			b.listeners[event] = updated
		}
		return
	}
}

// Publish notifies every listener of event, in subscription order,
// passing source and data through untouched. Publishing an event
// nobody listens to does nothing.
func (b *Bus) Publish(event string, source, data any) error {
	if event == "" {
		return errors.NotValidf("empty event name")
	}

	b.mu.RLock()
	listeners := b.listeners[event]
	b.mu.RUnlock()

	for _, l := range listeners {
		notify(l, event, source, data)
	}
	return nil
}

func notify(l Listener, event string, source, data any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("listener %T panicked handling %q: %v", l, event, r)
		}
	}()
	l.Update(event, source, data)
}

// Count returns the number of listeners subscribed to event.
func (b *Bus) Count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}
