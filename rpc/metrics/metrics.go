// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metrics exposes appliance connection activity to prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/logiq/pubsub/eventbus"
	"github.com/juju/logiq/pubsub/rpcevents"
	"github.com/juju/logiq/rpc/jsonrpc"
)

const metricsNamespace = "logiq_rpc"

const (
	addressLabel = "address"
	outcomeLabel = "outcome"
	codeLabel    = "code"

	outcomeResult = "result"
	outcomeError  = "error"
)

// Bus is the part of the event bus the collector uses.
type Bus interface {
	Subscribe(event string, l eventbus.Listener) error
	Unsubscribe(l eventbus.Listener, events ...string) error
}

// Collector is a prometheus.Collector that counts the events published
// by appliance connections. It is an eventbus.Listener.
type Collector struct {
	requestsSent      *prometheus.CounterVec
	responses         *prometheus.CounterVec
	responseErrors    *prometheus.CounterVec
	transportErrors   *prometheus.CounterVec
	connectionsOpened *prometheus.CounterVec
	connectionsClosed *prometheus.CounterVec
	requestsForwarded *prometheus.CounterVec
	openConnections   *prometheus.GaugeVec

	mu   sync.Mutex
	open map[string]int
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requestsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_sent_total",
				Help:      "The number of requests written to an appliance.",
			}, []string{addressLabel},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "responses_received_total",
				Help:      "The number of responses received, by outcome.",
			}, []string{addressLabel, outcomeLabel},
		),
		responseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "malformed_responses_total",
				Help:      "The number of inbound messages that could not be parsed.",
			}, []string{addressLabel},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transport_errors_total",
				Help:      "The number of errors reported by the transport.",
			}, []string{addressLabel},
		),
		connectionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connections_opened_total",
				Help:      "The number of connections that opened.",
			}, []string{addressLabel},
		),
		connectionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connections_closed_total",
				Help:      "The number of connections that closed, by close code.",
			}, []string{addressLabel, codeLabel},
		),
		requestsForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_forwarded_total",
				Help:      "The number of queued requests moved to a new connection.",
			}, []string{addressLabel},
		),
		openConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "open_connections",
				Help:      "The number of open connections.",
			}, []string{addressLabel},
		),
		open: make(map[string]int),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requestsSent.Describe(ch)
	c.responses.Describe(ch)
	c.responseErrors.Describe(ch)
	c.transportErrors.Describe(ch)
	c.connectionsOpened.Describe(ch)
	c.connectionsClosed.Describe(ch)
	c.requestsForwarded.Describe(ch)
	c.openConnections.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requestsSent.Collect(ch)
	c.responses.Collect(ch)
	c.responseErrors.Collect(ch)
	c.transportErrors.Collect(ch)
	c.connectionsOpened.Collect(ch)
	c.connectionsClosed.Collect(ch)
	c.requestsForwarded.Collect(ch)
	c.openConnections.Collect(ch)
}

// Subscribe registers the collector for every connection event.
func (c *Collector) Subscribe(bus Bus) error {
	for _, topic := range rpcevents.AllTopics() {
		if err := bus.Subscribe(topic, c); err != nil {
			return errors.Annotatef(err, "subscribing to %q", topic)
		}
	}
	return nil
}

// Unsubscribe removes the collector from the bus.
func (c *Collector) Unsubscribe(bus Bus) error {
	return errors.Trace(bus.Unsubscribe(c))
}

// Update is part of the eventbus.Listener interface.
func (c *Collector) Update(event string, source, data any) {
	address := addressOf(source)
	switch event {
	case rpcevents.RequestSentTopic:
		c.requestsSent.WithLabelValues(address).Inc()
	case rpcevents.ResponseReceivedTopic:
		outcome := outcomeResult
		if resp, ok := data.(*jsonrpc.Response); ok && resp.RPCError() != nil {
			outcome = outcomeError
		}
		c.responses.WithLabelValues(address, outcome).Inc()
	case rpcevents.ResponseErrorTopic:
		c.responseErrors.WithLabelValues(address).Inc()
	case rpcevents.TransportErrorTopic:
		c.transportErrors.WithLabelValues(address).Inc()
	case rpcevents.ConnectionOpenedTopic:
		c.connectionsOpened.WithLabelValues(address).Inc()
		c.mu.Lock()
		c.open[address]++
		c.openConnections.WithLabelValues(address).Set(float64(c.open[address]))
		c.mu.Unlock()
	case rpcevents.ConnectionClosedTopic:
		code := "unknown"
		if details, ok := data.(rpcevents.CloseDetails); ok {
			code = strconv.Itoa(details.Code)
		}
		c.connectionsClosed.WithLabelValues(address, code).Inc()
		// Connections that close without opening were never counted.
		c.mu.Lock()
		if c.open[address] > 0 {
			c.open[address]--
			c.openConnections.WithLabelValues(address).Set(float64(c.open[address]))
		}
		c.mu.Unlock()
	case rpcevents.RequestsForwardedTopic:
		if reqs, ok := data.([]*jsonrpc.Request); ok {
			c.requestsForwarded.WithLabelValues(address).Add(float64(len(reqs)))
		}
	}
}

func addressOf(source any) string {
	switch s := source.(type) {
	case string:
		return s
	case interface{ Address() string }:
		return s.Address()
	}
	return "unknown"
}
