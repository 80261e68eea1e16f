// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"

	"github.com/juju/logiq/api"
	"github.com/juju/logiq/cmd"
	"github.com/juju/logiq/pubsub/eventbus"
	"github.com/juju/logiq/pubsub/rpcevents"
	"github.com/juju/logiq/rpc/connection"
	"github.com/juju/logiq/rpc/jsonrpc"
	"github.com/juju/logiq/rpc/metrics"
	"github.com/juju/logiq/rpc/pending"
	"github.com/juju/logiq/rpc/transport/websocket"
	"github.com/juju/logiq/version"
)

var logger = loggo.GetLogger("logiq.cmd.logiqcall")

const (
	defaultTimeout    = 30 * time.Second
	defaultAttempts   = 3
	defaultRetryDelay = time.Second

	// flushedTopic is published on the event hub once the call is
	// over; every event before it has been printed when it is handled.
	flushedTopic = "logiq-call-flushed"
)

const callDoc = `
Call a method on a LogIQ appliance and print its result.

Each param is parsed as JSON. A param that is not valid JSON is sent
as a string, so

    logiq-call --address wss://appliance/api search 'status:500' 25

sends ["status:500", 25].

Settings may also be read from a YAML file given with --config:

    address: wss://appliance/api
    timeout: 10s
    attempts: 5
    retry-delay: 2s
    headers:
      Authorization: Bearer 0123456789

Flags override the file. A call is retried when the appliance cannot
be reached or does not answer in time; an error returned by the
appliance is not retried.
`

// callConfig holds the settings that may come from the config file.
type callConfig struct {
	Address    string            `yaml:"address"`
	Timeout    time.Duration     `yaml:"timeout"`
	Attempts   int               `yaml:"attempts"`
	RetryDelay time.Duration     `yaml:"retry-delay"`
	Headers    map[string]string `yaml:"headers"`
}

// parseConfig reads a config file.
func parseConfig(data []byte) (callConfig, error) {
	var cfg callConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return callConfig{}, errors.Annotate(err, "parsing config")
	}
	if cfg.Timeout < 0 {
		return callConfig{}, errors.NotValidf("negative timeout")
	}
	if cfg.Attempts < 0 {
		return callConfig{}, errors.NotValidf("negative attempts")
	}
	if cfg.RetryDelay < 0 {
		return callConfig{}, errors.NotValidf("negative retry-delay")
	}
	return cfg, nil
}

// headerValue implements gnuflag.Value for a repeated --header flag.
type headerValue struct {
	header http.Header
}

func (v *headerValue) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return errors.NotValidf("header %q, expected name:value", s)
	}
	if v.header == nil {
		v.header = make(http.Header)
	}
	v.header.Add(name, strings.TrimSpace(value))
	return nil
}

func (v *headerValue) String() string {
	names := make([]string, 0, len(v.header))
	for name := range v.header {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

type callCommand struct {
	out        cmd.Output
	log        *cmd.Log
	configFile cmd.FileVar
	headers    headerValue

	address     string
	timeout     time.Duration
	attempts    int
	retryDelay  time.Duration
	showEvents  bool
	showMetrics bool

	method string
	params []jsonrpc.Value

	// clock and dialerConfig are replaced in tests.
	clock        clock.Clock
	dialerConfig func() websocket.DialerConfig
}

func newCallCommand() *callCommand {
	return &callCommand{
		log:          cmd.NewLog(),
		clock:        clock.WallClock,
		dialerConfig: websocket.DefaultDialerConfig,
	}
}

// Info implements cmd.Command.
func (c *callCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "logiq-call",
		Args:    "<method> [<param> ...]",
		Purpose: "Call a method on a LogIQ appliance.",
		Doc:     callDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *callCommand) SetFlags(f *gnuflag.FlagSet) {
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
	c.log.AddFlags(f)
	f.Var(&c.configFile, "config", "Path to a YAML file with call settings")
	f.StringVar(&c.address, "address", "", "The websocket address of the appliance")
	f.DurationVar(&c.timeout, "timeout", 0, fmt.Sprintf("How long to wait for each attempt (default %v)", defaultTimeout))
	f.IntVar(&c.attempts, "attempts", 0, fmt.Sprintf("How many times to try the call (default %d)", defaultAttempts))
	f.DurationVar(&c.retryDelay, "retry-delay", 0, fmt.Sprintf("How long to wait between attempts (default %v)", defaultRetryDelay))
	f.Var(&c.headers, "H", "Add a name:value header to the handshake")
	f.Var(&c.headers, "header", "")
	f.BoolVar(&c.showEvents, "events", false, "Print connection events to stderr")
	f.BoolVar(&c.showMetrics, "metrics", false, "Print connection metrics to stderr after the call")
}

// Init implements cmd.Command.
func (c *callCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no method specified")
	}
	c.method, args = args[0], args[1:]
	c.params = make([]jsonrpc.Value, len(args))
	for i, arg := range args {
		v, err := jsonrpc.ParseValue([]byte(arg))
		if err != nil {
			v = jsonrpc.String(arg)
		}
		c.params[i] = v
	}
	if c.timeout < 0 {
		return errors.NotValidf("negative timeout")
	}
	if c.attempts < 0 {
		return errors.NotValidf("negative attempts")
	}
	if c.retryDelay < 0 {
		return errors.NotValidf("negative retry-delay")
	}
	return nil
}

// resolve merges the config file, the flags and the defaults.
func (c *callCommand) resolve(ctx *cmd.Context) (callConfig, error) {
	var cfg callConfig
	if c.configFile.Path != "" {
		data, err := c.configFile.Read(ctx)
		if err != nil {
			return callConfig{}, errors.Trace(err)
		}
		if cfg, err = parseConfig(data); err != nil {
			return callConfig{}, errors.Annotatef(err, "reading %s", c.configFile.Path)
		}
	}
	if c.address != "" {
		cfg.Address = c.address
	}
	if c.timeout > 0 {
		cfg.Timeout = c.timeout
	}
	if c.attempts > 0 {
		cfg.Attempts = c.attempts
	}
	if c.retryDelay > 0 {
		cfg.RetryDelay = c.retryDelay
	}
	for name, values := range c.headers.header {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[name] = strings.Join(values, ", ")
	}

	if cfg.Address == "" {
		return callConfig{}, errors.New("no appliance address specified")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return cfg, nil
}

// Run implements cmd.Command.
func (c *callCommand) Run(ctx *cmd.Context) error {
	if err := c.log.Start(ctx); err != nil {
		return errors.Trace(err)
	}
	cfg, err := c.resolve(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	bus := eventbus.New()
	collector := metrics.NewMetricsCollector()
	if err := collector.Subscribe(bus); err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = collector.Unsubscribe(bus) }()
	if c.showEvents {
		stop, err := c.printEvents(ctx, bus)
		if err != nil {
			return errors.Trace(err)
		}
		defer stop()
	}

	dialerConfig := c.dialerConfig()
	dialerConfig.Header = http.Header{"User-Agent": {version.UserAgent()}}
	for name, value := range cfg.Headers {
		dialerConfig.Header.Set(name, value)
	}
	dialer, err := websocket.NewDialer(dialerConfig)
	if err != nil {
		return errors.Trace(err)
	}
	tracker, err := pending.NewTracker(pending.Config{
		Bus:     bus,
		Clock:   c.clock,
		Timeout: cfg.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = tracker.Close() }()

	var resp *jsonrpc.Response
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			resp, err = c.attempt(cfg.Address, dialer, bus, tracker)
			return err
		},
		IsFatalError: isFatal,
		NotifyFunc: func(err error, attempt int) {
			logger.Infof("attempt %d of %s failed: %v", attempt, c.method, err)
		},
		Attempts: cfg.Attempts,
		Delay:    cfg.RetryDelay,
		Clock:    c.clock,
	})
	if c.showMetrics {
		if merr := writeMetrics(ctx, collector); merr != nil {
			logger.Warningf("writing metrics: %v", merr)
		}
	}
	if retry.IsAttemptsExceeded(err) {
		return errors.Annotatef(retry.LastError(err), "calling %s after %d attempts", c.method, cfg.Attempts)
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return errors.Errorf("appliance returned %v", rpcErr)
	}
	if err != nil {
		return errors.Trace(err)
	}
	result, _ := resp.Result()
	out, err := plainValue(result)
	if err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, out)
}

// plainValue converts v to plain Go values, with numbers as int or
// float64, so every formatter renders them the same way.
func plainValue(v jsonrpc.Value) (any, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, errors.Trace(err)
	}
	// JSON is a subset of YAML.
	var out any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

// errConnectionClosed ends an attempt whose connection closed before
// the response arrived.
const errConnectionClosed = errors.ConstError("connection closed")

// closeWatcher passes events through to the bus, and reports when a
// connection of the current attempt closes.
type closeWatcher struct {
	connection.Publisher
	closed func(rpcevents.CloseDetails)
}

func (w closeWatcher) Publish(event string, source, data any) error {
	if event == rpcevents.ConnectionClosedTopic {
		details, _ := data.(rpcevents.CloseDetails)
		w.closed(details)
	}
	return w.Publisher.Publish(event, source, data)
}

// attempt makes a single call on a fresh server handle. Requests left
// undelivered by an earlier attempt are dropped with its handle.
func (c *callCommand) attempt(address string, dialer *websocket.Dialer, bus *eventbus.Bus, tracker *pending.Tracker) (*jsonrpc.Response, error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	server, err := api.NewServer(api.ServerConfig{
		Address: address,
		Dial:    dialer.Dial,
		Bus: closeWatcher{
			Publisher: bus,
			closed: func(details rpcevents.CloseDetails) {
				cancel(errors.Annotatef(errConnectionClosed, "code %d %q", details.Code, details.Reason))
			},
		},
		Clock: c.clock,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func() { _ = server.Close() }()

	req, err := jsonrpc.NewRequest(c.method, c.params, jsonrpc.WithCreated(c.clock.Now()))
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("calling %s", req.Pretty(200))
	resp, err := tracker.Call(ctx, server, req)
	var rpcErr *jsonrpc.Error
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &rpcErr):
		return resp, rpcErr
	case errors.Is(err, context.Canceled) && context.Cause(ctx) != nil:
		return nil, context.Cause(ctx)
	}
	return nil, errors.Trace(err)
}

func isFatal(err error) bool {
	var rpcErr *jsonrpc.Error
	return errors.As(err, &rpcErr) || errors.Is(err, errors.NotValid)
}

// printEvents writes every connection event to stderr. Events are
// delivered through a hub, so printing never blocks a connection.
func (c *callCommand) printEvents(ctx *cmd.Context, bus *eventbus.Bus) (func(), error) {
	hub := pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
		Logger: loggo.GetLogger("logiq.cmd.logiqcall.hub"),
	})
	var mu sync.Mutex
	unsubscribe := hub.SubscribeMatch(func(string) bool { return true }, func(topic string, data any) {
		m, ok := data.(eventbus.Message)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(ctx.Stderr, "event %s from %v%s\n", topic, m.Source, describe(m.Data))
	})
	fwd, err := eventbus.NewForwarder(bus, hub, rpcevents.AllTopics()...)
	if err != nil {
		unsubscribe()
		return nil, errors.Trace(err)
	}
	return func() {
		_ = fwd.Stop()
		wait := hub.Publish(flushedTopic, nil)
		flushed := make(chan struct{})
		go func() {
			wait()
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-c.clock.After(5 * time.Second):
			logger.Warningf("timed out printing events")
		}
		unsubscribe()
	}, nil
}

func describe(data any) string {
	switch d := data.(type) {
	case *jsonrpc.Request:
		return ": " + d.Pretty(80)
	case *jsonrpc.Response:
		return ": " + d.Pretty(80)
	case []*jsonrpc.Request:
		return fmt.Sprintf(": %d requests", len(d))
	case rpcevents.CloseDetails:
		return fmt.Sprintf(": code %d %q", d.Code, d.Reason)
	case error:
		return ": " + d.Error()
	}
	return ""
}

func writeMetrics(ctx *cmd.Context, collector prometheus.Collector) error {
	registry := prometheus.NewPedanticRegistry()
	if err := registry.Register(collector); err != nil {
		return errors.Trace(err)
	}
	families, err := registry.Gather()
	if err != nil {
		return errors.Trace(err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(ctx.Stderr, family); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
