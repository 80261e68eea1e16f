// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc

import (
	"encoding/json"
	"time"

	"github.com/juju/errors"
)

// Version is the protocol version tag carried by every message.
const Version = "2.0"

// Request is an outbound call. A Request is immutable once created.
type Request struct {
	method  string
	params  []Value
	id      ID
	created time.Time
}

type requestOptions struct {
	id      *ID
	created time.Time
}

// RequestOption customises a new Request.
type RequestOption func(*requestOptions)

// WithID makes the request use id rather than the next id from the
// process-wide generator.
func WithID(id ID) RequestOption {
	return func(o *requestOptions) {
		o.id = &id
	}
}

// WithCreated records when the request was created.
func WithCreated(t time.Time) RequestOption {
	return func(o *requestOptions) {
		o.created = t
	}
}

// NewRequest returns a request calling method with the given
// positional params.
func NewRequest(method string, params []Value, opts ...RequestOption) (*Request, error) {
	if method == "" {
		return nil, errors.NotValidf("empty method")
	}
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	req := &Request{
		method:  method,
		params:  append([]Value{}, params...),
		created: o.created,
	}
	if o.id != nil {
		req.id = *o.id
	} else {
		req.id = NextID()
	}
	return req, nil
}

// NewRequestFromAny is like NewRequest but converts params, which
// must be a slice or array of JSON-compatible Go values.
func NewRequestFromAny(method string, params any, opts ...RequestOption) (*Request, error) {
	if method == "" {
		return nil, errors.NotValidf("empty method")
	}
	values, err := ValuesOf(params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewRequest(method, values, opts...)
}

// Method returns the name of the method to invoke.
func (r *Request) Method() string {
	return r.method
}

// Params returns a copy of the positional parameters.
func (r *Request) Params() []Value {
	return append([]Value{}, r.params...)
}

// ID returns the request id.
func (r *Request) ID() ID {
	return r.id
}

// Created returns the time given with WithCreated, if any.
func (r *Request) Created() time.Time {
	return r.created
}

type wireRequest struct {
	JSONRPC string  `json:"jsonrpc"`
	Method  string  `json:"method"`
	Params  []Value `json:"params,omitempty"`
	ID      ID      `json:"id"`
}

// MarshalJSON implements json.Marshaler. The params member is left
// out when there are no params.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRequest{
		JSONRPC: Version,
		Method:  r.method,
		Params:  r.params,
		ID:      r.id,
	})
}

// Encode returns the wire form of the request.
func (r *Request) Encode() (string, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return "", errors.Annotatef(err, "encoding request %s", r.id)
	}
	return string(data), nil
}

// ParseRequest decodes a request from its wire form. Only requests
// with positional params and an id are accepted.
func ParseRequest(text string) (*Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, errors.NewNotValid(err, "request")
	}
	if err := checkVersion(raw); err != nil {
		return nil, errors.NewNotValid(err, "request")
	}
	var method string
	if err := json.Unmarshal(raw["method"], &method); err != nil || method == "" {
		return nil, errors.NotValidf("request without method")
	}
	idData, ok := raw["id"]
	if !ok {
		return nil, errors.NotValidf("request without id")
	}
	var id ID
	if err := json.Unmarshal(idData, &id); err != nil {
		return nil, errors.Trace(err)
	}
	var params []Value
	if data, ok := raw["params"]; ok {
		v, err := ParseValue(data)
		if err != nil {
			return nil, errors.NewNotValid(err, "request params")
		}
		if params, err = v.AsArray(); err != nil {
			return nil, errors.NotValidf("request params of kind %s", v.Kind())
		}
	}
	return NewRequest(method, params, WithID(id))
}

func checkVersion(raw map[string]json.RawMessage) error {
	data, ok := raw["jsonrpc"]
	if !ok {
		return nil
	}
	var version string
	if err := json.Unmarshal(data, &version); err != nil || version != Version {
		return errors.Errorf("unsupported jsonrpc version %s", data)
	}
	return nil
}
